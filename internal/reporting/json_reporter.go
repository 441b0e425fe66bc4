// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/observability"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary totals a run.
type Summary struct {
	Total      int   `json:"total"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// Summarize counts the results of report.
func Summarize(report *suite.Report) Summary {
	return Summary{
		Total:      len(report.Results),
		Passed:     report.Count(suite.StatusPassed),
		Failed:     report.Count(suite.StatusFailed),
		Skipped:    report.Count(suite.StatusSkipped),
		DurationMS: report.Duration().Milliseconds(),
	}
}

type jsonDocument struct {
	*suite.Report
	Summary Summary `json:"summary"`
}

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
	}
}

func (r *JSONReporter) Write(report *suite.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jsonDocument{Report: report, Summary: Summarize(report)}); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	r.logger.Debug("Wrote JSON report.", zap.String("run_id", report.RunID))
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
