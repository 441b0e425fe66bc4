// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/observability"
	"github.com/xkilldash9x/rtsm-probe/internal/reporting/sarif"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "rtsm-probe"
	ToolInfoURI  = "https://github.com/xkilldash9x/rtsm-probe"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// SARIFReporter renders each run as a SARIF run. Every scenario is a rule,
// every result a pass, fail or notApplicable entry, and every soft-failure
// note an extra result at level note. It is thread safe.
type SARIFReporter struct {
	writer      io.WriteCloser
	logger      *zap.Logger
	toolVersion string
	log         *sarif.Log
	mu          sync.Mutex
}

// NewSARIFReporter takes ownership of writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	return &SARIFReporter{
		writer:      writer,
		logger:      observability.GetLogger().Named("sarif_reporter"),
		toolVersion: toolVersion,
		log: &sarif.Log{
			Version: SARIFVersion,
			Schema:  SARIFSchema,
			Runs:    []*sarif.Run{},
		},
	}
}

func (r *SARIFReporter) Write(report *suite.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Runs = append(r.log.Runs, r.convert(report))
	return nil
}

func (r *SARIFReporter) convert(report *suite.Report) *sarif.Run {
	descriptions := make(map[string]string)
	for _, sc := range suite.Catalogue() {
		descriptions[sc.Name] = sc.Description
	}

	run := &sarif.Run{
		Tool: &sarif.Tool{Driver: &sarif.ToolComponent{
			Name:           ToolName,
			Version:        pString(r.toolVersion),
			InformationURI: pString(ToolInfoURI),
			Rules:          []*sarif.ReportingDescriptor{},
		}},
		Invocations: []*sarif.Invocation{{
			ExecutionSuccessful: report.Passed(),
			StartTimeUTC:        pString(report.StartedAt.UTC().Format(time.RFC3339)),
			EndTimeUTC:          pString(report.FinishedAt.UTC().Format(time.RFC3339)),
		}},
		Results:    []*sarif.Result{},
		Properties: sarif.PropertyBag{"runId": report.RunID, "baseUrl": report.BaseURL},
	}

	seen := make(map[string]bool)
	for _, res := range report.Results {
		if !seen[res.Scenario] {
			seen[res.Scenario] = true
			rule := &sarif.ReportingDescriptor{ID: res.Scenario}
			if d := descriptions[res.Scenario]; d != "" {
				rule.ShortDescription = &sarif.MultiformatMessageString{Text: pString(d)}
			}
			run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, rule)
		}

		out := &sarif.Result{
			RuleID: res.Scenario,
			Properties: sarif.PropertyBag{
				"attempts":   res.Attempts,
				"durationMs": res.Duration.Milliseconds(),
			},
		}
		switch res.Status {
		case suite.StatusPassed:
			out.Kind, out.Level = sarif.KindPass, sarif.LevelNone
			out.Message = &sarif.Message{Text: pString("scenario passed")}
		case suite.StatusSkipped:
			out.Kind, out.Level = sarif.KindNotApplicable, sarif.LevelNone
			out.Message = &sarif.Message{Text: pString("scenario skipped: " + res.Error)}
		default:
			out.Kind, out.Level = sarif.KindFail, sarif.LevelError
			out.Message = &sarif.Message{Text: pString(res.Error)}
		}
		for _, a := range res.Artifacts {
			out.Locations = append(out.Locations, &sarif.Location{
				PhysicalLocation: &sarif.PhysicalLocation{ArtifactLocation: &sarif.ArtifactLocation{URI: pString(a)}},
			})
		}
		run.Results = append(run.Results, out)

		for _, n := range res.Notes {
			run.Results = append(run.Results, &sarif.Result{
				RuleID:  res.Scenario,
				Level:   sarif.LevelNote,
				Message: &sarif.Message{Text: pString(n)},
			})
		}
	}
	return run
}

// Close writes the SARIF log to the output writer and closes it.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote SARIF report.", zap.Int("runs", len(r.log.Runs)))
	return nil
}

func pString(s string) *string {
	return &s
}
