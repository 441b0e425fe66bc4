// internal/reporting/junit_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/observability"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// JUnitClassName is the classname given to every test case.
const JUnitClassName = "rtsm"

// JUnitReporter collects reports and writes them as one JUnit XML document
// on Close, one <testsuite> per run.
type JUnitReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	mu      sync.Mutex
	reports []*suite.Report
}

// NewJUnitReporter takes ownership of writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{
		writer: writer,
		logger: observability.GetLogger().Named("junit_reporter"),
	}
}

func (r *JUnitReporter) Write(report *suite.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.document()
	doc.Indent(2)
	_, writeErr := doc.WriteTo(r.writer)
	closeErr := r.writer.Close()

	if writeErr != nil {
		r.logger.Error("Failed to write JUnit report", zap.Error(writeErr))
		return fmt.Errorf("failed to write JUnit output: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote JUnit report.", zap.Int("runs", len(r.reports)))
	return nil
}

func (r *JUnitReporter) document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "rtsm-probe")
	var total Summary
	var elapsed time.Duration
	for _, report := range r.reports {
		s := Summarize(report)
		total.Total += s.Total
		total.Failed += s.Failed
		total.Skipped += s.Skipped
		elapsed += report.Duration()
		writeSuite(root, report, s)
	}
	root.CreateAttr("tests", strconv.Itoa(total.Total))
	root.CreateAttr("failures", strconv.Itoa(total.Failed))
	root.CreateAttr("skipped", strconv.Itoa(total.Skipped))
	root.CreateAttr("time", seconds(elapsed))
	return doc
}

func writeSuite(root *etree.Element, report *suite.Report, s Summary) {
	ts := root.CreateElement("testsuite")
	ts.CreateAttr("name", report.BaseURL)
	ts.CreateAttr("id", report.RunID)
	ts.CreateAttr("timestamp", report.StartedAt.UTC().Format(time.RFC3339))
	ts.CreateAttr("tests", strconv.Itoa(s.Total))
	ts.CreateAttr("failures", strconv.Itoa(s.Failed))
	ts.CreateAttr("errors", "0")
	ts.CreateAttr("skipped", strconv.Itoa(s.Skipped))
	ts.CreateAttr("time", seconds(report.Duration()))

	props := ts.CreateElement("properties")
	addProperty(props, "run_id", report.RunID)
	addProperty(props, "base_url", report.BaseURL)

	for _, res := range report.Results {
		tc := ts.CreateElement("testcase")
		tc.CreateAttr("name", res.Scenario)
		tc.CreateAttr("classname", JUnitClassName)
		tc.CreateAttr("time", seconds(res.Duration))

		switch res.Status {
		case suite.StatusFailed:
			f := tc.CreateElement("failure")
			f.CreateAttr("message", firstLine(res.Error))
			f.CreateAttr("type", "failure")
			f.SetText(res.Error)
		case suite.StatusSkipped:
			sk := tc.CreateElement("skipped")
			sk.CreateAttr("message", res.Error)
		}

		if out := systemOut(res); out != "" {
			tc.CreateElement("system-out").SetText(out)
		}
	}
}

func addProperty(props *etree.Element, name, value string) {
	p := props.CreateElement("property")
	p.CreateAttr("name", name)
	p.CreateAttr("value", value)
}

func systemOut(res suite.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "attempts: %d\n", res.Attempts)
	for _, n := range res.Notes {
		fmt.Fprintf(&b, "note: %s\n", n)
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(&b, "artifact: %s\n", a)
	}
	return b.String()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
