// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rtsm-probe/internal/reporting"
	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

const testToolVersion = "v1.0.0-test"

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func newWriter() *MockWriteCloser {
	return &MockWriteCloser{Buffer: new(bytes.Buffer)}
}

func sampleReport() *suite.Report {
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return &suite.Report{
		RunID:      "run-1",
		BaseURL:    "https://staging.example.test",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Results: []suite.Result{
			{ID: "r1", Scenario: "page-access", Status: suite.StatusPassed, Attempts: 1, StartedAt: start, Duration: 1500 * time.Millisecond},
			{
				ID: "r2", Scenario: "dashboard", Status: suite.StatusFailed, Attempts: 2, StartedAt: start, Duration: 30 * time.Second,
				Error:     "failed after 2 attempts: dashboard: study list is empty\nand the header is missing",
				Notes:     []string{"study list not ready after 3s (state loading)"},
				Artifacts: []string{"artifacts/dashboard/dashboard-1.jpg", "artifacts/dashboard/dashboard-1.txt"},
			},
			{ID: "r3", Scenario: "study-list", Status: suite.StatusSkipped, StartedAt: start, Error: "context canceled"},
		},
	}
}

func TestNew(t *testing.T) {
	for _, format := range reporting.Formats {
		t.Run(format+"_stdout", func(t *testing.T) {
			for _, path := range []string{"", "-", "stdout"} {
				r, err := reporting.New(format, path, testToolVersion)
				require.NoError(t, err)
				assert.NotNil(t, r)
			}
		})

		t.Run(format+"_file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "report."+format)
			r, err := reporting.New(format, path, testToolVersion)
			require.NoError(t, err)
			require.NoError(t, r.Write(sampleReport()))
			require.NoError(t, r.Close())

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	r, err := reporting.New("html", path, testToolVersion)
	require.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "unsupported output format: html")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for an unsupported format")
}

func TestNew_UncreatableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.json")
	_, err := reporting.New("json", path, testToolVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	w := newWriter()
	r := reporting.NewJSONReporter(w)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)

	var doc struct {
		RunID   string `json:"run_id"`
		BaseURL string `json:"base_url"`
		Results []struct {
			Scenario   string   `json:"scenario"`
			Status     string   `json:"status"`
			DurationMS int64    `json:"duration_ms"`
			Notes      []string `json:"notes"`
			Artifacts  []string `json:"artifacts"`
		} `json:"results"`
		Summary reporting.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &doc))

	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "https://staging.example.test", doc.BaseURL)
	require.Len(t, doc.Results, 3)
	assert.Equal(t, "failed", doc.Results[1].Status)
	assert.Equal(t, int64(1500), doc.Results[0].DurationMS)
	assert.NotContains(t, w.Buffer.String(), `"duration":`)
	assert.Len(t, doc.Results[1].Artifacts, 2)
	assert.Equal(t, reporting.Summary{Total: 3, Passed: 1, Failed: 1, Skipped: 1, DurationMS: 90000}, doc.Summary)
}

func TestJSONReporter_WriteError(t *testing.T) {
	w := newWriter()
	w.FailWrite = true
	err := reporting.NewJSONReporter(w).Write(sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode JSON report")
}

func TestJUnitReporter(t *testing.T) {
	w := newWriter()
	r := reporting.NewJUnitReporter(w)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(w.Buffer.Bytes()))

	root := doc.SelectElement("testsuites")
	require.NotNil(t, root)
	assert.Equal(t, "3", root.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", root.SelectAttrValue("failures", ""))
	assert.Equal(t, "1", root.SelectAttrValue("skipped", ""))
	assert.Equal(t, "90.000", root.SelectAttrValue("time", ""))

	ts := root.SelectElement("testsuite")
	require.NotNil(t, ts)
	assert.Equal(t, "run-1", ts.SelectAttrValue("id", ""))
	assert.Equal(t, "2026-03-04T10:00:00Z", ts.SelectAttrValue("timestamp", ""))

	cases := ts.SelectElements("testcase")
	require.Len(t, cases, 3)
	assert.Equal(t, "page-access", cases[0].SelectAttrValue("name", ""))
	assert.Equal(t, "1.500", cases[0].SelectAttrValue("time", ""))
	assert.Nil(t, cases[0].SelectElement("failure"))

	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Equal(t, "failed after 2 attempts: dashboard: study list is empty", failure.SelectAttrValue("message", ""))
	assert.Contains(t, failure.Text(), "the header is missing")
	out := cases[1].SelectElement("system-out")
	require.NotNil(t, out)
	assert.Contains(t, out.Text(), "note: study list not ready")
	assert.Contains(t, out.Text(), "artifact: artifacts/dashboard/dashboard-1.jpg")

	skipped := cases[2].SelectElement("skipped")
	require.NotNil(t, skipped)
	assert.Equal(t, "context canceled", skipped.SelectAttrValue("message", ""))
}

func TestJUnitReporter_ErrorHandling(t *testing.T) {
	w := newWriter()
	w.FailWrite = true
	r := reporting.NewJUnitReporter(w)
	require.NoError(t, r.Write(sampleReport()))
	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write JUnit output")
	assert.True(t, w.Closed, "writer is closed even when writing fails")

	w = newWriter()
	w.FailClose = true
	err = reporting.NewJUnitReporter(w).Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close output writer")
}
