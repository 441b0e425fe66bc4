// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// Formats lists the accepted values for New.
var Formats = []string{"json", "junit", "sarif"}

// Reporter writes run reports to an output.
type Reporter interface {
	// Write adds one run report.
	Write(report *suite.Report) error
	// Close flushes buffered output and closes the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// IsStdout reports whether outputPath selects standard output.
func IsStdout(outputPath string) bool {
	return outputPath == "" || outputPath == "-" || outputPath == "stdout"
}

// New creates a reporter for format writing to outputPath.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	switch format {
	case "json", "junit", "sarif":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if IsStdout(outputPath) {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "junit":
		return NewJUnitReporter(writer), nil
	case "sarif":
		return NewSARIFReporter(writer, toolVersion), nil
	default:
		return NewJSONReporter(writer), nil
	}
}
