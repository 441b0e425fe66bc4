// internal/rtsm/diagnostics.go
package rtsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/readiness"
)

const diagnosticsTimeout = 10 * time.Second

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CaptureDiagnostics writes a screenshot and a text summary (URL, title,
// page text excerpt) of the current page into the artifacts directory and
// returns the written paths. It runs on a fresh deadline so a flow that
// failed by timing out still gets its diagnostics.
func (f *Flow) CaptureDiagnostics(ctx context.Context, name string) ([]string, error) {
	dir := f.cfg.Suite.ArtifactsDir
	if dir == "" {
		return nil, nil
	}
	dir = filepath.Join(dir, sanitize(f.scenario))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()

	base := filepath.Join(dir, fmt.Sprintf("%s-%s", sanitize(name), time.Now().UTC().Format("20060102T150405.000")))
	var (
		paths []string
		errs  []error
	)

	if shot, err := f.page.Screenshot(dctx); err != nil {
		errs = append(errs, err)
	} else if err := os.WriteFile(base+".jpg", shot, 0o644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write screenshot: %w", err))
	} else {
		paths = append(paths, base+".jpg")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\nstep: %s\ncaptured: %s\n", f.scenario, name, time.Now().UTC().Format(time.RFC3339))
	if u, err := f.page.URL(dctx); err == nil {
		fmt.Fprintf(&b, "url: %s\n", u)
	} else {
		fmt.Fprintf(&b, "url: <%v>\n", err)
	}
	if t, err := f.page.Title(dctx); err == nil {
		fmt.Fprintf(&b, "title: %s\n", t)
	}
	if text, err := f.page.BodyText(dctx); err == nil {
		fmt.Fprintf(&b, "\n%s\n", readiness.Excerpt(text, 2000))
	}
	if err := os.WriteFile(base+".txt", []byte(b.String()), 0o644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write page summary: %w", err))
	} else {
		paths = append(paths, base+".txt")
	}

	if len(paths) > 0 {
		f.logger.Info("Diagnostics captured.", zap.Strings("artifacts", paths))
	}
	return paths, errors.Join(errs...)
}

func sanitize(s string) string {
	s = unsafeFileChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
