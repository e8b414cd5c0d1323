package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/state"
)

const (
	errorFile      = "error.txt"
	screenshotFile = "screenshot.png"
	traceFile      = "trace.zip"
)

// RunID formats t as YYYYMMDD-HHMMSS in local time.
func RunID(t time.Time) string {
	return t.Local().Format("20060102-150405")
}

// FailureArtifacts lists the files of one failure bundle. Screenshot and
// trace paths are reported even when capturing them failed.
type FailureArtifacts struct {
	Dir            string
	ErrorPath      string
	ScreenshotPath string
	TracePath      string
	// Traced is set when a trace was being recorded.
	Traced bool
}

// Summary is the "Artifacts:" suffix appended to failure messages.
func (a FailureArtifacts) Summary() string {
	if a.Traced {
		return a.ScreenshotPath + ", " + a.TracePath
	}
	return a.ScreenshotPath
}

// WriteFailureArtifacts writes error.txt to dir and captures a screenshot
// and, when traced is set, the trace. Only the error file is required;
// screenshot and trace are best-effort. page and bc may be nil.
func WriteFailureArtifacts(dir string, cause error, page browser.Page, bc browser.Context, traced bool) (FailureArtifacts, error) {
	a := FailureArtifacts{
		Dir:            dir,
		ErrorPath:      filepath.Join(dir, errorFile),
		ScreenshotPath: filepath.Join(dir, screenshotFile),
		TracePath:      filepath.Join(dir, traceFile),
		Traced:         traced && bc != nil,
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return a, fmt.Errorf("failed to create failures directory: %w", err)
	}

	detail := fmt.Sprintf("%T: %s\n\n%+v\n", cause, cause.Error(), cause)
	if err := state.WriteFileAtomic(a.ErrorPath, []byte(detail)); err != nil {
		return a, fmt.Errorf("failed to write %s: %w", a.ErrorPath, err)
	}

	if a.Traced {
		_ = bc.StopTracing(a.TracePath)
	}
	if page != nil {
		_ = page.Screenshot(a.ScreenshotPath)
	}
	return a, nil
}
