// Package media wraps ffmpeg and ffprobe for the clip pipeline. All
// invocations run under the caller's context and report failures with the
// tail of stderr attached, since ffmpeg puts the useful diagnostics there.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// stderrTailLimit bounds how much stderr is kept for error reporting.
const stderrTailLimit = 4096

// ToolError is a failed ffmpeg/ffprobe invocation with its stderr tail.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Toolkit runs media operations against configured binaries.
type Toolkit struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewToolkit creates a Toolkit using the configured binary paths.
func NewToolkit(ffmpegPath, ffprobePath string, logger *slog.Logger) *Toolkit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolkit{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger.With(slog.String("component", "media")),
	}
}

// run executes a binary and returns its stderr. On failure the stderr tail
// is attached to the returned ToolError.
func (t *Toolkit) run(ctx context.Context, tool string, args []string) (string, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	t.logger.Debug("media command finished",
		slog.String("tool", tool),
		slog.Duration("elapsed", elapsed),
		slog.Bool("ok", err == nil),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stderr.String(), ctxErr
		}
		return stderr.String(), &ToolError{
			Tool:   tool,
			Args:   args,
			Stderr: tailString(stderr.String(), stderrTailLimit),
			Err:    err,
		}
	}
	return stderr.String(), nil
}

// runFFmpeg executes ffmpeg with the standard global flags prepended.
func (t *Toolkit) runFFmpeg(ctx context.Context, args []string) (string, error) {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	return t.run(ctx, t.ffmpegPath, full)
}

func tailString(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
