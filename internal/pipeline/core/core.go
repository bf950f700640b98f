// Package core provides the stage DAG executor for the clip pipeline.
package core

import (
	"context"
	"log/slog"

	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/models"
)

// Stage identifiers. These are stable strings: they appear in progress
// frames, logs, and the job row's current_stage column.
const (
	StageSilenceDetect  = "silence_detect"
	StageTranscribe     = "transcribe"
	StageLayoutDetect   = "layout_detect"
	StageImageExtract   = "image_extract"
	StageContentAnalyze = "content_analyze"
	StageSegmentSelect  = "segment_select"
	StageCompileClips   = "compile_clips"
)

// ReportFunc reports stage-local progress in [0,100] with a short
// human-readable message. The executor scales it into the job's global
// progress band.
type ReportFunc func(percent float64, message string)

// Stage is one step of the pipeline. Run must be cancelable through ctx
// and must write its output through the artifact store in a single call
// before returning nil.
type Stage interface {
	// ID returns the stable stage identifier (e.g. "silence_detect").
	ID() string

	// Name returns a human-readable name (e.g. "Silence Detection").
	Name() string

	// Run executes the stage against the given job state.
	Run(ctx context.Context, state *State, report ReportFunc) error
}

// State carries everything a stage needs about the job being processed.
// Cross-stage data does not travel here; it flows through the artifact
// store so a successor never sees uncommitted output.
type State struct {
	// Job is the job row as acquired by the worker.
	Job *models.Job

	// APIKey is the principal's decrypted model API key, held for the
	// lifetime of the run only.
	APIKey string

	// SourcePath is the local path of the downloaded original media.
	SourcePath string

	// Media is the probe result for the original media.
	Media *media.MediaInfo

	// WorkDir is the run's scratch directory, removed when the run ends.
	WorkDir string

	// Logger carries the job_id attribute.
	Logger *slog.Logger
}

// Mode returns the job's effective processing mode.
func (s *State) Mode() models.ProcessingMode {
	return s.Job.Config.Mode()
}
