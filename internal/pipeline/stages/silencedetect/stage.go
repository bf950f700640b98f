// Package silencedetect finds silent spans in the original audio track.
// Its output drives both transcription chunking and clip boundary
// snapping, so regions land in the artifact store sorted and
// non-overlapping.
package silencedetect

import (
	"context"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/pkg/timeline"
)

const (
	StageID   = core.StageSilenceDetect
	StageName = "Silence Detection"
)

// Detector runs the silence scan over a local media file.
type Detector interface {
	DetectSilence(ctx context.Context, input string, thresholdDB, minDuration, totalDuration float64) ([]timeline.Span, error)
}

// Store persists the detected regions.
type Store interface {
	ReplaceSilenceRegions(ctx context.Context, jobID models.ULID, regions []models.SilenceRegion) error
}

// Stage detects silence with the configured threshold and minimum
// duration. It degrades on tool failure, but a missing audio track is
// fatal: nothing downstream can transcribe such a job.
type Stage struct {
	cfg      config.PipelineConfig
	detector Detector
	store    Store
}

var _ core.Stage = (*Stage)(nil)

func New(cfg config.PipelineConfig, detector Detector, store Store) *Stage {
	return &Stage{cfg: cfg, detector: detector, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	if !state.Media.HasAudio {
		return fault.New(fault.KindFatal, "media has no audio track")
	}

	report(10, "scanning audio")
	minDuration := float64(s.cfg.MinSilenceMs) / 1000.0
	spans, err := s.detector.DetectSilence(ctx, state.SourcePath, s.cfg.SilenceThresholdDB, minDuration, state.Media.Duration)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "detecting silence", err)
	}
	spans = timeline.Normalize(spans, state.Media.Duration)

	report(80, "persisting regions")
	regions := make([]models.SilenceRegion, 0, len(spans))
	for _, span := range spans {
		regions = append(regions, models.SilenceRegion{
			JobID:       state.Job.ID,
			Start:       span.Start,
			End:         span.End,
			ThresholdDB: s.cfg.SilenceThresholdDB,
		})
	}
	return s.store.ReplaceSilenceRegions(ctx, state.Job.ID, regions)
}
