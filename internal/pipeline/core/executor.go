package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/progress"
	"golang.org/x/sync/errgroup"
)

// StatusStore is the slice of the artifact store the executor itself
// needs. Stages get their own typed views.
type StatusStore interface {
	SetJobProgress(ctx context.Context, jobID models.ULID, stage string, percent float64, message string) (float64, error)
	SetVideoDuration(ctx context.Context, jobID models.ULID, seconds float64) error
}

// BlobGateway downloads originals and provides scratch space.
type BlobGateway interface {
	Download(ctx context.Context, key, destDir string) (string, error)
	WorkDir(jobID models.ULID) (string, error)
}

// Prober inspects downloaded media.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.MediaInfo, error)
}

// ProgressSink receives progress frames for live subscribers.
type ProgressSink interface {
	Publish(jobID string, frame progress.Frame)
}

// Stages is the full stage set wired into the executor. Every field is
// required; ImageExtract still runs only in vision mode.
type Stages struct {
	SilenceDetect  Stage
	LayoutDetect   Stage
	Transcribe     Stage
	ImageExtract   Stage
	ContentAnalyze Stage
	SegmentSelect  Stage
	CompileClips   Stage
}

// Executor drives one job through the fixed stage DAG:
//
//	SilenceDetect ∥ LayoutDetect
//	Transcribe ∥ ImageExtract (vision mode)
//	ContentAnalyze → SegmentSelect → CompileClips
type Executor struct {
	cfg    config.PipelineConfig
	store  StatusStore
	blobs  BlobGateway
	prober Prober
	bus    ProgressSink
	stages Stages
	logger *slog.Logger
}

// NewExecutor creates an executor over the given dependencies.
func NewExecutor(cfg config.PipelineConfig, store StatusStore, blobs BlobGateway, prober Prober, bus ProgressSink, stages Stages, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		store:  store,
		blobs:  blobs,
		prober: prober,
		bus:    bus,
		stages: stages,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Execute runs the whole pipeline for an acquired job. A nil return
// means every fatal stage committed its output; the caller marks the
// job terminal.
func (e *Executor) Execute(ctx context.Context, job *models.Job, apiKey string) error {
	logger := e.logger.With(slog.String("job_id", job.ID.String()))

	workDir, err := e.blobs.WorkDir(job.ID)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "creating work directory", err)
	}
	defer os.RemoveAll(workDir)

	srcPath, err := e.blobs.Download(ctx, job.OriginalBlobKey, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return fault.Wrap(fault.KindCanceled, "downloading original", ctx.Err())
		}
		return fault.Wrap(fault.KindTransient, "downloading original", err)
	}

	info, err := e.prober.Probe(ctx, srcPath)
	if err != nil {
		return fault.Wrap(fault.KindFatal, "probing original media", err)
	}
	if !info.HasVideo {
		return fault.New(fault.KindFatal, "original media has no video stream")
	}
	if info.Duration <= 0 {
		return fault.New(fault.KindFatal, "original media has no duration")
	}
	if err := e.store.SetVideoDuration(ctx, job.ID, info.Duration); err != nil {
		return err
	}
	job.VideoDuration = info.Duration

	state := &State{
		Job:        job,
		APIKey:     apiKey,
		SourcePath: srcPath,
		Media:      info,
		WorkDir:    workDir,
		Logger:     logger,
	}

	e.reportGlobal(ctx, state, "upload", 5, "media ready")

	// Phase one: silence and layout analysis are independent.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.runStage(groupCtx, e.stages.SilenceDetect, state) })
	group.Go(func() error { return e.runStage(groupCtx, e.stages.LayoutDetect, state) })
	if err := group.Wait(); err != nil {
		return err
	}

	// Phase two: transcription, plus slide extraction in vision mode.
	group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error { return e.runStage(groupCtx, e.stages.Transcribe, state) })
	if state.Mode() == models.ProcessingModeVision {
		group.Go(func() error { return e.runStage(groupCtx, e.stages.ImageExtract, state) })
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, stage := range []Stage{e.stages.ContentAnalyze, e.stages.SegmentSelect, e.stages.CompileClips} {
		if err := e.runStage(ctx, stage, state); err != nil {
			return err
		}
	}
	return nil
}

// runStage executes one stage under its timeout with the retry and
// degradation policy applied.
func (e *Executor) runStage(ctx context.Context, stage Stage, state *State) error {
	band := BandFor(stage.ID())
	logger := state.Logger.With(slog.String("stage", stage.ID()))

	report := func(percent float64, message string) {
		e.reportGlobal(ctx, state, stage.ID(), band.Scale(percent), message)
	}

	timeout := e.cfg.StageTimeoutFor(stage.ID())
	var lastErr error

	for attempt := 0; attempt <= e.cfg.StageMaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.StageRetryBackoff * (1 << (attempt - 1))
			logger.Warn("retrying stage",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.KindCanceled, stage.Name(), ctx.Err())
			case <-time.After(delay):
			}
		}

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		report(0, fmt.Sprintf("%s starting", stage.Name()))
		start := time.Now()
		err := stage.Run(stageCtx, state, report)
		cancel()

		if err == nil {
			report(100, fmt.Sprintf("%s complete", stage.Name()))
			logger.Info("stage completed", slog.Duration("elapsed", time.Since(start)))
			return nil
		}
		lastErr = err

		// A parent cancellation is final regardless of kind.
		if ctx.Err() != nil || fault.IsCanceled(err) {
			return fault.Wrap(fault.KindCanceled, stage.Name(), err)
		}
		if !fault.IsTransient(err) {
			break
		}
	}

	kind := fault.KindOf(lastErr)
	if DegradableStage(stage.ID()) && kind != fault.KindFatal && kind != fault.KindCredential {
		logger.Warn("stage degraded, continuing without its output",
			slog.String("error", lastErr.Error()))
		report(100, fmt.Sprintf("%s skipped", stage.Name()))
		return nil
	}
	return fmt.Errorf("%s: %w", stage.Name(), lastErr)
}

// reportGlobal persists a global progress value and fans it out. The
// store clamps regressions; the published frame carries the effective
// value so subscribers always see a monotonic sequence.
func (e *Executor) reportGlobal(ctx context.Context, state *State, stageID string, percent float64, message string) {
	effective, err := e.store.SetJobProgress(ctx, state.Job.ID, stageID, percent, message)
	if err != nil {
		state.Logger.Warn("failed to persist progress",
			slog.String("stage", stageID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.bus.Publish(state.Job.ID.String(), progress.Frame{
		Kind:    progress.KindProgress,
		Stage:   stageID,
		Percent: effective,
		Message: message,
	})
}
