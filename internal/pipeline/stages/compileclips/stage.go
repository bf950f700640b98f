// Package compileclips renders the selected clips: extract, re-encode,
// tag, thumbnail, subtitle, upload. Clips compile in a bounded worker
// pool; one clip failing is logged and skipped, and the stage fails only
// when every clip does.
package compileclips

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/internal/repository"
	"github.com/reelcut/reelcut/internal/storage"
	"github.com/reelcut/reelcut/pkg/webvtt"
	"golang.org/x/sync/errgroup"
)

const (
	StageID   = core.StageCompileClips
	StageName = "Clip Compilation"
)

// Encoder is the media-tool surface a single clip needs.
type Encoder interface {
	ExtractSegment(ctx context.Context, input, output string, start, end float64) error
	Transcode(ctx context.Context, input, output, resolution string) error
	SetMetadata(ctx context.Context, input, output, title string) error
	Thumbnail(ctx context.Context, input, output string, at float64) error
}

// Blobs publishes compiled files into the blob store.
type Blobs interface {
	Publish(srcPath, key string) error
}

// Store reads the selection and records compilation results.
type Store interface {
	Clips(ctx context.Context, jobID models.ULID) ([]models.Clip, error)
	TranscriptSegments(ctx context.Context, jobID models.ULID) ([]models.TranscriptSegment, error)
	UpdateClipArtifacts(ctx context.Context, clipID models.ULID, artifacts repository.ClipArtifacts) error
}

type Stage struct {
	cfg     config.PipelineConfig
	encoder Encoder
	blobs   Blobs
	store   Store
}

var _ core.Stage = (*Stage)(nil)

func New(cfg config.PipelineConfig, encoder Encoder, blobs Blobs, store Store) *Stage {
	return &Stage{cfg: cfg, encoder: encoder, blobs: blobs, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	clips, err := s.store.Clips(ctx, state.Job.ID)
	if err != nil {
		return err
	}
	if len(clips) == 0 {
		// A lecture with nothing worth clipping is still a completed job.
		state.Logger.Info("no clips selected, nothing to compile")
		return nil
	}
	transcript, err := s.store.TranscriptSegments(ctx, state.Job.ID)
	if err != nil {
		return err
	}

	workers := s.cfg.CompileMaxWorkers
	if workers < 1 {
		workers = 1
	}

	var (
		mu        sync.Mutex
		compiled  int
		attempted int
		lastErr   error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, clip := range clips {
		group.Go(func() error {
			err := s.compileOne(groupCtx, state, clip, transcript)

			mu.Lock()
			defer mu.Unlock()
			attempted++
			if err == nil {
				compiled++
			} else {
				lastErr = err
				state.Logger.Error("clip compilation failed",
					"clip_id", clip.ID.String(), "error", err.Error())
			}
			report(float64(attempted)/float64(len(clips))*100,
				fmt.Sprintf("compiled %d/%d clip(s)", compiled, len(clips)))

			// Cancellation aborts the remaining clips; an individual
			// failure does not.
			if err != nil && fault.IsCanceled(err) {
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if compiled == 0 {
		return fault.Wrap(fault.KindTransient, "all clips failed to compile", lastErr)
	}
	return nil
}

// compileOne runs the full per-clip chain and updates the clip row.
func (s *Stage) compileOne(ctx context.Context, state *core.State, clip models.Clip, transcript []models.TranscriptSegment) error {
	dir := filepath.Join(state.WorkDir, fmt.Sprintf("clip-%02d", clip.Order))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Wrap(fault.KindTransient, "creating clip directory", err)
	}
	defer os.RemoveAll(dir)

	raw := filepath.Join(dir, "raw.mp4")
	if err := s.encoder.ExtractSegment(ctx, state.SourcePath, raw, clip.Start, clip.End); err != nil {
		return s.classify("extracting segment", err)
	}

	encoded := filepath.Join(dir, "encoded.mp4")
	if err := s.encoder.Transcode(ctx, raw, encoded, state.Job.Config.Resolution); err != nil {
		return s.classify("transcoding", err)
	}

	final := filepath.Join(dir, "final.mp4")
	if err := s.encoder.SetMetadata(ctx, encoded, final, clip.Title); err != nil {
		return s.classify("writing metadata", err)
	}

	thumb := filepath.Join(dir, "thumb.jpg")
	if err := s.encoder.Thumbnail(ctx, final, thumb, clip.Duration/2); err != nil {
		return s.classify("rendering thumbnail", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "stat compiled clip", err)
	}

	artifacts := repository.ClipArtifacts{
		BlobKey:      storage.ClipKey(state.Job.ID, clip.ID),
		ThumbnailKey: storage.ThumbnailKey(state.Job.ID, clip.ID),
		FileSize:     info.Size(),
	}
	if err := s.blobs.Publish(final, artifacts.BlobKey); err != nil {
		return fault.Wrap(fault.KindTransient, "uploading clip", err)
	}
	if err := s.blobs.Publish(thumb, artifacts.ThumbnailKey); err != nil {
		return fault.Wrap(fault.KindTransient, "uploading thumbnail", err)
	}

	if subtitlePath, err := s.writeSubtitle(dir, clip, transcript); err != nil {
		return err
	} else if subtitlePath != "" {
		artifacts.SubtitleKey = storage.SubtitleKey(state.Job.ID, clip.ID)
		if err := s.blobs.Publish(subtitlePath, artifacts.SubtitleKey); err != nil {
			return fault.Wrap(fault.KindTransient, "uploading subtitle", err)
		}
	}

	return s.store.UpdateClipArtifacts(ctx, clip.ID, artifacts)
}

// writeSubtitle renders the transcript overlapping the clip as WebVTT,
// rebased to the clip's own timeline. Returns "" when no speech overlaps.
func (s *Stage) writeSubtitle(dir string, clip models.Clip, transcript []models.TranscriptSegment) (string, error) {
	cues := clipCues(clip, transcript)
	if len(cues) == 0 {
		return "", nil
	}
	path := filepath.Join(dir, "subtitle.vtt")
	f, err := os.Create(path)
	if err != nil {
		return "", fault.Wrap(fault.KindTransient, "creating subtitle file", err)
	}
	defer f.Close()
	if _, err := webvtt.Write(f, cues); err != nil {
		return "", fault.Wrap(fault.KindTransient, "writing subtitle file", err)
	}
	return path, nil
}

// clipCues selects transcript segments overlapping the clip and rebases
// them to clip-relative time, clamped into the clip.
func clipCues(clip models.Clip, transcript []models.TranscriptSegment) []webvtt.Cue {
	var cues []webvtt.Cue
	for _, seg := range transcript {
		if seg.End <= clip.Start || seg.Start >= clip.End {
			continue
		}
		start := seg.Start - clip.Start
		end := seg.End - clip.Start
		if start < 0 {
			start = 0
		}
		if end > clip.Duration {
			end = clip.Duration
		}
		cues = append(cues, webvtt.Cue{Start: start, End: end, Text: seg.Text})
	}
	return cues
}

// classify maps tool failures: cancellation stays cancellation, anything
// else is worth retrying on a later attempt.
func (s *Stage) classify(msg string, err error) error {
	if fault.IsCanceled(err) {
		return err
	}
	return fault.Wrap(fault.KindTransient, msg, err)
}
