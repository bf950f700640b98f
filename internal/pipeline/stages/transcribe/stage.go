// Package transcribe turns the non-silent audio into transcript segments
// on the original timeline. The audio is compressed by cutting silences
// out before it reaches the speech model; segment times come back on the
// compressed timeline and are remapped.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/modelgw"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/pkg/timeline"
	"golang.org/x/sync/errgroup"
)

const (
	StageID   = core.StageTranscribe
	StageName = "Transcription"
)

// minKeepSeconds is the least non-silent audio worth transcribing. Below
// this the job completes with an empty transcript instead of burning a
// model call on noise.
const minKeepSeconds = 3.0

// Audio extracts compressed audio from the original media.
type Audio interface {
	ExtractAudioConcat(ctx context.Context, input, output string, keeps []timeline.Span) error
	ExtractAudioSegment(ctx context.Context, input, output string, offset, length float64) error
}

// Transcriber is the speech model call.
type Transcriber interface {
	Transcribe(ctx context.Context, apiKey, audioPath string) (*modelgw.TranscribeResult, error)
}

// Store reads silence regions and persists the remapped transcript.
type Store interface {
	SilenceRegions(ctx context.Context, jobID models.ULID) ([]models.SilenceRegion, error)
	ReplaceTranscriptSegments(ctx context.Context, jobID models.ULID, segments []models.TranscriptSegment) error
}

type Stage struct {
	cfg         config.PipelineConfig
	audio       Audio
	transcriber Transcriber
	store       Store
}

var _ core.Stage = (*Stage)(nil)

func New(cfg config.PipelineConfig, audio Audio, transcriber Transcriber, store Store) *Stage {
	return &Stage{cfg: cfg, audio: audio, transcriber: transcriber, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	regions, err := s.store.SilenceRegions(ctx, state.Job.ID)
	if err != nil {
		return err
	}
	silences := make([]timeline.Span, 0, len(regions))
	for _, r := range regions {
		silences = append(silences, timeline.Span{Start: r.Start, End: r.End})
	}

	keeps := timeline.KeepIntervals(silences, state.Media.Duration)
	mapping := timeline.BuildMapping(keeps)
	total := mapping.TotalCompressed()
	if total < minKeepSeconds {
		state.Logger.Info("audio is almost entirely silent, skipping transcription")
		return s.store.ReplaceTranscriptSegments(ctx, state.Job.ID, nil)
	}

	report(5, "extracting audio")
	audioPath := filepath.Join(state.WorkDir, "speech.wav")
	if err := s.audio.ExtractAudioConcat(ctx, state.SourcePath, audioPath, keeps); err != nil {
		return fault.Wrap(fault.KindTransient, "extracting audio", err)
	}

	chunks, err := s.planChunks(audioPath, total)
	if err != nil {
		return err
	}

	report(15, fmt.Sprintf("transcribing %d chunk(s)", len(chunks)))
	compressed, err := s.transcribeChunks(ctx, state, audioPath, chunks, report)
	if err != nil {
		return err
	}

	segments := remap(state.Job.ID, compressed, mapping)
	report(95, "persisting transcript")
	return s.store.ReplaceTranscriptSegments(ctx, state.Job.ID, segments)
}

// planChunks decides whether the compressed audio is transcribed whole
// or in windows. A single zero-offset chunk means "send the file as is".
func (s *Stage) planChunks(audioPath string, total float64) ([]timeline.Chunk, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "stat extracted audio", err)
	}
	if total <= s.cfg.ChunkSeconds && info.Size() <= int64(s.cfg.ChunkTriggerBytes) {
		return []timeline.Chunk{{Offset: 0, Length: total}}, nil
	}
	chunks, err := timeline.SplitChunks(total, s.cfg.ChunkSeconds)
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "splitting audio", err)
	}
	return chunks, nil
}

// compressedSegment is a model segment placed on the compressed timeline.
type compressedSegment struct {
	start      float64
	end        float64
	text       string
	confidence *float64
}

func (s *Stage) transcribeChunks(ctx context.Context, state *core.State, audioPath string, chunks []timeline.Chunk, report core.ReportFunc) ([]compressedSegment, error) {
	parallelism := s.cfg.ChunkParallelism
	if state.Job.Config.RateLimitMode || parallelism < 1 {
		parallelism = 1
	}

	var (
		mu       sync.Mutex
		segments []compressedSegment
		done     int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)
	for i, chunk := range chunks {
		group.Go(func() error {
			path := audioPath
			if len(chunks) > 1 {
				path = filepath.Join(state.WorkDir, fmt.Sprintf("speech-%03d.wav", i))
				if err := s.audio.ExtractAudioSegment(groupCtx, audioPath, path, chunk.Offset, chunk.Length); err != nil {
					return fault.Wrap(fault.KindTransient, "extracting audio chunk", err)
				}
			}

			result, err := s.transcriber.Transcribe(groupCtx, state.APIKey, path)
			if err != nil {
				return err
			}

			mu.Lock()
			for _, seg := range result.Segments {
				segments = append(segments, compressedSegment{
					start:      chunk.Offset + seg.Start,
					end:        chunk.Offset + seg.End,
					text:       seg.Text,
					confidence: seg.Confidence,
				})
			}
			done++
			progress := 15 + 80*float64(done)/float64(len(chunks))
			mu.Unlock()
			report(progress, fmt.Sprintf("transcribed chunk %d/%d", done, len(chunks)))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// remap translates compressed-timeline segments back onto the original
// timeline. Segments whose boundaries fall outside every keep-interval
// are dropped rather than guessed at.
func remap(jobID models.ULID, compressed []compressedSegment, mapping timeline.Mapping) []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, 0, len(compressed))
	for _, seg := range compressed {
		start, ok := mapping.ToOriginal(seg.start)
		if !ok {
			continue
		}
		end, ok := mapping.ToOriginal(seg.end)
		if !ok {
			continue
		}
		if end <= start || seg.text == "" {
			continue
		}
		out = append(out, models.TranscriptSegment{
			JobID:      jobID,
			Start:      start,
			End:        end,
			Text:       seg.text,
			Confidence: seg.confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
