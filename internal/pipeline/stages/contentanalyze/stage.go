// Package contentanalyze asks the language model to segment the lecture
// into topical spans with importance scores, then sanitizes the model's
// proposal into chronological, non-overlapping, in-bounds segments. It
// also produces the optional summary and quiz artifacts; those degrade
// independently without affecting the job.
package contentanalyze

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/modelgw"
	"github.com/reelcut/reelcut/internal/pipeline/core"
)

const (
	StageID   = core.StageContentAnalyze
	StageName = "Content Analysis"

	// maxSegments bounds how many content segments one job may carry.
	maxSegments = 15
	// maxTopicRunes matches the topic column width.
	maxTopicRunes = 100
)

// Language is the language model surface the stage needs.
type Language interface {
	AnalyzeContent(ctx context.Context, apiKey string, req modelgw.ContentRequest) (*modelgw.ContentAnalysis, error)
	GenerateSummary(ctx context.Context, apiKey, transcript string) (*modelgw.SummaryResult, error)
	GenerateQuiz(ctx context.Context, apiKey, transcript string) (*modelgw.QuizResult, error)
}

// Store reads transcript and slides, and persists the analysis outputs.
type Store interface {
	TranscriptSegments(ctx context.Context, jobID models.ULID) ([]models.TranscriptSegment, error)
	SlideContents(ctx context.Context, jobID models.ULID) ([]models.SlideContent, error)
	ReplaceContentSegments(ctx context.Context, jobID models.ULID, segments []models.ContentSegment) error
	PutSummary(ctx context.Context, jobID models.ULID, summary *models.JobSummary) error
	ReplaceQuizQuestions(ctx context.Context, jobID models.ULID, questions []models.QuizQuestion) error
}

type Stage struct {
	cfg      config.PipelineConfig
	language Language
	store    Store
}

var _ core.Stage = (*Stage)(nil)

func New(cfg config.PipelineConfig, language Language, store Store) *Stage {
	return &Stage{cfg: cfg, language: language, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	transcriptSegs, err := s.store.TranscriptSegments(ctx, state.Job.ID)
	if err != nil {
		return err
	}
	if len(transcriptSegs) == 0 {
		// Nothing was said; the job completes with zero clips.
		state.Logger.Info("empty transcript, skipping content analysis")
		return s.store.ReplaceContentSegments(ctx, state.Job.ID, nil)
	}
	transcript := renderTranscript(transcriptSegs)

	slides, err := s.store.SlideContents(ctx, state.Job.ID)
	if err != nil {
		return err
	}

	report(10, "analyzing lecture content")
	analysis, err := s.language.AnalyzeContent(ctx, state.APIKey, modelgw.ContentRequest{
		Transcript:    transcript,
		SlideConcepts: slideConcepts(slides),
		Prompt:        state.Job.Config.Prompt,
		VideoDuration: state.Media.Duration,
	})
	if err != nil {
		return err
	}

	segments := s.sanitize(state.Job.ID, analysis.Segments, state.Media.Duration)
	report(60, fmt.Sprintf("%d segment(s) identified", len(segments)))
	if err := s.store.ReplaceContentSegments(ctx, state.Job.ID, segments); err != nil {
		return err
	}

	// Summary and quiz are nice-to-have: their failure never fails the
	// stage, but cancellation still stops the run.
	report(70, "generating summary")
	if err := s.generateSummary(ctx, state, transcript); err != nil {
		if fault.IsCanceled(err) {
			return err
		}
		state.Logger.Warn("summary generation failed", "error", err.Error())
	}
	report(85, "generating quiz")
	if err := s.generateQuiz(ctx, state, transcript); err != nil {
		if fault.IsCanceled(err) {
			return err
		}
		state.Logger.Warn("quiz generation failed", "error", err.Error())
	}
	return nil
}

// sanitize enforces the segment contract on the model's proposal:
// in-bounds, at least minimally important, duration within limits,
// chronological and non-overlapping, sequentially numbered, topics
// clamped to the column width, at most maxSegments kept.
func (s *Stage) sanitize(jobID models.ULID, proposed []modelgw.ContentSegmentResult, duration float64) []models.ContentSegment {
	kept := make([]models.ContentSegment, 0, len(proposed))
	for _, p := range proposed {
		start, end := p.Start, p.End
		if start < 0 {
			start = 0
		}
		if end > duration {
			end = duration
		}
		d := end - start
		if d < s.cfg.SegmentMinSeconds || d > s.cfg.SegmentMaxSeconds {
			continue
		}
		if p.Importance < s.cfg.MinImportance {
			continue
		}
		kept = append(kept, models.ContentSegment{
			JobID:       jobID,
			Start:       start,
			End:         end,
			Topic:       clampTopic(p.Topic),
			Description: p.Description,
			Importance:  p.Importance,
			Keywords:    p.Keywords,
			Concepts:    p.Concepts,
		})
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	// Resolve overlaps in favor of the earlier segment.
	out := kept[:0]
	cursor := 0.0
	for _, seg := range kept {
		if seg.Start < cursor {
			seg.Start = cursor
			if seg.End-seg.Start < s.cfg.SegmentMinSeconds {
				continue
			}
		}
		cursor = seg.End
		seg.Order = len(out) + 1
		out = append(out, seg)
	}

	// When the model over-produces, keep the most important segments and
	// renumber chronologically.
	if len(out) > maxSegments {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
		out = out[:maxSegments]
		sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
		for i := range out {
			out[i].Order = i + 1
		}
	}
	return out
}

// clampTopic trims whitespace and truncates to maxTopicRunes.
func clampTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if runes := []rune(topic); len(runes) > maxTopicRunes {
		topic = string(runes[:maxTopicRunes])
	}
	return topic
}

func (s *Stage) generateSummary(ctx context.Context, state *core.State, transcript string) error {
	result, err := s.language.GenerateSummary(ctx, state.APIKey, transcript)
	if err != nil {
		return err
	}
	return s.store.PutSummary(ctx, state.Job.ID, &models.JobSummary{
		JobID:     state.Job.ID,
		Overview:  result.Overview,
		KeyPoints: result.KeyPoints,
	})
}

func (s *Stage) generateQuiz(ctx context.Context, state *core.State, transcript string) error {
	result, err := s.language.GenerateQuiz(ctx, state.APIKey, transcript)
	if err != nil {
		return err
	}
	questions := make([]models.QuizQuestion, 0, len(result.Questions))
	for i, q := range result.Questions {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		questions = append(questions, models.QuizQuestion{
			JobID:    state.Job.ID,
			Question: q.Question,
			Options:  q.Options,
			Answer:   q.Answer,
			Order:    i + 1,
		})
	}
	return s.store.ReplaceQuizQuestions(ctx, state.Job.ID, questions)
}

// renderTranscript lays segments out with timestamps so the model can
// anchor its spans on the original timeline.
func renderTranscript(segments []models.TranscriptSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%.1f-%.1f] %s\n", seg.Start, seg.End, seg.Text)
	}
	return b.String()
}

// slideConcepts flattens and deduplicates key concepts across slides.
func slideConcepts(slides []models.SlideContent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, slide := range slides {
		for _, concept := range slide.KeyConcepts {
			key := strings.ToLower(strings.TrimSpace(concept))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, concept)
		}
	}
	return out
}
