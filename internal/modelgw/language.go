package modelgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reelcut/reelcut/internal/fault"
)

// jsonReminder is appended on the corrective retry after a shape failure.
const jsonReminder = "\n\nReturn ONLY valid JSON matching the requested schema. No prose, no markdown fences."

// ContentRequest carries everything content analysis feeds the language
// model.
type ContentRequest struct {
	Transcript    string
	SlideConcepts []string
	Prompt        string
	VideoDuration float64
}

// ContentSegmentResult is one topical segment proposed by the model.
type ContentSegmentResult struct {
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Topic       string   `json:"topic"`
	Description string   `json:"description"`
	Importance  float64  `json:"importance"`
	Keywords    []string `json:"keywords"`
	Concepts    []string `json:"concepts"`
}

// ContentAnalysis is the language backend's segmentation of the lecture.
type ContentAnalysis struct {
	Segments []ContentSegmentResult `json:"segments"`
}

// SummaryResult is the generated lecture summary.
type SummaryResult struct {
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"key_points"`
}

// QuizItem is one generated comprehension question.
type QuizItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// QuizResult is the generated quiz.
type QuizResult struct {
	Questions []QuizItem `json:"questions"`
}

// AnalyzeContent asks the language backend to segment the lecture into
// topical spans with importance scores.
func (g *Gateway) AnalyzeContent(ctx context.Context, apiKey string, req ContentRequest) (*ContentAnalysis, error) {
	prompt := buildContentPrompt(req)
	var result ContentAnalysis
	if err := g.structured(ctx, apiKey, "analyze_content", prompt, []string{"segments"}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateSummary asks the language backend for a lecture overview.
func (g *Gateway) GenerateSummary(ctx context.Context, apiKey, transcript string) (*SummaryResult, error) {
	prompt := fmt.Sprintf(
		"Summarize this lecture transcript.\n\nTranscript:\n%s\n\n"+
			`Respond with JSON: {"overview": string, "key_points": [string]}`,
		transcript)
	var result SummaryResult
	if err := g.structured(ctx, apiKey, "generate_summary", prompt, []string{"overview"}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateQuiz asks the language backend for comprehension questions.
func (g *Gateway) GenerateQuiz(ctx context.Context, apiKey, transcript string) (*QuizResult, error) {
	prompt := fmt.Sprintf(
		"Write up to 5 multiple-choice comprehension questions for this lecture transcript.\n\nTranscript:\n%s\n\n"+
			`Respond with JSON: {"questions": [{"question": string, "options": [string], "answer": string}]}`,
		transcript)
	var result QuizResult
	if err := g.structured(ctx, apiKey, "generate_quiz", prompt, []string{"questions"}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func buildContentPrompt(req ContentRequest) string {
	var sb strings.Builder
	sb.WriteString("Segment this lecture into 5 to 15 topical sections with importance scores in [0,1].\n")
	sb.WriteString("Keep each topic under 100 characters.\n")
	fmt.Fprintf(&sb, "The video is %.0f seconds long; start/end are seconds on that timeline.\n", req.VideoDuration)
	if req.Prompt != "" {
		fmt.Fprintf(&sb, "Viewer guidance: %s\n", req.Prompt)
	}
	if len(req.SlideConcepts) > 0 {
		fmt.Fprintf(&sb, "Concepts visible on slides: %s\n", strings.Join(req.SlideConcepts, ", "))
	}
	fmt.Fprintf(&sb, "\nTranscript:\n%s\n\n", req.Transcript)
	sb.WriteString(`Respond with JSON: {"segments": [{"start": number, "end": number, "topic": string, "description": string, "importance": number, "keywords": [string], "concepts": [string]}]}`)
	return sb.String()
}

// structured performs one language call expecting JSON output. On a shape
// failure it retries once with an explicit JSON-only reminder; a second
// failure is transient, since the model may do better on a later stage
// attempt.
func (g *Gateway) structured(ctx context.Context, apiKey, operation, prompt string, requiredKeys []string, dest any) error {
	raw, err := g.complete(ctx, apiKey, operation, prompt)
	if err != nil {
		return err
	}

	shapeErr := decodeStructured(raw, requiredKeys, dest)
	if shapeErr == nil {
		return nil
	}
	g.logger.Warn("model output failed shape validation, retrying with reminder",
		slog.String("operation", operation),
		slog.String("error", shapeErr.Error()),
	)

	raw, err = g.complete(ctx, apiKey, operation, prompt+jsonReminder)
	if err != nil {
		return err
	}
	if err := decodeStructured(raw, requiredKeys, dest); err != nil {
		return fault.Wrap(fault.KindTransient, operation, err)
	}
	return nil
}

// complete sends one prompt to the language backend and returns the raw
// text output.
func (g *Gateway) complete(ctx context.Context, apiKey, operation, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{"prompt": prompt})
	if err != nil {
		return "", fault.Wrap(fault.KindFatal, operation+": encoding request", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint(g.cfg.LanguageURL, "/v1/generate"), bytes.NewReader(payload))
	if err != nil {
		return "", fault.Wrap(fault.KindFatal, operation+": building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := g.call(ctx, g.language, req, apiKey, operation)
	if err != nil {
		return "", err
	}

	var resp struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fault.Wrap(fault.KindTransient, operation+": decoding response", err)
	}
	if strings.TrimSpace(resp.Output) == "" {
		return "", fault.New(fault.KindTransient, "%s: empty model output", operation)
	}
	return resp.Output, nil
}
