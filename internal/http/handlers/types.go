// Package handlers provides the HTTP API handlers for reelcut.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelcut/reelcut/internal/admission"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/http/middleware"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/repository"
)

// JobResponse is a job in API responses.
type JobResponse struct {
	ID              string     `json:"id" doc:"Job ID (ULID)"`
	Status          string     `json:"status" doc:"queued, running, completed or failed"`
	CurrentStage    string     `json:"current_stage,omitempty" doc:"Stage currently executing"`
	ProgressPercent float64    `json:"progress_percent" doc:"Overall progress, 0-100"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Error           string     `json:"error,omitempty" doc:"Failure reason, present when failed"`
	Filename        string     `json:"filename"`
	FileSize        int64      `json:"file_size"`
	ContentType     string     `json:"content_type,omitempty"`
	Source          string     `json:"source"`
	Resolution      string     `json:"resolution,omitempty"`
	ProcessingMode  string     `json:"processing_mode"`
	Prompt          string     `json:"prompt,omitempty"`
	VideoDuration   float64    `json:"video_duration,omitempty" doc:"Source duration in seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// JobFromModel converts a job row to its API shape.
func JobFromModel(job *models.Job) JobResponse {
	return JobResponse{
		ID:              job.ID.String(),
		Status:          string(job.Status),
		CurrentStage:    job.CurrentStage,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		Error:           job.Error,
		Filename:        job.Filename,
		FileSize:        job.FileSize,
		ContentType:     job.ContentType,
		Source:          string(job.Source),
		Resolution:      job.Config.Resolution,
		ProcessingMode:  string(job.Config.Mode()),
		Prompt:          job.Config.Prompt,
		VideoDuration:   job.VideoDuration,
		CreatedAt:       job.CreatedAt,
		UploadedAt:      job.UploadedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// ClipResponse is one compiled highlight clip in API responses.
type ClipResponse struct {
	ID            string  `json:"id"`
	Order         int     `json:"order" doc:"Importance rank, 1 is highest"`
	Title         string  `json:"title"`
	Start         float64 `json:"start" doc:"Start in source video seconds"`
	End           float64 `json:"end"`
	Duration      float64 `json:"duration"`
	Importance    float64 `json:"importance"`
	StartAdjusted bool    `json:"start_adjusted" doc:"Start snapped to a silence edge"`
	EndAdjusted   bool    `json:"end_adjusted"`
	VideoKey      string  `json:"video_key,omitempty" doc:"Blob key of the compiled clip"`
	ThumbnailKey  string  `json:"thumbnail_key,omitempty"`
	SubtitleKey   string  `json:"subtitle_key,omitempty" doc:"Blob key of the WebVTT subtitle, if any speech overlaps"`
	FileSize      int64   `json:"file_size,omitempty"`
}

// ClipFromModel converts a clip row to its API shape.
func ClipFromModel(clip models.Clip) ClipResponse {
	return ClipResponse{
		ID:            clip.ID.String(),
		Order:         clip.Order,
		Title:         clip.Title,
		Start:         clip.Start,
		End:           clip.End,
		Duration:      clip.Duration,
		Importance:    clip.Importance,
		StartAdjusted: clip.StartAdjusted,
		EndAdjusted:   clip.EndAdjusted,
		VideoKey:      clip.BlobKey,
		ThumbnailKey:  clip.ThumbnailKey,
		SubtitleKey:   clip.SubtitleKey,
		FileSize:      clip.FileSize,
	}
}

// SummaryResponse is the lecture summary in API responses.
type SummaryResponse struct {
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// QuizQuestionResponse is one comprehension question in API responses.
type QuizQuestionResponse struct {
	Order    int      `json:"order"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
}

// apiError maps service failures onto HTTP status codes.
func apiError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr huma.StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return huma.Error404NotFound("job not found")
	}
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return huma.Error400BadRequest(err.Error())
	case fault.KindCredential:
		return huma.Error403Forbidden(err.Error())
	case fault.KindTransient:
		return huma.Error503ServiceUnavailable("temporarily unavailable, retry later")
	default:
		return huma.Error500InternalServerError("internal error")
	}
}

// admit resolves the authenticated principal and charges its rate bucket
// for the endpoint class.
func admit(ctx context.Context, limits *admission.Controller, class string) (string, error) {
	principal := middleware.PrincipalFromContext(ctx)
	if principal == "" {
		return "", huma.Error401Unauthorized("authentication required")
	}
	if limits != nil {
		decision := limits.Check(principal, class)
		if !decision.Allowed {
			return "", huma.ErrorWithHeaders(
				huma.Error429TooManyRequests("rate limit exceeded"),
				http.Header{"Retry-After": []string{decision.RetryAfterSeconds()}},
			)
		}
	}
	return principal, nil
}
