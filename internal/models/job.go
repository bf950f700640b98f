package models

import (
	"gorm.io/gorm"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates the pipeline is executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates all clips were produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job terminated with an error
	// (including cancellation).
	JobStatusFailed JobStatus = "failed"
)

// JobSource identifies where the original media came from.
type JobSource string

const (
	JobSourceUpload  JobSource = "upload"
	JobSourceYouTube JobSource = "youtube"
)

// ProcessingMode selects the analysis path: audio-only or audio plus
// slide/vision extraction.
type ProcessingMode string

const (
	ProcessingModeAudio  ProcessingMode = "audio"
	ProcessingModeVision ProcessingMode = "vision"
)

// ProcessingConfig carries the per-job options supplied at submission.
type ProcessingConfig struct {
	// Resolution is the target clip resolution: 480p, 720p, 1080p or 4k.
	// Empty means keep the source resolution.
	Resolution string `json:"resolution,omitempty"`

	// ProcessingMode is audio (default) or vision.
	ProcessingMode ProcessingMode `json:"processing_mode,omitempty"`

	// RateLimitMode slows model calls for constrained API keys.
	RateLimitMode bool `json:"rate_limit_mode,omitempty"`

	// Prompt is an optional user hint forwarded to content analysis.
	Prompt string `json:"prompt,omitempty"`
}

// Mode returns the effective processing mode, defaulting to audio.
func (c ProcessingConfig) Mode() ProcessingMode {
	if c.ProcessingMode == ProcessingModeVision {
		return ProcessingModeVision
	}
	return ProcessingModeAudio
}

// Job is the unit of work: one uploaded lecture video to be turned into
// highlight clips.
type Job struct {
	BaseModel

	// PrincipalID is the opaque identity of the submitting user.
	PrincipalID string `gorm:"not null;size:128;index" json:"principal_id"`

	// Filename is the client-supplied name of the original media.
	Filename string `gorm:"not null;size:255" json:"filename"`

	// FileSize is the declared size of the original media in bytes.
	FileSize int64 `gorm:"not null" json:"file_size"`

	// ContentType is the declared MIME type of the original media.
	ContentType string `gorm:"size:100" json:"content_type"`

	// Source indicates how the media arrived.
	Source JobSource `gorm:"not null;size:20;default:'upload'" json:"source"`

	// OriginalBlobKey is the deterministic blob key of the original media.
	OriginalBlobKey string `gorm:"size:512" json:"original_blob_key"`

	// Config holds per-job processing options as JSON.
	Config ProcessingConfig `gorm:"serializer:json" json:"processing_config"`

	// Status is the lifecycle state. Mutated only through the artifact
	// store so the terminal latch is enforced in one place.
	Status JobStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// CurrentStage names the stage currently executing.
	CurrentStage string `gorm:"size:50" json:"current_stage,omitempty"`

	// ProgressPercent is the overall progress in [0,100]. Non-decreasing
	// while the job is running.
	ProgressPercent float64 `gorm:"default:0" json:"progress_percent"`

	// ProgressMessage is the last human-readable progress note.
	ProgressMessage string `gorm:"size:512" json:"progress_message,omitempty"`

	// Error holds the failure message; present iff Status is failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// VideoDuration in seconds, populated by the first probing stage.
	VideoDuration float64 `json:"video_duration,omitempty"`

	// UploadedAt is set when the original media has landed in the blob
	// store. Workers only acquire jobs with a non-nil UploadedAt.
	UploadedAt *Time `gorm:"index" json:"uploaded_at,omitempty"`

	// StartedAt is when a worker began executing the pipeline.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal status.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// AttemptCount is the number of times a worker has picked up this job.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// LockedBy is the worker ID holding this job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is when the worker lock was taken.
	LockedAt *Time `json:"locked_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal returns true when the job reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsRunning returns true if the pipeline is currently executing.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// Uploaded returns true once the original media is in the blob store.
func (j *Job) Uploaded() bool {
	return j.UploadedAt != nil
}

// MarkRunning transitions the job to running under the given worker lock.
func (j *Job) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
	j.Error = ""
}

// MarkCompleted transitions the job to completed and releases the lock.
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Error = ""
	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed transitions the job to failed and releases the lock.
func (j *Job) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	j.LockedBy = ""
	j.LockedAt = nil
}

// ValidTransition reports whether moving from the job's current status to
// next is allowed: queued -> running -> {completed|failed}, and nothing
// leaves a terminal state.
func (j *Job) ValidTransition(next JobStatus) bool {
	switch j.Status {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.PrincipalID == "" {
		return ErrPrincipalRequired
	}
	if j.Filename == "" {
		return ErrFilenameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}
