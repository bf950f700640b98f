// Package service implements the job lifecycle: submission, upload
// completion, result retrieval, cancellation and credential management.
// It sits between the HTTP surface and the repositories and owns the
// terminal-transition side effects (progress bus frames, notifications).
package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/progress"
	"github.com/reelcut/reelcut/internal/repository"
	"github.com/reelcut/reelcut/internal/storage"
)

// Artifacts is the slice of the artifact store the service reads and the
// status writes it performs.
type Artifacts interface {
	SetJobStatus(ctx context.Context, jobID models.ULID, status models.JobStatus, errMsg string) error
	Clips(ctx context.Context, jobID models.ULID) ([]models.Clip, error)
	Summary(ctx context.Context, jobID models.ULID) (*models.JobSummary, error)
	QuizQuestions(ctx context.Context, jobID models.ULID) ([]models.QuizQuestion, error)
}

// Blobs checks original media presence at upload completion.
type Blobs interface {
	Exists(key string) (bool, error)
}

// Canceller interrupts a running pipeline. The scheduler registers itself
// here once its workers are up.
type Canceller interface {
	CancelJob(jobID models.ULID) bool
}

// SubmitRequest carries the client's job submission.
type SubmitRequest struct {
	Filename    string
	FileSize    int64
	ContentType string
	Config      models.ProcessingConfig
}

// SubmitResult pairs the created job with its one-shot upload grant.
type SubmitResult struct {
	Job   *models.Job
	Grant storage.UploadGrant
}

// Results aggregates everything a completed job produced.
type Results struct {
	Job     *models.Job
	Clips   []models.Clip
	Summary *models.JobSummary
	Quiz    []models.QuizQuestion
}

// JobService coordinates the job lifecycle.
type JobService struct {
	jobs      repository.JobRepository
	creds     repository.CredentialRepository
	artifacts Artifacts
	blobs     Blobs
	granter   *storage.Granter
	bus       *progress.Bus
	vault     *Vault
	notifier  Notifier
	cfg       *config.Config
	logger    *slog.Logger

	mu        sync.RWMutex
	canceller Canceller
}

// NewJobService wires the service. notifier and logger may be nil.
func NewJobService(
	jobs repository.JobRepository,
	creds repository.CredentialRepository,
	artifacts Artifacts,
	blobs Blobs,
	granter *storage.Granter,
	bus *progress.Bus,
	vault *Vault,
	notifier Notifier,
	cfg *config.Config,
	logger *slog.Logger,
) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &JobService{
		jobs:      jobs,
		creds:     creds,
		artifacts: artifacts,
		blobs:     blobs,
		granter:   granter,
		bus:       bus,
		vault:     vault,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "jobservice")),
	}
}

// SetCanceller registers the running-job canceller.
func (s *JobService) SetCanceller(c Canceller) {
	s.mu.Lock()
	s.canceller = c
	s.mu.Unlock()
}

// Submit validates the request, checks the principal has a usable model
// credential, creates the queued job and issues its upload grant. The
// original media itself arrives through the grant-authorized PUT.
func (s *JobService) Submit(ctx context.Context, principalID string, req SubmitRequest) (*SubmitResult, error) {
	if principalID == "" {
		return nil, fault.New(fault.KindValidation, "principal required")
	}
	if err := s.validateSubmission(req); err != nil {
		return nil, err
	}

	// Fail fast at submission rather than at transcription time.
	if _, err := s.CredentialFor(ctx, principalID); err != nil {
		return nil, err
	}

	job := &models.Job{
		PrincipalID: principalID,
		Filename:    req.Filename,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
		Source:      models.JobSourceUpload,
		Config:      req.Config,
		Status:      models.JobStatusQueued,
	}
	job.ID = models.NewULID()
	job.OriginalBlobKey = storage.UploadKey(job.ID, req.Filename, time.Now())

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	grant, err := s.granter.Issue(job.OriginalBlobKey)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("principal_id", principalID),
		slog.String("filename", req.Filename),
		slog.Int64("size", req.FileSize),
		slog.String("mode", string(job.Config.Mode())),
	)
	return &SubmitResult{Job: job, Grant: grant}, nil
}

func (s *JobService) validateSubmission(req SubmitRequest) error {
	name := req.Filename
	if name == "" || len(name) > 255 {
		return fault.New(fault.KindValidation, "filename must be 1-255 characters")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fault.New(fault.KindValidation, "filename must not contain path separators")
	}

	if req.FileSize <= 0 {
		return fault.New(fault.KindValidation, "file size must be positive")
	}
	if max := int64(s.cfg.Limits.MaxUploadSize); max > 0 && req.FileSize > max {
		return fault.New(fault.KindValidation, "file size %d exceeds limit %d", req.FileSize, max)
	}

	if !contains(s.cfg.Limits.AllowedContentTypes, strings.ToLower(req.ContentType)) {
		return fault.New(fault.KindValidation, "content type %q is not supported", req.ContentType)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !contains(s.cfg.Limits.AllowedExtensions, ext) {
		return fault.New(fault.KindValidation, "file extension %q is not supported", ext)
	}

	switch req.Config.Resolution {
	case "", "480p", "720p", "1080p", "4k":
	default:
		return fault.New(fault.KindValidation, "unknown resolution %q", req.Config.Resolution)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// CompleteUpload marks the original media as landed, making the job
// eligible for worker pickup. Idempotent for an already-uploaded job.
func (s *JobService) CompleteUpload(ctx context.Context, principalID string, jobID models.ULID) (*models.Job, error) {
	job, err := s.owned(ctx, principalID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Uploaded() {
		return job, nil
	}
	if job.Status != models.JobStatusQueued {
		return nil, fault.New(fault.KindValidation, "job is %s, upload can no longer complete", job.Status)
	}

	exists, err := s.blobs.Exists(job.OriginalBlobKey)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "checking uploaded media", err)
	}
	if !exists {
		return nil, fault.New(fault.KindValidation, "original media has not been uploaded")
	}

	now := models.Now()
	job.UploadedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("upload complete", slog.String("job_id", job.ID.String()))
	return job, nil
}

// Get returns the job if the principal owns it or is an admin.
func (s *JobService) Get(ctx context.Context, principalID string, jobID models.ULID) (*models.Job, error) {
	return s.owned(ctx, principalID, jobID)
}

// ListForPrincipal returns the principal's most recent jobs.
func (s *JobService) ListForPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Job, error) {
	return s.jobs.GetByPrincipal(ctx, principalID, limit)
}

// ListAll returns a page of all jobs; admin only.
func (s *JobService) ListAll(ctx context.Context, principalID string, offset, limit int) ([]*models.Job, int64, error) {
	if !s.cfg.Auth.IsAdmin(principalID) {
		return nil, 0, fault.New(fault.KindCredential, "admin access required")
	}
	return s.jobs.List(ctx, offset, limit)
}

// ResultsFor returns the clips, summary and quiz of a completed job.
func (s *JobService) ResultsFor(ctx context.Context, principalID string, jobID models.ULID) (*Results, error) {
	job, err := s.owned(ctx, principalID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fault.New(fault.KindValidation, "job is %s, results are available once completed", job.Status)
	}

	clips, err := s.artifacts.Clips(ctx, jobID)
	if err != nil {
		return nil, err
	}
	summary, err := s.artifacts.Summary(ctx, jobID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	quiz, err := s.artifacts.QuizQuestions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Results{Job: job, Clips: clips, Summary: summary, Quiz: quiz}, nil
}

// Cancel stops a job. Queued jobs fail immediately; running jobs are
// interrupted through the registered canceller, which drives the terminal
// transition itself. Terminal jobs are left alone.
func (s *JobService) Cancel(ctx context.Context, principalID string, jobID models.ULID) error {
	job, err := s.owned(ctx, principalID, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if job.IsRunning() {
		s.mu.RLock()
		canceller := s.canceller
		s.mu.RUnlock()
		if canceller != nil && canceller.CancelJob(job.ID) {
			s.logger.Info("cancellation signaled", slog.String("job_id", job.ID.String()))
			return nil
		}
		// The worker is not on this instance or already gone; fall
		// through and fail the row directly.
	}

	return s.Fail(ctx, job, "canceled by user")
}

// Complete drives the job to its completed terminal state, latches the
// bus and notifies.
func (s *JobService) Complete(ctx context.Context, job *models.Job) error {
	if err := s.artifacts.SetJobStatus(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
		return err
	}
	clips, err := s.artifacts.Clips(ctx, job.ID)
	if err != nil {
		clips = nil
	}
	s.bus.PublishTerminal(job.ID.String(), progress.Frame{
		Kind:    progress.KindComplete,
		Percent: 100,
		Message: "processing complete",
	})
	s.notifier.JobCompleted(ctx, job, len(clips))
	return nil
}

// Fail drives the job to its failed terminal state, latches the bus and
// notifies. The artifact store's terminal latch makes repeated calls
// harmless.
func (s *JobService) Fail(ctx context.Context, job *models.Job, reason string) error {
	if err := s.artifacts.SetJobStatus(ctx, job.ID, models.JobStatusFailed, reason); err != nil {
		return err
	}
	s.bus.PublishTerminal(job.ID.String(), progress.Frame{
		Kind:  progress.KindError,
		Error: reason,
	})
	s.notifier.JobFailed(ctx, job, reason)
	return nil
}

// PutCredential seals and stores the principal's model API key.
func (s *JobService) PutCredential(ctx context.Context, principalID, apiKey string) error {
	if apiKey == "" {
		return fault.New(fault.KindValidation, "api key required")
	}
	ciphertext, nonce, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return err
	}
	return s.creds.Upsert(ctx, &models.PrincipalCredential{
		PrincipalID: principalID,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
	})
}

// DeleteCredential removes the principal's stored key.
func (s *JobService) DeleteCredential(ctx context.Context, principalID string) error {
	return s.creds.Delete(ctx, principalID)
}

// CredentialFor decrypts the principal's model API key for a pipeline run.
func (s *JobService) CredentialFor(ctx context.Context, principalID string) (string, error) {
	cred, err := s.creds.GetByPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fault.New(fault.KindCredential, "no model API key stored for principal")
		}
		return "", err
	}
	return s.vault.Decrypt(cred.Ciphertext, cred.Nonce)
}

// owned loads the job and enforces ownership. Non-owners get not-found
// rather than forbidden so job IDs leak nothing; admins may read any job.
func (s *JobService) owned(ctx context.Context, principalID string, jobID models.ULID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PrincipalID != principalID && !s.cfg.Auth.IsAdmin(principalID) {
		return nil, repository.ErrNotFound
	}
	return job, nil
}
