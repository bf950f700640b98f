// Package scheduler runs the processing workers and the retention
// sweeper. Workers poll the job queue, execute the pipeline under a
// per-job context and drive the terminal transition through the job
// service. The runner doubles as the cancellation registry: a cancel
// request for a job running on this instance aborts its context.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/repository"
)

// maxJobAttempts bounds how often a stale job is requeued before it is
// failed for good.
const maxJobAttempts = 3

// staleCheckInterval is how often workers look for orphaned locks.
const staleCheckInterval = time.Minute

// Pipeline executes the processing stages for one acquired job.
type Pipeline interface {
	Execute(ctx context.Context, job *models.Job, apiKey string) error
}

// Lifecycle is the slice of the job service the runner drives.
type Lifecycle interface {
	CredentialFor(ctx context.Context, principalID string) (string, error)
	Complete(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, job *models.Job, reason string) error
}

// Runner manages the worker pool.
type Runner struct {
	jobs      repository.JobRepository
	pipeline  Pipeline
	lifecycle Lifecycle
	cfg       config.RunnerConfig
	grace     time.Duration
	workerID  string
	logger    *slog.Logger

	mu      sync.Mutex
	active  map[models.ULID]context.CancelFunc
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. grace bounds how long Stop waits for
// in-flight jobs to wind down after cancellation.
func NewRunner(jobs repository.JobRepository, pipeline Pipeline, lifecycle Lifecycle, cfg config.RunnerConfig, grace time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:      jobs,
		pipeline:  pipeline,
		lifecycle: lifecycle,
		cfg:       cfg,
		grace:     grace,
		workerID:  fmt.Sprintf("worker-%d", time.Now().UnixNano()),
		logger:    logger.With(slog.String("component", "runner")),
		active:    make(map[models.ULID]context.CancelFunc),
	}
}

// Start launches the worker pool and the stale-lock recovery loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.cfg.Workers; i++ {
		id := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(id)
	}

	r.wg.Add(1)
	go r.staleLoop()

	r.logger.Info("runner started",
		slog.Int("workers", r.cfg.Workers),
		slog.Duration("poll_interval", r.cfg.PollInterval),
		slog.String("worker_id", r.workerID))
	return nil
}

// Stop cancels all in-flight jobs and waits for workers to finish, up
// to the cancellation grace period.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.grace):
		r.logger.Warn("workers did not stop within grace period",
			slog.Duration("grace", r.grace))
	}

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	r.logger.Info("runner stopped")
}

// CancelJob aborts the job's context if it is running on this instance.
func (r *Runner) CancelJob(jobID models.ULID) bool {
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// worker polls for ready jobs and executes them one at a time.
func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	for {
		job, err := r.jobs.AcquireJob(r.ctx, workerID)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.logger.Error("acquiring job failed",
				slog.String("worker_id", workerID),
				slog.Any("error", err))
		}
		if job != nil {
			r.process(workerID, job)
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// process executes one acquired job and settles its terminal state.
func (r *Runner) process(workerID string, job *models.Job) {
	logger := r.logger.With(
		slog.String("worker_id", workerID),
		slog.String("job_id", job.ID.String()))
	logger.Info("job acquired", slog.Int("attempt", job.AttemptCount))

	apiKey, err := r.lifecycle.CredentialFor(r.ctx, job.PrincipalID)
	if err != nil {
		logger.Warn("credential unavailable", slog.Any("error", err))
		r.settleFailure(job, "model API key unavailable")
		return
	}

	jobCtx, cancel := context.WithTimeout(r.ctx, r.cfg.JobTimeout)
	r.mu.Lock()
	r.active[job.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, job.ID)
		r.mu.Unlock()
		cancel()
	}()

	err = r.pipeline.Execute(jobCtx, job, apiKey)
	switch {
	case err == nil:
		if cerr := r.lifecycle.Complete(context.Background(), job); cerr != nil {
			logger.Error("completing job failed", slog.Any("error", cerr))
		} else {
			logger.Info("job completed")
		}
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		logger.Warn("job timed out", slog.Duration("timeout", r.cfg.JobTimeout))
		r.settleFailure(job, fmt.Sprintf("job exceeded time limit of %s", r.cfg.JobTimeout))
	case fault.IsCanceled(err):
		logger.Info("job canceled")
		r.settleFailure(job, "canceled by user")
	default:
		logger.Error("job failed", slog.Any("error", err))
		r.settleFailure(job, err.Error())
	}
}

// settleFailure records the terminal failure outside the job context,
// which may already be canceled.
func (r *Runner) settleFailure(job *models.Job, reason string) {
	if err := r.lifecycle.Fail(context.Background(), job, reason); err != nil {
		r.logger.Error("failing job failed",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
	}
}

// staleLoop periodically recovers jobs whose worker died holding the lock.
func (r *Runner) staleLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.recoverStale()
		}
	}
}

// recoverStale requeues running jobs with an expired lock so another
// worker can pick them up. Jobs that have already burned their attempts
// are failed instead.
func (r *Runner) recoverStale() {
	cutoff := time.Now().Add(-r.cfg.LockTimeout)
	stale, err := r.jobs.GetStale(r.ctx, cutoff)
	if err != nil {
		r.logger.Error("stale job lookup failed", slog.Any("error", err))
		return
	}

	for _, job := range stale {
		// Skip jobs still running on this instance; a long stage is not
		// a dead worker.
		r.mu.Lock()
		_, local := r.active[job.ID]
		r.mu.Unlock()
		if local {
			continue
		}

		if job.AttemptCount >= maxJobAttempts {
			r.logger.Warn("stale job out of attempts",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempts", job.AttemptCount))
			r.settleFailure(job, "worker lost repeatedly")
			continue
		}

		r.logger.Warn("requeueing stale job",
			slog.String("job_id", job.ID.String()),
			slog.String("locked_by", job.LockedBy))
		job.Status = models.JobStatusQueued
		job.CurrentStage = ""
		job.LockedBy = ""
		job.LockedAt = nil
		if err := r.jobs.Update(r.ctx, job); err != nil {
			r.logger.Error("requeueing stale job failed",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
	}
}
