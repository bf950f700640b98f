package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/repository"
)

// sweepBatch bounds how many jobs one sweep pass removes.
const sweepBatch = 100

// ArtifactPurger removes a job's derived database records.
type ArtifactPurger interface {
	DeleteJobArtifacts(ctx context.Context, jobID models.ULID) error
}

// BlobPurger removes a job's files from the blob store.
type BlobPurger interface {
	DeleteJob(jobID models.ULID) error
}

// StreamForgetter drops a job's progress topic.
type StreamForgetter interface {
	Forget(jobID string)
}

// Sweeper deletes terminal jobs past the retention age on a cron
// schedule, together with their artifacts, blobs and progress topic.
type Sweeper struct {
	cfg       config.RetentionConfig
	jobs      repository.JobRepository
	artifacts ArtifactPurger
	blobs     BlobPurger
	streams   StreamForgetter
	logger    *slog.Logger

	cron *cron.Cron
}

// NewSweeper creates a retention sweeper.
func NewSweeper(cfg config.RetentionConfig, jobs repository.JobRepository, artifacts ArtifactPurger, blobs BlobPurger, streams StreamForgetter, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:       cfg,
		jobs:      jobs,
		artifacts: artifacts,
		blobs:     blobs,
		streams:   streams,
		logger:    logger.With(slog.String("component", "retention")),
	}
}

// Start schedules the sweep. Disabled retention is not an error.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("retention disabled")
		return nil
	}

	// Six fields, seconds first.
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention cron %q: %w", s.cfg.Cron, err)
	}

	s.cron.Start()
	s.logger.Info("retention scheduled",
		slog.String("cron", s.cfg.Cron),
		slog.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Stop halts the cron schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep removes all terminal jobs older than the retention age and
// returns how many were deleted. Per-job purge failures are logged and
// leave the job row in place for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.MaxAge)
	deleted := 0

	for {
		jobs, err := s.jobs.TerminalBefore(ctx, cutoff, sweepBatch)
		if err != nil {
			return deleted, err
		}
		if len(jobs) == 0 {
			break
		}

		progressed := false
		for _, job := range jobs {
			if err := s.purge(ctx, job); err != nil {
				s.logger.Error("purging job failed",
					slog.String("job_id", job.ID.String()),
					slog.Any("error", err))
				continue
			}
			deleted++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	if deleted > 0 {
		s.logger.Info("retention sweep done", slog.Int("deleted", deleted))
	}
	return deleted, nil
}

// purge removes everything the job owns, row last so a partial failure
// is retried on the next sweep.
func (s *Sweeper) purge(ctx context.Context, job *models.Job) error {
	if err := s.artifacts.DeleteJobArtifacts(ctx, job.ID); err != nil {
		return fmt.Errorf("deleting artifacts: %w", err)
	}
	if err := s.blobs.DeleteJob(job.ID); err != nil {
		return fmt.Errorf("deleting blobs: %w", err)
	}
	s.streams.Forget(job.ID.String())
	if err := s.jobs.Delete(ctx, job.ID); err != nil {
		return fmt.Errorf("deleting job row: %w", err)
	}
	return nil
}
