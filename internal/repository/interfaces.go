// Package repository provides data access layers for reelcut entities.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
)

// Typed failures shared by all repositories. ErrInvariant and ErrTransient
// carry a fault kind so the pipeline's retry policy sees store failures
// without an extra wrap at every call site.
var (
	// ErrNotFound indicates an unknown job, clip, or record.
	ErrNotFound = errors.New("record not found")

	// ErrInvariant indicates a write that would violate a data invariant,
	// such as overlapping content segments or an illegal status transition.
	// A violated invariant does not heal on retry.
	ErrInvariant = fault.New(fault.KindFatal, "invariant violation")

	// ErrTransient indicates a backend failure worth retrying.
	ErrTransient = fault.New(fault.KindTransient, "transient backend failure")
)

// JobRepository defines job row lifecycle operations.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	GetByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Job, error)
	List(ctx context.Context, offset, limit int) ([]*models.Job, int64, error)
	Update(ctx context.Context, job *models.Job) error

	// CountActiveByPrincipal counts a principal's queued and running jobs.
	CountActiveByPrincipal(ctx context.Context, principalID string) (int64, error)

	// AcquireJob atomically claims the oldest uploaded queued job for the
	// given worker, marking it running. Returns nil when no job is ready.
	AcquireJob(ctx context.Context, workerID string) (*models.Job, error)

	// GetStale returns running jobs whose worker lock is older than cutoff.
	GetStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// TerminalBefore returns terminal jobs whose completion predates cutoff.
	TerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// Delete hard-deletes the job row. Owned artifacts are removed through
	// ArtifactStore.DeleteJobArtifacts.
	Delete(ctx context.Context, id models.ULID) error
}

// CredentialRepository stores encrypted per-principal model API keys.
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *models.PrincipalCredential) error
	GetByPrincipal(ctx context.Context, principalID string) (*models.PrincipalCredential, error)
	Delete(ctx context.Context, principalID string) error
}
