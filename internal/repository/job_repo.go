package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelcut/reelcut/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepo{db: db}
}

// Create creates a new job.
func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetByPrincipal retrieves a principal's jobs, newest first.
func (r *jobRepo) GetByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	q := r.db.WithContext(ctx).Where("principal_id = ?", principalID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting jobs by principal: %w", err)
	}
	return jobs, nil
}

// List retrieves jobs with pagination, newest first.
func (r *jobRepo) List(ctx context.Context, offset, limit int) ([]*models.Job, int64, error) {
	var jobs []*models.Job
	var total int64

	q := r.db.WithContext(ctx).Model(&models.Job{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// Update updates an existing job.
func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// CountActiveByPrincipal counts a principal's queued and running jobs.
func (r *jobRepo) CountActiveByPrincipal(ctx context.Context, principalID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("principal_id = ? AND status IN (?, ?)",
			principalID, models.JobStatusQueued, models.JobStatusRunning).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting active jobs: %w", err)
	}
	return count, nil
}

// AcquireJob atomically acquires a queued, uploaded job for execution.
// Uses SELECT FOR UPDATE with SKIP LOCKED for safe concurrent access.
func (r *jobRepo) AcquireJob(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.JobStatusQueued).
			Where("uploaded_at IS NOT NULL").
			Where("locked_by IS NULL OR locked_by = ''").
			Order("created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err // Will cause nil return
			}
			return fmt.Errorf("finding queued job: %w", err)
		}

		job.MarkRunning(workerID)
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("acquiring job: %w", err)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No jobs available
		}
		return nil, err
	}
	return &job, nil
}

// GetStale returns running jobs whose worker lock is older than cutoff.
func (r *jobRepo) GetStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, cutoff).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("getting stale jobs: %w", err)
	}
	return jobs, nil
}

// TerminalBefore returns terminal jobs completed before cutoff.
func (r *jobRepo) TerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	q := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, cutoff).
		Order("completed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting terminal jobs: %w", err)
	}
	return jobs, nil
}

// Delete hard-deletes a job row.
func (r *jobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)

// credentialRepo implements CredentialRepository using GORM.
type credentialRepo struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

// Upsert inserts or replaces a principal's encrypted credential.
func (r *credentialRepo) Upsert(ctx context.Context, cred *models.PrincipalCredential) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "nonce", "updated_at"}),
		}).
		Create(cred).Error
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

// GetByPrincipal retrieves a principal's encrypted credential.
func (r *credentialRepo) GetByPrincipal(ctx context.Context, principalID string) (*models.PrincipalCredential, error) {
	var cred models.PrincipalCredential
	if err := r.db.WithContext(ctx).Where("principal_id = ?", principalID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return &cred, nil
}

// Delete removes a principal's stored credential.
func (r *credentialRepo) Delete(ctx context.Context, principalID string) error {
	if err := r.db.WithContext(ctx).Unscoped().
		Where("principal_id = ?", principalID).
		Delete(&models.PrincipalCredential{}).Error; err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

var _ CredentialRepository = (*credentialRepo)(nil)
