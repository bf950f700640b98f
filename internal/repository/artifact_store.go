package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelcut/reelcut/internal/models"
	"gorm.io/gorm"
)

// ArtifactStore gives stages typed, job-scoped access to intermediate
// outputs. Every write is a single transaction; replace operations clear
// the stage's prior output for the job in the same transaction so stage
// retries never leave partial state. Reads return records in a fixed order
// so callers never sort.
type ArtifactStore struct {
	db *gorm.DB
}

// NewArtifactStore creates an ArtifactStore over the given connection.
func NewArtifactStore(db *gorm.DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

// replaceForJob deletes all rows of model for jobID and inserts records,
// in one transaction.
func (s *ArtifactStore) replaceForJob(ctx context.Context, jobID models.ULID, model any, records any, count int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("job_id = ?", jobID).Delete(model).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		return tx.Create(records).Error
	})
	if err != nil {
		return fmt.Errorf("%w: replacing artifacts: %v", ErrTransient, err)
	}
	return nil
}

// ReplaceSilenceRegions stores the job's silence regions, replacing any
// prior detection output. Regions must be non-overlapping and sorted;
// violations are rejected with ErrInvariant.
func (s *ArtifactStore) ReplaceSilenceRegions(ctx context.Context, jobID models.ULID, regions []models.SilenceRegion) error {
	for i := range regions {
		regions[i].JobID = jobID
		if regions[i].End <= regions[i].Start {
			return fmt.Errorf("%w: silence region %d has end <= start", ErrInvariant, i)
		}
		if i > 0 && regions[i].Start < regions[i-1].End {
			return fmt.Errorf("%w: silence regions overlap at index %d", ErrInvariant, i)
		}
	}
	return s.replaceForJob(ctx, jobID, &models.SilenceRegion{}, regions, len(regions))
}

// SilenceRegions returns the job's silence regions ordered by start time.
func (s *ArtifactStore) SilenceRegions(ctx context.Context, jobID models.ULID) ([]models.SilenceRegion, error) {
	var regions []models.SilenceRegion
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("start ASC").Find(&regions).Error; err != nil {
		return nil, fmt.Errorf("%w: getting silence regions: %v", ErrTransient, err)
	}
	return regions, nil
}

// ReplaceTranscriptSegments stores the job's transcript, replacing prior
// output. Segments must satisfy start < end.
func (s *ArtifactStore) ReplaceTranscriptSegments(ctx context.Context, jobID models.ULID, segments []models.TranscriptSegment) error {
	for i := range segments {
		segments[i].JobID = jobID
		if segments[i].End <= segments[i].Start {
			return fmt.Errorf("%w: transcript segment %d has end <= start", ErrInvariant, i)
		}
	}
	return s.replaceForJob(ctx, jobID, &models.TranscriptSegment{}, segments, len(segments))
}

// TranscriptSegments returns the job's transcript ordered by start time.
func (s *ArtifactStore) TranscriptSegments(ctx context.Context, jobID models.ULID) ([]models.TranscriptSegment, error) {
	var segments []models.TranscriptSegment
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("start ASC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("%w: getting transcript segments: %v", ErrTransient, err)
	}
	return segments, nil
}

// PutLayoutAnalysis stores the job's single layout record, replacing any
// prior one.
func (s *ArtifactStore) PutLayoutAnalysis(ctx context.Context, jobID models.ULID, layout *models.LayoutAnalysis) error {
	layout.JobID = jobID
	return s.replaceForJob(ctx, jobID, &models.LayoutAnalysis{}, layout, 1)
}

// LayoutAnalysis returns the job's layout record, or ErrNotFound.
func (s *ArtifactStore) LayoutAnalysis(ctx context.Context, jobID models.ULID) (*models.LayoutAnalysis, error) {
	var layout models.LayoutAnalysis
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&layout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting layout analysis: %v", ErrTransient, err)
	}
	return &layout, nil
}

// ReplaceSlideContents stores the job's per-frame extraction records.
func (s *ArtifactStore) ReplaceSlideContents(ctx context.Context, jobID models.ULID, slides []models.SlideContent) error {
	for i := range slides {
		slides[i].JobID = jobID
	}
	return s.replaceForJob(ctx, jobID, &models.SlideContent{}, slides, len(slides))
}

// SlideContents returns the job's slide records ordered by timestamp.
func (s *ArtifactStore) SlideContents(ctx context.Context, jobID models.ULID) ([]models.SlideContent, error) {
	var slides []models.SlideContent
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("timestamp ASC").Find(&slides).Error; err != nil {
		return nil, fmt.Errorf("%w: getting slide contents: %v", ErrTransient, err)
	}
	return slides, nil
}

// ReplaceContentSegments stores the job's topical segments. Segments must
// be chronological and non-overlapping; violations are rejected with
// ErrInvariant before anything is written.
func (s *ArtifactStore) ReplaceContentSegments(ctx context.Context, jobID models.ULID, segments []models.ContentSegment) error {
	for i := range segments {
		segments[i].JobID = jobID
		if segments[i].End <= segments[i].Start {
			return fmt.Errorf("%w: content segment %d has end <= start", ErrInvariant, i)
		}
		if i > 0 && segments[i].Start < segments[i-1].End {
			return fmt.Errorf("%w: content segments overlap at index %d", ErrInvariant, i)
		}
	}
	return s.replaceForJob(ctx, jobID, &models.ContentSegment{}, segments, len(segments))
}

// ContentSegments returns the job's topical segments ordered by start time.
func (s *ArtifactStore) ContentSegments(ctx context.Context, jobID models.ULID) ([]models.ContentSegment, error) {
	var segments []models.ContentSegment
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("start ASC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("%w: getting content segments: %v", ErrTransient, err)
	}
	return segments, nil
}

// ReplaceClips stores the job's selected clips, replacing prior selection.
func (s *ArtifactStore) ReplaceClips(ctx context.Context, jobID models.ULID, clips []models.Clip) error {
	for i := range clips {
		clips[i].JobID = jobID
		if clips[i].End <= clips[i].Start {
			return fmt.Errorf("%w: clip %d has end <= start", ErrInvariant, i)
		}
	}
	return s.replaceForJob(ctx, jobID, &models.Clip{}, clips, len(clips))
}

// Clips returns the job's clips ordered by importance rank.
func (s *ArtifactStore) Clips(ctx context.Context, jobID models.ULID) ([]models.Clip, error) {
	var clips []models.Clip
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq_order ASC").Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("%w: getting clips: %v", ErrTransient, err)
	}
	return clips, nil
}

// ClipArtifacts carries the post-compilation fields for one clip.
type ClipArtifacts struct {
	BlobKey      string
	ThumbnailKey string
	SubtitleKey  string
	FileSize     int64
}

// UpdateClipArtifacts fills the compilation fields of a clip.
func (s *ArtifactStore) UpdateClipArtifacts(ctx context.Context, clipID models.ULID, artifacts ClipArtifacts) error {
	result := s.db.WithContext(ctx).Model(&models.Clip{}).
		Where("id = ?", clipID).
		Updates(map[string]any{
			"blob_key":      artifacts.BlobKey,
			"thumbnail_key": artifacts.ThumbnailKey,
			"subtitle_key":  artifacts.SubtitleKey,
			"file_size":     artifacts.FileSize,
		})
	if result.Error != nil {
		return fmt.Errorf("%w: updating clip artifacts: %v", ErrTransient, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: clip %s", ErrNotFound, clipID)
	}
	return nil
}

// PutSummary stores the job's generated summary, replacing any prior one.
func (s *ArtifactStore) PutSummary(ctx context.Context, jobID models.ULID, summary *models.JobSummary) error {
	summary.JobID = jobID
	return s.replaceForJob(ctx, jobID, &models.JobSummary{}, summary, 1)
}

// Summary returns the job's summary, or ErrNotFound.
func (s *ArtifactStore) Summary(ctx context.Context, jobID models.ULID) (*models.JobSummary, error) {
	var summary models.JobSummary
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&summary).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting summary: %v", ErrTransient, err)
	}
	return &summary, nil
}

// ReplaceQuizQuestions stores the job's generated quiz.
func (s *ArtifactStore) ReplaceQuizQuestions(ctx context.Context, jobID models.ULID, questions []models.QuizQuestion) error {
	for i := range questions {
		questions[i].JobID = jobID
	}
	return s.replaceForJob(ctx, jobID, &models.QuizQuestion{}, questions, len(questions))
}

// QuizQuestions returns the job's quiz ordered by presentation index.
func (s *ArtifactStore) QuizQuestions(ctx context.Context, jobID models.ULID) ([]models.QuizQuestion, error) {
	var questions []models.QuizQuestion
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq_order ASC").Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("%w: getting quiz questions: %v", ErrTransient, err)
	}
	return questions, nil
}

// SetJobStatus transitions the job's status. Terminal states latch: a
// transition request on an already-terminal job is a silent no-op so that
// double terminal calls coalesce. Illegal transitions (such as completed
// on a queued job) return ErrInvariant.
func (s *ArtifactStore) SetJobStatus(ctx context.Context, jobID models.ULID, status models.JobStatus, errMsg string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: loading job: %v", ErrTransient, err)
		}

		if job.IsTerminal() {
			return nil
		}
		if job.Status == status {
			return nil
		}
		if !job.ValidTransition(status) {
			return fmt.Errorf("%w: status transition %s -> %s", ErrInvariant, job.Status, status)
		}

		switch status {
		case models.JobStatusRunning:
			job.MarkRunning(job.LockedBy)
		case models.JobStatusCompleted:
			job.MarkCompleted()
		case models.JobStatusFailed:
			job.MarkFailed(errors.New(errMsg))
		default:
			return fmt.Errorf("%w: unsupported target status %s", ErrInvariant, status)
		}
		return tx.Save(&job).Error
	})
	return err
}

// SetJobProgress records stage progress. Percent regressions are silently
// clamped to the stored value; the effective percent is returned. Progress
// writes on terminal jobs leave the row untouched.
func (s *ArtifactStore) SetJobProgress(ctx context.Context, jobID models.ULID, stage string, percent float64, message string) (float64, error) {
	effective := percent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: loading job: %v", ErrTransient, err)
		}

		if job.IsTerminal() {
			effective = job.ProgressPercent
			return nil
		}
		if percent < job.ProgressPercent {
			effective = job.ProgressPercent
		}
		if effective > 100 {
			effective = 100
		}

		return tx.Model(&job).UpdateColumns(map[string]any{
			"current_stage":    stage,
			"progress_percent": effective,
			"progress_message": message,
			"updated_at":       models.Now(),
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return effective, nil
}

// SetVideoDuration records the probed duration on the job row.
func (s *ArtifactStore) SetVideoDuration(ctx context.Context, jobID models.ULID, seconds float64) error {
	result := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		UpdateColumn("video_duration", seconds)
	if result.Error != nil {
		return fmt.Errorf("%w: setting video duration: %v", ErrTransient, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return nil
}

// DeleteJobArtifacts removes every artifact row owned by the job. Used by
// the retention sweeper after the job row itself is deleted.
func (s *ArtifactStore) DeleteJobArtifacts(ctx context.Context, jobID models.ULID) error {
	artifactModels := []any{
		&models.SilenceRegion{},
		&models.TranscriptSegment{},
		&models.LayoutAnalysis{},
		&models.SlideContent{},
		&models.ContentSegment{},
		&models.Clip{},
		&models.JobSummary{},
		&models.QuizQuestion{},
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range artifactModels {
			if err := tx.Unscoped().Where("job_id = ?", jobID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting job artifacts: %v", ErrTransient, err)
	}
	return nil
}
