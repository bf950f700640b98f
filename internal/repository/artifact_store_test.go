package repository

import (
	"context"
	"testing"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/database"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ArtifactStore, JobRepository) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewArtifactStore(db.DB), NewJobRepository(db.DB)
}

func createTestJob(t *testing.T, jobs JobRepository) *models.Job {
	t.Helper()
	job := &models.Job{
		PrincipalID: "principal-1",
		Filename:    "lecture.mp4",
		FileSize:    1024,
		ContentType: "video/mp4",
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestReplaceSilenceRegionsClearsPrior(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	first := []models.SilenceRegion{
		{Start: 2.0, End: 3.0, ThresholdDB: -40},
		{Start: 7.0, End: 8.0, ThresholdDB: -40},
	}
	require.NoError(t, store.ReplaceSilenceRegions(ctx, job.ID, first))

	// A stage retry replaces, never appends.
	second := []models.SilenceRegion{{Start: 1.0, End: 1.8, ThresholdDB: -40}}
	require.NoError(t, store.ReplaceSilenceRegions(ctx, job.ID, second))

	got, err := store.SilenceRegions(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Start)
	assert.Equal(t, 1.8, got[0].End)
}

func TestReplaceSilenceRegionsRejectsOverlap(t *testing.T) {
	store, jobs := newTestStore(t)
	job := createTestJob(t, jobs)

	err := store.ReplaceSilenceRegions(context.Background(), job.ID, []models.SilenceRegion{
		{Start: 2.0, End: 5.0},
		{Start: 4.0, End: 6.0},
	})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestSilenceRegionsOrderedByStart(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.ReplaceSilenceRegions(ctx, job.ID, []models.SilenceRegion{
		{Start: 10.0, End: 11.0},
	}))
	// Second write already sorted; read must come back sorted regardless of
	// insert order within a batch.
	require.NoError(t, store.ReplaceSilenceRegions(ctx, job.ID, []models.SilenceRegion{
		{Start: 2.0, End: 3.0},
		{Start: 7.0, End: 8.0},
	}))

	got, err := store.SilenceRegions(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Less(t, got[0].Start, got[1].Start)
}

func TestReplaceContentSegmentsRejectsOverlap(t *testing.T) {
	store, jobs := newTestStore(t)
	job := createTestJob(t, jobs)

	err := store.ReplaceContentSegments(context.Background(), job.ID, []models.ContentSegment{
		{Start: 0, End: 120, Topic: "intro", Importance: 0.5, Order: 1},
		{Start: 100, End: 200, Topic: "body", Importance: 0.7, Order: 2},
	})
	assert.ErrorIs(t, err, ErrInvariant)

	// Nothing was written.
	got, gerr := store.ContentSegments(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Empty(t, got)
}

func TestReplaceContentSegmentsRoundtrip(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	segments := []models.ContentSegment{
		{Start: 0, End: 120, Topic: "introduction", Importance: 0.4, Order: 1,
			Keywords: []string{"welcome", "syllabus"}},
		{Start: 120, End: 400, Topic: "main theorem", Importance: 0.9, Order: 2,
			Concepts: []string{"induction"}},
	}
	require.NoError(t, store.ReplaceContentSegments(ctx, job.ID, segments))

	got, err := store.ContentSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "introduction", got[0].Topic)
	assert.Equal(t, []string{"welcome", "syllabus"}, got[0].Keywords)
	assert.Equal(t, 280.0, got[1].Duration())
}

func TestLayoutAnalysisSingleRecord(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	_, err := store.LayoutAnalysis(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutLayoutAnalysis(ctx, job.ID, &models.LayoutAnalysis{
		LayoutType:   models.LayoutSideBySide,
		ScreenRegion: models.Region{X: 0, Y: 0, W: 1280, H: 1080},
		CameraRegion: models.Region{X: 1280, Y: 0, W: 640, H: 1080},
		SplitRatio:   0.67,
		Confidence:   0.8,
	}))

	// Retry overwrites the single record.
	require.NoError(t, store.PutLayoutAnalysis(ctx, job.ID, &models.LayoutAnalysis{
		LayoutType: models.LayoutScreenOnly,
		Confidence: 0.9,
	}))

	got, err := store.LayoutAnalysis(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LayoutScreenOnly, got.LayoutType)
}

func TestClipsOrderedByRank(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.ReplaceClips(ctx, job.ID, []models.Clip{
		{Start: 300, End: 450, Duration: 150, Order: 2, Title: "second", Importance: 0.6},
		{Start: 0, End: 180, Duration: 180, Order: 1, Title: "first", Importance: 0.9},
	}))

	got, err := store.Clips(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, "second", got[1].Title)
	assert.False(t, got[0].Compiled())
}

func TestUpdateClipArtifacts(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.ReplaceClips(ctx, job.ID, []models.Clip{
		{Start: 0, End: 180, Duration: 180, Order: 1, Title: "first", Importance: 0.9},
	}))
	clips, err := store.Clips(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateClipArtifacts(ctx, clips[0].ID, ClipArtifacts{
		BlobKey:      "clips/j/c.mp4",
		ThumbnailKey: "thumbnails/j/c.jpg",
		SubtitleKey:  "subtitles/j/c.vtt",
		FileSize:     42_000_000,
	}))

	got, err := store.Clips(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got[0].Compiled())
	assert.Equal(t, int64(42_000_000), got[0].FileSize)

	err = store.UpdateClipArtifacts(ctx, models.NewULID(), ClipArtifacts{BlobKey: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetJobStatusTerminalLatch(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusRunning, ""))
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusCompleted, ""))

	// Terminal state latches: a late failure report is coalesced to a no-op.
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusFailed, "too late"))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestSetJobStatusRejectsIllegalTransition(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	err := store.SetJobStatus(ctx, job.ID, models.JobStatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvariant)

	err = store.SetJobStatus(ctx, models.NewULID(), models.JobStatusRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetJobStatusFailedRecordsError(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusRunning, ""))
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusFailed, "transcription failed: no audio track"))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "transcription failed: no audio track", got.Error)
	assert.Empty(t, got.LockedBy)
}

func TestSetJobProgressMonotonicClamp(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusRunning, ""))

	eff, err := store.SetJobProgress(ctx, job.ID, "transcribe", 30, "transcribing chunk 2/4")
	require.NoError(t, err)
	assert.Equal(t, 30.0, eff)

	// A stage retry reports a lower figure; the stored value wins.
	eff, err = store.SetJobProgress(ctx, job.ID, "transcribe", 17, "transcribing chunk 1/4")
	require.NoError(t, err)
	assert.Equal(t, 30.0, eff)

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.ProgressPercent)
	assert.Equal(t, "transcribing chunk 1/4", got.ProgressMessage)
}

func TestSetJobProgressIgnoredWhenTerminal(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusRunning, ""))
	require.NoError(t, store.SetJobStatus(ctx, job.ID, models.JobStatusFailed, "boom"))

	eff, err := store.SetJobProgress(ctx, job.ID, "compile_clips", 90, "late report")
	require.NoError(t, err)
	assert.Equal(t, 0.0, eff)

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.ProgressPercent)
}

func TestSummaryAndQuizRoundtrip(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	_, err := store.Summary(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutSummary(ctx, job.ID, &models.JobSummary{
		Overview:  "A lecture on graph algorithms.",
		KeyPoints: []string{"BFS", "DFS"},
	}))
	summary, err := store.Summary(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"BFS", "DFS"}, summary.KeyPoints)

	require.NoError(t, store.ReplaceQuizQuestions(ctx, job.ID, []models.QuizQuestion{
		{Question: "What does BFS explore first?", Options: []string{"depth", "breadth"}, Answer: "breadth", Order: 1},
	}))
	questions, err := store.QuizQuestions(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "breadth", questions[0].Answer)
}

func TestDeleteJobArtifacts(t *testing.T) {
	store, jobs := newTestStore(t)
	ctx := context.Background()
	job := createTestJob(t, jobs)

	require.NoError(t, store.ReplaceSilenceRegions(ctx, job.ID, []models.SilenceRegion{{Start: 1, End: 2}}))
	require.NoError(t, store.ReplaceClips(ctx, job.ID, []models.Clip{{Start: 0, End: 180, Duration: 180, Order: 1}}))
	require.NoError(t, store.ReplaceTranscriptSegments(ctx, job.ID, []models.TranscriptSegment{{Start: 0, End: 5, Text: "hello"}}))

	require.NoError(t, store.DeleteJobArtifacts(ctx, job.ID))

	regions, err := store.SilenceRegions(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, regions)
	clips, err := store.Clips(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, clips)
	segments, err := store.TranscriptSegments(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, segments)
}
