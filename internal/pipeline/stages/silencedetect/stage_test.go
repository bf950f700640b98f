package silencedetect

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	spans []timeline.Span
	err   error

	gotThreshold float64
	gotMinDur    float64
}

func (d *fakeDetector) DetectSilence(_ context.Context, _ string, thresholdDB, minDuration, _ float64) ([]timeline.Span, error) {
	d.gotThreshold = thresholdDB
	d.gotMinDur = minDuration
	return d.spans, d.err
}

type fakeStore struct {
	regions []models.SilenceRegion
	err     error
}

func (s *fakeStore) ReplaceSilenceRegions(_ context.Context, _ models.ULID, regions []models.SilenceRegion) error {
	s.regions = regions
	return s.err
}

func testState(hasAudio bool) *core.State {
	job := &models.Job{}
	job.ID = models.NewULID()
	return &core.State{
		Job:        job,
		SourcePath: "/tmp/in.mp4",
		Media:      &media.MediaInfo{Duration: 600, HasVideo: true, HasAudio: hasAudio},
		Logger:     slog.Default(),
	}
}

func testCfg() config.PipelineConfig {
	return config.PipelineConfig{SilenceThresholdDB: -40, MinSilenceMs: 500}
}

func TestRunPersistsNormalizedRegions(t *testing.T) {
	detector := &fakeDetector{spans: []timeline.Span{
		{Start: 120, End: 118}, // inverted, dropped by normalization
		{Start: 10, End: 12},
		{Start: 11, End: 14}, // overlaps previous, merged
	}}
	store := &fakeStore{}
	stage := New(testCfg(), detector, store)

	err := stage.Run(context.Background(), testState(true), func(float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, -40.0, detector.gotThreshold)
	assert.Equal(t, 0.5, detector.gotMinDur)

	require.Len(t, store.regions, 1)
	assert.Equal(t, 10.0, store.regions[0].Start)
	assert.Equal(t, 14.0, store.regions[0].End)
	assert.Equal(t, -40.0, store.regions[0].ThresholdDB)
}

func TestRunNoAudioTrackIsFatal(t *testing.T) {
	stage := New(testCfg(), &fakeDetector{}, &fakeStore{})

	err := stage.Run(context.Background(), testState(false), func(float64, string) {})
	require.Error(t, err)
	assert.Equal(t, fault.KindFatal, fault.KindOf(err))
}

func TestRunToolFailureIsTransient(t *testing.T) {
	detector := &fakeDetector{err: errors.New("ffmpeg exited 1")}
	stage := New(testCfg(), detector, &fakeStore{})

	err := stage.Run(context.Background(), testState(true), func(float64, string) {})
	require.Error(t, err)
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
}

func TestRunSilenceFreeAudioWritesEmptySet(t *testing.T) {
	store := &fakeStore{regions: []models.SilenceRegion{{Start: 1, End: 2}}}
	stage := New(testCfg(), &fakeDetector{}, store)

	err := stage.Run(context.Background(), testState(true), func(float64, string) {})
	require.NoError(t, err)
	assert.Empty(t, store.regions)
}
