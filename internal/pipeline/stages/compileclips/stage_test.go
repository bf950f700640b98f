package compileclips

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
	"github.com/reelcut/reelcut/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes placeholder output files. failStarts marks clip
// start times whose extraction fails.
type fakeEncoder struct {
	mu         sync.Mutex
	failStarts map[float64]bool
	extracted  []float64
}

func (e *fakeEncoder) ExtractSegment(_ context.Context, _, output string, start, _ float64) error {
	e.mu.Lock()
	e.extracted = append(e.extracted, start)
	fail := e.failStarts[start]
	e.mu.Unlock()
	if fail {
		return errors.New("ffmpeg exited 1")
	}
	return os.WriteFile(output, []byte("raw"), 0o644)
}

func (e *fakeEncoder) Transcode(_ context.Context, _, output, _ string) error {
	return os.WriteFile(output, []byte("encoded"), 0o644)
}

func (e *fakeEncoder) SetMetadata(_ context.Context, _, output, _ string) error {
	return os.WriteFile(output, []byte("final-video"), 0o644)
}

func (e *fakeEncoder) Thumbnail(_ context.Context, _, output string, _ float64) error {
	return os.WriteFile(output, []byte("jpg"), 0o644)
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBlobs) Publish(srcPath, key string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	clips      []models.Clip
	transcript []models.TranscriptSegment
	updated    map[string]repository.ClipArtifacts
}

func (s *fakeStore) Clips(context.Context, models.ULID) ([]models.Clip, error) {
	return s.clips, nil
}

func (s *fakeStore) TranscriptSegments(context.Context, models.ULID) ([]models.TranscriptSegment, error) {
	return s.transcript, nil
}

func (s *fakeStore) UpdateClipArtifacts(_ context.Context, clipID models.ULID, artifacts repository.ClipArtifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated == nil {
		s.updated = make(map[string]repository.ClipArtifacts)
	}
	s.updated[clipID.String()] = artifacts
	return nil
}

func newClip(order int, start, end float64) models.Clip {
	clip := models.Clip{Start: start, End: end, Duration: end - start, Order: order, Title: "clip"}
	clip.ID = models.NewULID()
	return clip
}

func testState(t *testing.T) *core.State {
	t.Helper()
	job := &models.Job{Config: models.ProcessingConfig{Resolution: "720p"}}
	job.ID = models.NewULID()
	return &core.State{
		Job:        job,
		SourcePath: "/tmp/in.mp4",
		Media:      &media.MediaInfo{Duration: 1800, HasVideo: true, HasAudio: true},
		WorkDir:    t.TempDir(),
		Logger:     slog.Default(),
	}
}

func testCfg() config.PipelineConfig {
	return config.PipelineConfig{CompileMaxWorkers: 2}
}

func noReport(float64, string) {}

func TestRunCompilesAllClips(t *testing.T) {
	clips := []models.Clip{newClip(1, 99, 252), newClip(2, 400, 520)}
	store := &fakeStore{
		clips: clips,
		transcript: []models.TranscriptSegment{
			{Start: 100, End: 110, Text: "first cue"},
			{Start: 500, End: 510, Text: "second cue"},
		},
	}
	blobs := &fakeBlobs{}
	stage := New(testCfg(), &fakeEncoder{}, blobs, store)
	state := testState(t)

	err := stage.Run(context.Background(), state, noReport)
	require.NoError(t, err)

	require.Len(t, store.updated, 2)
	for _, clip := range clips {
		artifacts := store.updated[clip.ID.String()]
		assert.Equal(t, "clips/"+state.Job.ID.String()+"/"+clip.ID.String()+".mp4", artifacts.BlobKey)
		assert.Equal(t, "thumbnails/"+state.Job.ID.String()+"/"+clip.ID.String()+".jpg", artifacts.ThumbnailKey)
		assert.Equal(t, "subtitles/"+state.Job.ID.String()+"/"+clip.ID.String()+".vtt", artifacts.SubtitleKey)
		assert.Equal(t, int64(len("final-video")), artifacts.FileSize)

		assert.Equal(t, []byte("final-video"), blobs.objects[artifacts.BlobKey])
		assert.Equal(t, []byte("jpg"), blobs.objects[artifacts.ThumbnailKey])
	}
}

func TestRunRebasesSubtitlesToClipTime(t *testing.T) {
	clip := newClip(1, 99, 252)
	store := &fakeStore{
		clips: []models.Clip{clip},
		transcript: []models.TranscriptSegment{
			{Start: 90, End: 104, Text: "overlaps the clip start"},
			{Start: 120, End: 130, Text: "inside"},
			{Start: 300, End: 310, Text: "after the clip"},
		},
	}
	blobs := &fakeBlobs{}
	stage := New(testCfg(), &fakeEncoder{}, blobs, store)

	err := stage.Run(context.Background(), testState(t), noReport)
	require.NoError(t, err)

	vtt := string(blobs.objects[store.updated[clip.ID.String()].SubtitleKey])
	assert.True(t, strings.HasPrefix(vtt, "WEBVTT\n\n"))
	// First cue clamped to the clip start, second rebased by 99s.
	assert.Contains(t, vtt, "00:00:00.000 --> 00:00:05.000")
	assert.Contains(t, vtt, "00:00:21.000 --> 00:00:31.000")
	assert.NotContains(t, vtt, "after the clip")
}

func TestRunNoOverlappingSpeechSkipsSubtitle(t *testing.T) {
	clip := newClip(1, 99, 252)
	store := &fakeStore{
		clips:      []models.Clip{clip},
		transcript: []models.TranscriptSegment{{Start: 300, End: 310, Text: "elsewhere"}},
	}
	stage := New(testCfg(), &fakeEncoder{}, &fakeBlobs{}, store)

	err := stage.Run(context.Background(), testState(t), noReport)
	require.NoError(t, err)

	artifacts := store.updated[clip.ID.String()]
	assert.NotEmpty(t, artifacts.BlobKey)
	assert.Empty(t, artifacts.SubtitleKey)
}

func TestRunSkipsFailedClipAndSucceeds(t *testing.T) {
	good := newClip(1, 99, 252)
	bad := newClip(2, 400, 520)
	store := &fakeStore{clips: []models.Clip{good, bad}}
	encoder := &fakeEncoder{failStarts: map[float64]bool{400: true}}
	stage := New(testCfg(), encoder, &fakeBlobs{}, store)

	err := stage.Run(context.Background(), testState(t), noReport)
	require.NoError(t, err)

	require.Len(t, store.updated, 1)
	_, ok := store.updated[good.ID.String()]
	assert.True(t, ok)
}

func TestRunAllClipsFailingFailsStage(t *testing.T) {
	store := &fakeStore{clips: []models.Clip{newClip(1, 99, 252), newClip(2, 400, 520)}}
	encoder := &fakeEncoder{failStarts: map[float64]bool{99: true, 400: true}}
	stage := New(testCfg(), encoder, &fakeBlobs{}, store)

	err := stage.Run(context.Background(), testState(t), noReport)
	require.Error(t, err)
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
	assert.Empty(t, store.updated)
}

func TestRunNoClipsIsSuccess(t *testing.T) {
	store := &fakeStore{}
	encoder := &fakeEncoder{}
	stage := New(testCfg(), encoder, &fakeBlobs{}, store)

	err := stage.Run(context.Background(), testState(t), noReport)
	require.NoError(t, err)
	assert.Empty(t, encoder.extracted)
}
