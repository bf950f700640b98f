package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/media"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	percents []float64
	duration float64
}

func (s *fakeStore) SetJobProgress(_ context.Context, _ models.ULID, _ string, percent float64, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percents = append(s.percents, percent)
	return percent, nil
}

func (s *fakeStore) SetVideoDuration(_ context.Context, _ models.ULID, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = seconds
	return nil
}

type fakeBlobs struct {
	root string
}

func (b *fakeBlobs) WorkDir(jobID models.ULID) (string, error) {
	dir := filepath.Join(b.root, "job-"+jobID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (b *fakeBlobs) Download(_ context.Context, key, destDir string) (string, error) {
	path := filepath.Join(destDir, filepath.Base(key))
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeProber struct {
	info *media.MediaInfo
	err  error
}

func (p *fakeProber) Probe(context.Context, string) (*media.MediaInfo, error) {
	return p.info, p.err
}

type fakeBus struct {
	mu     sync.Mutex
	frames []progress.Frame
}

func (b *fakeBus) Publish(_ string, frame progress.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
}

// runLog records stage executions across goroutines.
type runLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *runLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *runLog) index(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.ids {
		if got == id {
			return i
		}
	}
	return -1
}

func (l *runLog) count(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.ids {
		if got == id {
			n++
		}
	}
	return n
}

type fakeStage struct {
	id  string
	log *runLog

	// errs is consumed one per attempt; nil entries mean success. After
	// the slice is exhausted the stage succeeds.
	mu   sync.Mutex
	errs []error

	block bool
}

func (s *fakeStage) ID() string   { return s.id }
func (s *fakeStage) Name() string { return s.id }

func (s *fakeStage) Run(ctx context.Context, _ *State, report ReportFunc) error {
	s.log.add(s.id)
	report(50, "working")
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		StageTimeout:        time.Minute,
		CompileStageTimeout: time.Minute,
		StageMaxRetries:     2,
		StageRetryBackoff:   time.Millisecond,
	}
}

type harness struct {
	exec   *Executor
	store  *fakeStore
	bus    *fakeBus
	log    *runLog
	stages map[string]*fakeStage
}

func newHarness(t *testing.T, cfg config.PipelineConfig, prober *fakeProber) *harness {
	t.Helper()
	log := &runLog{}
	stageIDs := []string{
		StageSilenceDetect, StageLayoutDetect, StageTranscribe, StageImageExtract,
		StageContentAnalyze, StageSegmentSelect, StageCompileClips,
	}
	stages := make(map[string]*fakeStage, len(stageIDs))
	for _, id := range stageIDs {
		stages[id] = &fakeStage{id: id, log: log}
	}
	store := &fakeStore{}
	bus := &fakeBus{}
	exec := NewExecutor(cfg, store, &fakeBlobs{root: t.TempDir()}, prober, bus, Stages{
		SilenceDetect:  stages[StageSilenceDetect],
		LayoutDetect:   stages[StageLayoutDetect],
		Transcribe:     stages[StageTranscribe],
		ImageExtract:   stages[StageImageExtract],
		ContentAnalyze: stages[StageContentAnalyze],
		SegmentSelect:  stages[StageSegmentSelect],
		CompileClips:   stages[StageCompileClips],
	}, nil)
	return &harness{exec: exec, store: store, bus: bus, log: log, stages: stages}
}

func testJob(mode models.ProcessingMode) *models.Job {
	job := &models.Job{
		PrincipalID:     "principal-1",
		Filename:        "lecture.mp4",
		OriginalBlobKey: "uploads/x/1_original.mp4",
		Status:          models.JobStatusRunning,
		Config:          models.ProcessingConfig{ProcessingMode: mode},
	}
	job.ID = models.NewULID()
	return job
}

func videoInfo() *media.MediaInfo {
	return &media.MediaInfo{Duration: 1800, HasVideo: true, HasAudio: true, Width: 1920, Height: 1080}
}

func TestExecuteRunsStagesInPhaseOrder(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	job := testJob(models.ProcessingModeAudio)

	err := h.exec.Execute(context.Background(), job, "key")
	require.NoError(t, err)

	assert.Equal(t, 1800.0, h.store.duration)
	assert.Equal(t, 1800.0, job.VideoDuration)

	// Audio mode skips image extraction.
	assert.Equal(t, -1, h.log.index(StageImageExtract))

	transcribe := h.log.index(StageTranscribe)
	assert.Greater(t, transcribe, h.log.index(StageSilenceDetect))
	assert.Greater(t, transcribe, h.log.index(StageLayoutDetect))

	analyze := h.log.index(StageContentAnalyze)
	assert.Greater(t, analyze, transcribe)
	assert.Greater(t, h.log.index(StageSegmentSelect), analyze)
	assert.Greater(t, h.log.index(StageCompileClips), h.log.index(StageSegmentSelect))
}

func TestExecuteVisionModeRunsImageExtract(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeVision), "key")
	require.NoError(t, err)

	extract := h.log.index(StageImageExtract)
	require.NotEqual(t, -1, extract)
	assert.Greater(t, extract, h.log.index(StageSilenceDetect))
	assert.Less(t, extract, h.log.index(StageContentAnalyze))
}

func TestExecuteRejectsMediaWithoutVideo(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: &media.MediaInfo{Duration: 60, HasAudio: true}})

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.Error(t, err)
	assert.Equal(t, fault.KindFatal, fault.KindOf(err))
	assert.Equal(t, 0, h.log.count(StageSilenceDetect))
}

func TestRunStageRetriesTransientThenSucceeds(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageTranscribe].errs = []error{
		fault.New(fault.KindTransient, "model backend unavailable"),
	}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.NoError(t, err)
	assert.Equal(t, 2, h.log.count(StageTranscribe))
}

func TestRunStageDoesNotRetryFatal(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageContentAnalyze].errs = []error{
		fault.New(fault.KindFatal, "model returned no segments"),
	}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.Error(t, err)
	assert.Equal(t, fault.KindFatal, fault.KindOf(err))
	assert.Equal(t, 1, h.log.count(StageContentAnalyze))
	assert.Equal(t, 0, h.log.count(StageSegmentSelect))
}

func TestDegradableStageAbsorbsExhaustedTransient(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, &fakeProber{info: videoInfo()})
	h.stages[StageLayoutDetect].errs = []error{
		fault.New(fault.KindTransient, "frame decode failed"),
		fault.New(fault.KindTransient, "frame decode failed"),
		fault.New(fault.KindTransient, "frame decode failed"),
	}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.NoError(t, err)
	assert.Equal(t, cfg.StageMaxRetries+1, h.log.count(StageLayoutDetect))
	assert.Equal(t, 1, h.log.count(StageCompileClips))
}

func TestDegradableStageFatalStillFailsJob(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageSilenceDetect].errs = []error{
		fault.New(fault.KindFatal, "media has no audio track"),
	}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.Error(t, err)
	assert.Equal(t, fault.KindFatal, fault.KindOf(err))
	assert.Equal(t, 0, h.log.count(StageContentAnalyze))
}

func TestDegradableStageCredentialStillFailsJob(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageImageExtract].errs = []error{
		fault.New(fault.KindCredential, "model rejected the API key"),
	}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeVision), "key")
	require.Error(t, err)
	assert.Equal(t, fault.KindCredential, fault.KindOf(err))
}

func TestExecuteCancellation(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageTranscribe].block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.exec.Execute(ctx, testJob(models.ProcessingModeAudio), "key")
	}()

	// Let the pipeline reach the blocking stage, then cancel.
	require.Eventually(t, func() bool {
		return h.log.count(StageTranscribe) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, fault.KindCanceled, fault.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not return after cancellation")
	}
	assert.Equal(t, 0, h.log.count(StageContentAnalyze))
}

func TestReportScalesIntoStageBand(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.NoError(t, err)

	var sawCompileStart, sawCompileEnd bool
	for _, frame := range h.bus.frames {
		assert.GreaterOrEqual(t, frame.Percent, 0.0)
		assert.LessOrEqual(t, frame.Percent, 100.0)
		if frame.Stage == StageCompileClips {
			switch frame.Percent {
			case 70.0:
				sawCompileStart = true
			case 100.0:
				sawCompileEnd = true
			}
		}
	}
	assert.True(t, sawCompileStart, "compile band starts at 70")
	assert.True(t, sawCompileEnd, "compile band ends at 100")
}

func TestBandScale(t *testing.T) {
	band := Band{15, 45}
	assert.Equal(t, 15.0, band.Scale(0))
	assert.Equal(t, 30.0, band.Scale(50))
	assert.Equal(t, 45.0, band.Scale(100))
	assert.Equal(t, 15.0, band.Scale(-10))
	assert.Equal(t, 45.0, band.Scale(250))
}

func TestUnclassifiedErrorTreatedAsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeProber{info: videoInfo()})
	h.stages[StageSegmentSelect].errs = []error{errors.New("boom")}

	err := h.exec.Execute(context.Background(), testJob(models.ProcessingModeAudio), "key")
	require.Error(t, err)
	assert.Equal(t, 1, h.log.count(StageSegmentSelect))
	assert.Equal(t, 0, h.log.count(StageCompileClips))
}
