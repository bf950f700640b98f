// Package imageextract samples frames from the screen region and runs
// them through the vision model to recover slide text and concepts. It
// only runs in vision mode, and a failure degrades the job to
// audio-quality analysis instead of failing it.
package imageextract

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/modelgw"
	"github.com/reelcut/reelcut/internal/pipeline/core"
)

const (
	StageID   = core.StageImageExtract
	StageName = "Slide Extraction"
)

const (
	// sampleInterval is the target spacing between sampled frames.
	sampleInterval = 5.0
	// maxFrames caps the vision calls per job.
	maxFrames = 10
)

// FrameExtractor pulls single frames out of the original media.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, input, output string, at float64) error
}

// Vision is the frame analysis model call.
type Vision interface {
	AnalyzeFrame(ctx context.Context, apiKey, imagePath string) (*modelgw.FrameAnalysis, error)
}

// Store reads the layout and persists slide contents.
type Store interface {
	LayoutAnalysis(ctx context.Context, jobID models.ULID) (*models.LayoutAnalysis, error)
	ReplaceSlideContents(ctx context.Context, jobID models.ULID, slides []models.SlideContent) error
}

type Stage struct {
	frames FrameExtractor
	vision Vision
	store  Store
}

var _ core.Stage = (*Stage)(nil)

func New(frames FrameExtractor, vision Vision, store Store) *Stage {
	return &Stage{frames: frames, vision: vision, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	screen := s.screenRegion(ctx, state)
	points := samplePoints(state.Media.Duration)
	if len(points) == 0 {
		return s.store.ReplaceSlideContents(ctx, state.Job.ID, nil)
	}

	var (
		slides   []models.SlideContent
		lastKey  string
		failures int
	)
	for i, at := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(float64(i)/float64(len(points))*90, fmt.Sprintf("slide %d/%d", i+1, len(points)))

		framePath := filepath.Join(state.WorkDir, fmt.Sprintf("slide-%03d.png", i))
		analysis, err := s.analyzeAt(ctx, state, framePath, at, screen)
		os.Remove(framePath)
		if err != nil {
			if fault.IsCanceled(err) || fault.KindOf(err) == fault.KindCredential {
				return err
			}
			failures++
			state.Logger.Warn("slide analysis failed", "timestamp", at, "error", err.Error())
			continue
		}

		// Consecutive frames of the same slide come back with the same
		// content; keep only the first sighting.
		key := contentKey(analysis)
		if key == "" || key == lastKey {
			continue
		}
		lastKey = key
		slides = append(slides, models.SlideContent{
			JobID:          state.Job.ID,
			Timestamp:      at,
			TextBlocks:     analysis.TextBlocks,
			VisualElements: analysis.VisualElements,
			KeyConcepts:    analysis.KeyConcepts,
		})
	}

	if failures == len(points) {
		return fault.New(fault.KindTransient, "all %d slide frames failed analysis", failures)
	}
	report(95, fmt.Sprintf("extracted %d slide(s)", len(slides)))
	return s.store.ReplaceSlideContents(ctx, state.Job.ID, slides)
}

// screenRegion returns the layout's screen rectangle, or the full frame
// when layout detection was degraded away.
func (s *Stage) screenRegion(ctx context.Context, state *core.State) models.Region {
	full := models.Region{X: 0, Y: 0, W: state.Media.Width, H: state.Media.Height}
	layout, err := s.store.LayoutAnalysis(ctx, state.Job.ID)
	if err != nil || layout.ScreenRegion.W <= 0 || layout.ScreenRegion.H <= 0 {
		return full
	}
	return layout.ScreenRegion
}

func (s *Stage) analyzeAt(ctx context.Context, state *core.State, framePath string, at float64, screen models.Region) (*modelgw.FrameAnalysis, error) {
	if err := s.frames.ExtractFrame(ctx, state.SourcePath, framePath, at); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "extracting frame", err)
	}
	if err := cropToRegion(framePath, screen, state.Media.Width, state.Media.Height); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "cropping frame", err)
	}
	return s.vision.AnalyzeFrame(ctx, state.APIKey, framePath)
}

// samplePoints spaces frames sampleInterval apart, stretching the
// spacing when the cap would be exceeded.
func samplePoints(duration float64) []float64 {
	if duration < sampleInterval {
		return nil
	}
	count := int(duration / sampleInterval)
	if count > maxFrames {
		count = maxFrames
	}
	interval := duration / float64(count+1)
	points := make([]float64, count)
	for i := range points {
		points[i] = interval * float64(i+1)
	}
	return points
}

// cropToRegion rewrites the frame file cropped to the region. A region
// covering the whole frame leaves the file untouched.
func cropToRegion(path string, region models.Region, fullW, fullH int) error {
	if region.X == 0 && region.Y == 0 && region.W >= fullW && region.H >= fullH {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	rect := image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H).Intersect(bounds)
	if rect.Empty() {
		return fmt.Errorf("screen region %+v lies outside the frame", region)
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			cropped.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, cropped)
}

// contentKey canonicalizes an analysis for slide deduplication.
func contentKey(a *modelgw.FrameAnalysis) string {
	parts := make([]string, 0, len(a.TextBlocks)+len(a.KeyConcepts))
	for _, t := range a.TextBlocks {
		parts = append(parts, strings.ToLower(strings.TrimSpace(t)))
	}
	for _, c := range a.KeyConcepts {
		parts = append(parts, strings.ToLower(strings.TrimSpace(c)))
	}
	return strings.Join(parts, "\n")
}
