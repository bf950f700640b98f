// Package layoutdetect classifies how the lecture frame is composed:
// slides only, camera only, side-by-side, or picture-in-picture. The
// classification is a cheap edge-density heuristic over a few sampled
// frames; when it is not confident the stage falls back to treating the
// whole frame as screen content rather than guessing.
package layoutdetect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
)

const (
	StageID   = core.StageLayoutDetect
	StageName = "Layout Detection"
)

// samplePoints are the fractions of the video duration where frames are
// sampled. Three points avoid title cards and end screens skewing the
// vote.
var samplePoints = [3]float64{0.10, 0.50, 0.90}

// minConfidence is the vote-average confidence below which the stage
// falls back to screen_only with confidence zero.
const minConfidence = 0.6

// FrameExtractor pulls single frames out of the original media.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, input, output string, at float64) error
}

// Store persists the per-job layout record.
type Store interface {
	PutLayoutAnalysis(ctx context.Context, jobID models.ULID, layout *models.LayoutAnalysis) error
}

type Stage struct {
	frames FrameExtractor
	store  Store
}

var _ core.Stage = (*Stage)(nil)

func New(frames FrameExtractor, store Store) *Stage {
	return &Stage{frames: frames, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	votes := make([]frameVote, 0, len(samplePoints))
	for i, point := range samplePoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(float64(i)*30, fmt.Sprintf("analyzing frame %d/%d", i+1, len(samplePoints)))

		framePath := filepath.Join(state.WorkDir, fmt.Sprintf("layout-%d.png", i))
		at := state.Media.Duration * point
		if err := s.frames.ExtractFrame(ctx, state.SourcePath, framePath, at); err != nil {
			state.Logger.Warn("frame extraction failed",
				"timestamp", at, "error", err.Error())
			continue
		}
		vote, err := analyzeFrameFile(framePath)
		os.Remove(framePath)
		if err != nil {
			state.Logger.Warn("frame analysis failed",
				"timestamp", at, "error", err.Error())
			continue
		}
		votes = append(votes, vote)
	}

	layout := tally(votes, state.Media.Width, state.Media.Height)
	report(90, fmt.Sprintf("layout %s", layout.LayoutType))
	layout.JobID = state.Job.ID
	if err := s.store.PutLayoutAnalysis(ctx, state.Job.ID, layout); err != nil {
		return fault.Wrap(fault.KindTransient, "persisting layout", err)
	}
	return nil
}

// tally picks the majority layout among the votes, scaling the winning
// vote's regions to source pixels. Too few votes or a weak average
// confidence yields the screen_only fallback.
func tally(votes []frameVote, width, height int) *models.LayoutAnalysis {
	fallback := &models.LayoutAnalysis{
		LayoutType:   models.LayoutScreenOnly,
		ScreenRegion: models.Region{X: 0, Y: 0, W: width, H: height},
		SplitRatio:   1,
		Confidence:   0,
	}
	if len(votes) == 0 {
		return fallback
	}

	sum := 0.0
	counts := make(map[models.LayoutType]int)
	for _, v := range votes {
		sum += v.confidence
		counts[v.layout]++
	}
	if sum/float64(len(votes)) < minConfidence {
		return fallback
	}

	var winner models.LayoutType
	best := 0
	for layout, n := range counts {
		if n > best {
			winner, best = layout, n
		}
	}

	// Use the most confident vote of the winning type for the geometry.
	var pick frameVote
	for _, v := range votes {
		if v.layout == winner && v.confidence >= pick.confidence {
			pick = v
		}
	}

	return &models.LayoutAnalysis{
		LayoutType:   winner,
		ScreenRegion: scaleRegion(pick.screen, width, height),
		CameraRegion: scaleRegion(pick.camera, width, height),
		SplitRatio:   pick.splitRatio,
		Confidence:   sum / float64(len(votes)),
	}
}

// scaleRegion maps a unit-square region to source pixels.
func scaleRegion(r unitRegion, width, height int) models.Region {
	return models.Region{
		X: int(r.x * float64(width)),
		Y: int(r.y * float64(height)),
		W: int(r.w * float64(width)),
		H: int(r.h * float64(height)),
	}
}
