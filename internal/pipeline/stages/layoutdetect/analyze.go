package layoutdetect

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/reelcut/reelcut/internal/models"
	"golang.org/x/image/draw"
)

// Density thresholds, tuned on slide decks versus webcam feeds. Rendered
// text and diagrams produce dense gradients; a talking head against a
// room background barely any.
const (
	maxAnalysisWidth  = 320
	gradientThreshold = 24
	screenDensityMin  = 0.08
	cameraDensityMax  = 0.03

	// halfContrastMax is the min/max half-density ratio below which the
	// frame is split screen-and-camera. Kept below 0.5 so an inset
	// camera covering a quarter of the frame does not read as a split.
	halfContrastMax = 0.4

	// cornerDipMax is the corner/overall density ratio below which a
	// single bland corner in an otherwise dense frame reads as an
	// inset camera.
	cornerDipMax = 0.3
)

// unitRegion is a rectangle in unit-square coordinates, resolution
// independent so votes from differently sized frames compare.
type unitRegion struct {
	x, y, w, h float64
}

var fullFrame = unitRegion{0, 0, 1, 1}

// frameVote is one sampled frame's classification.
type frameVote struct {
	layout     models.LayoutType
	screen     unitRegion
	camera     unitRegion
	splitRatio float64
	confidence float64
}

func analyzeFrameFile(path string) (frameVote, error) {
	f, err := os.Open(path)
	if err != nil {
		return frameVote{}, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return frameVote{}, fmt.Errorf("decoding frame: %w", err)
	}
	return classify(toGray(img)), nil
}

// toGray converts and downscales to the analysis size. Downscaling
// denoises camera grain before the gradient pass.
func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxAnalysisWidth {
		h = h * maxAnalysisWidth / w
		w = maxAnalysisWidth
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, bounds, draw.Src, nil)
	return gray
}

// edgeMap marks pixels whose horizontal or vertical gradient exceeds the
// threshold.
func edgeMap(gray *image.Gray) ([]bool, int, int) {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	edges := make([]bool, w*h)
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			p := int(gray.GrayAt(x, y).Y)
			dx := p - int(gray.GrayAt(x+1, y).Y)
			dy := p - int(gray.GrayAt(x, y+1).Y)
			if dx < 0 {
				dx = -dx
			}
			if dy < 0 {
				dy = -dy
			}
			if dx > gradientThreshold || dy > gradientThreshold {
				edges[y*w+x] = true
			}
		}
	}
	return edges, w, h
}

// density is the edge-pixel fraction of the rectangle [x0,x1)x[y0,y1).
func density(edges []bool, w int, x0, y0, x1, y1 int) float64 {
	count, total := 0, 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			total++
			if edges[y*w+x] {
				count++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// classify inspects half and corner edge densities.
func classify(gray *image.Gray) frameVote {
	edges, w, h := edgeMap(gray)

	left := density(edges, w, 0, 0, w/2, h)
	right := density(edges, w, w/2, 0, w, h)
	overall := (left + right) / 2

	// Camera-only feeds are nearly edge free.
	if overall < cameraDensityMax {
		conf := (cameraDensityMax - overall) / cameraDensityMax
		return frameVote{layout: models.LayoutCameraOnly, camera: fullFrame, confidence: conf}
	}

	// A dense half next to a bland half is a split layout.
	lo, hi := left, right
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi >= screenDensityMin && lo/hi < halfContrastMax {
		screen := unitRegion{0, 0, 0.5, 1}
		camera := unitRegion{0.5, 0, 0.5, 1}
		if right > left {
			screen, camera = camera, screen
		}
		return frameVote{
			layout:     models.LayoutSideBySide,
			screen:     screen,
			camera:     camera,
			splitRatio: 0.5,
			confidence: 1 - lo/hi,
		}
	}

	// A single bland corner in a dense frame is an inset camera.
	if overall >= screenDensityMin {
		if corner, dip := blandestCorner(edges, w, h); dip/overall < cornerDipMax {
			return frameVote{
				layout:     models.LayoutPictureInPicture,
				screen:     fullFrame,
				camera:     corner,
				splitRatio: 1,
				confidence: 1 - dip/overall,
			}
		}
		conf := overall / (2 * screenDensityMin)
		if conf > 1 {
			conf = 1
		}
		return frameVote{
			layout:     models.LayoutScreenOnly,
			screen:     fullFrame,
			splitRatio: 1,
			confidence: conf,
		}
	}

	// Moderate density everywhere: likely a camera feed with background
	// clutter. Low confidence either way.
	return frameVote{layout: models.LayoutCameraOnly, camera: fullFrame, confidence: 0.3}
}

// blandestCorner returns the quarter-frame corner with the lowest edge
// density.
func blandestCorner(edges []bool, w, h int) (unitRegion, float64) {
	cw, ch := w/2, h/2
	corners := []struct {
		region unitRegion
		d      float64
	}{
		{unitRegion{0, 0, 0.5, 0.5}, density(edges, w, 0, 0, cw, ch)},
		{unitRegion{0.5, 0, 0.5, 0.5}, density(edges, w, cw, 0, w, ch)},
		{unitRegion{0, 0.5, 0.5, 0.5}, density(edges, w, 0, ch, cw, h)},
		{unitRegion{0.5, 0.5, 0.5, 0.5}, density(edges, w, cw, ch, w, h)},
	}
	best := corners[0]
	for _, c := range corners[1:] {
		if c.d < best.d {
			best = c
		}
	}
	return best.region, best.d
}
