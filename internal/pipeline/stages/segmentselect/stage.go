// Package segmentselect turns content segments into the final clip
// selection: boundaries snapped to nearby silence so clips start and end
// on natural pauses, filtered to the clip duration window, ranked by
// importance.
package segmentselect

import (
	"context"
	"fmt"
	"sort"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/models"
	"github.com/reelcut/reelcut/internal/pipeline/core"
)

const (
	StageID   = core.StageSegmentSelect
	StageName = "Segment Selection"
)

const (
	// snapWindow is how far a boundary may move to reach a silence edge.
	snapWindow = 5.0
	// minSnappedLength is the least clip length a snap may leave behind;
	// a snap that would collapse the clip below it is discarded and the
	// original boundary kept.
	minSnappedLength = 1.0
)

// Store reads the selection inputs and persists the chosen clips.
type Store interface {
	ContentSegments(ctx context.Context, jobID models.ULID) ([]models.ContentSegment, error)
	SilenceRegions(ctx context.Context, jobID models.ULID) ([]models.SilenceRegion, error)
	ReplaceClips(ctx context.Context, jobID models.ULID, clips []models.Clip) error
}

type Stage struct {
	cfg   config.PipelineConfig
	store Store
}

var _ core.Stage = (*Stage)(nil)

func New(cfg config.PipelineConfig, store Store) *Stage {
	return &Stage{cfg: cfg, store: store}
}

func (s *Stage) ID() string   { return StageID }
func (s *Stage) Name() string { return StageName }

func (s *Stage) Run(ctx context.Context, state *core.State, report core.ReportFunc) error {
	segments, err := s.store.ContentSegments(ctx, state.Job.ID)
	if err != nil {
		return err
	}
	silences, err := s.store.SilenceRegions(ctx, state.Job.ID)
	if err != nil {
		return err
	}

	report(30, "snapping clip boundaries")
	clips := s.selectClips(state.Job.ID, segments, silences)
	report(80, fmt.Sprintf("selected %d clip(s)", len(clips)))
	return s.store.ReplaceClips(ctx, state.Job.ID, clips)
}

// selectClips snaps every candidate, filters by duration, and keeps the
// most important ones.
func (s *Stage) selectClips(jobID models.ULID, segments []models.ContentSegment, silences []models.SilenceRegion) []models.Clip {
	candidates := make([]models.Clip, 0, len(segments))
	for _, seg := range segments {
		start, end, startAdj, endAdj := snap(seg.Start, seg.End, silences)
		duration := end - start
		if duration < s.cfg.ClipMinSeconds || duration > s.cfg.ClipMaxSeconds {
			continue
		}
		candidates = append(candidates, models.Clip{
			JobID:         jobID,
			Start:         start,
			End:           end,
			Duration:      duration,
			Title:         seg.Topic,
			Importance:    seg.Importance,
			StartAdjusted: startAdj,
			EndAdjusted:   endAdj,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Importance > candidates[j].Importance
	})
	if len(candidates) > s.cfg.MaxClips {
		candidates = candidates[:s.cfg.MaxClips]
	}
	for i := range candidates {
		candidates[i].Order = i + 1
	}
	return candidates
}

// snap moves the start to the nearest silence end (preferring one at or
// before it) and the end to the nearest silence start (preferring one at
// or after it), each within the snap window. Cutting on a pause avoids
// clipping a word. A snap that would collapse the clip is discarded in
// favor of the original boundary.
func snap(start, end float64, silences []models.SilenceRegion) (s, e float64, startAdj, endAdj bool) {
	s, e = start, end
	if edge, ok := nearestStartEdge(start, silences); ok && edge != start && e-edge > minSnappedLength {
		s = edge
		startAdj = true
	}
	if edge, ok := nearestEndEdge(end, silences); ok && edge != end && edge-s > minSnappedLength {
		e = edge
		endAdj = true
	}
	return s, e, startAdj, endAdj
}

// nearestStartEdge finds the silence end closest to the point within the
// window, preferring edges at or before the point.
func nearestStartEdge(point float64, silences []models.SilenceRegion) (float64, bool) {
	return nearestEdge(point, silences, func(r models.SilenceRegion) float64 { return r.End },
		func(edge float64) bool { return edge <= point })
}

// nearestEndEdge finds the silence start closest to the point within the
// window, preferring edges at or after the point.
func nearestEndEdge(point float64, silences []models.SilenceRegion) (float64, bool) {
	return nearestEdge(point, silences, func(r models.SilenceRegion) float64 { return r.Start },
		func(edge float64) bool { return edge >= point })
}

func nearestEdge(point float64, silences []models.SilenceRegion, edgeOf func(models.SilenceRegion) float64, preferred func(float64) bool) (float64, bool) {
	var (
		best     float64
		bestDist = snapWindow + 1.0
		bestPref bool
		found    bool
	)
	for _, sil := range silences {
		edge := edgeOf(sil)
		dist := edge - point
		if dist < 0 {
			dist = -dist
		}
		if dist > snapWindow {
			continue
		}
		pref := preferred(edge)
		// A preferred-side edge beats any non-preferred one; within a
		// side, closer wins.
		better := !found ||
			(pref && !bestPref) ||
			(pref == bestPref && dist < bestDist)
		if better {
			best, bestDist, bestPref, found = edge, dist, pref, true
		}
	}
	return best, found
}
