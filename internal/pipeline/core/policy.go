package core

// Band is a stage's slice of the job's global progress percentage.
// Stage-local progress [0,100] is scaled linearly into [Lo,Hi].
type Band struct {
	Lo float64
	Hi float64
}

// Scale maps stage-local percent into the band.
func (b Band) Scale(percent float64) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return b.Lo + (b.Hi-b.Lo)*percent/100
}

// Global progress allocation. Upload holds 0-5 before the executor
// starts; parallel siblings share a band, which is safe because the
// job-level percent is clamped monotonic.
var bands = map[string]Band{
	StageSilenceDetect:  {5, 15},
	StageLayoutDetect:   {5, 15},
	StageTranscribe:     {15, 45},
	StageImageExtract:   {15, 45},
	StageContentAnalyze: {45, 60},
	StageSegmentSelect:  {60, 70},
	StageCompileClips:   {70, 100},
}

// BandFor returns the global progress band for a stage.
func BandFor(stageID string) Band {
	if band, ok := bands[stageID]; ok {
		return band
	}
	return Band{0, 0}
}

// Degradable stages absorb their own failure: the pipeline records an
// empty result and continues. A Fatal or Credential fault still
// propagates (SilenceDetect raises Fatal for a missing audio track).
var degradable = map[string]bool{
	StageSilenceDetect: true,
	StageLayoutDetect:  true,
	StageImageExtract:  true,
}

// DegradableStage reports whether the stage's failures degrade rather
// than fail the job.
func DegradableStage(stageID string) bool {
	return degradable[stageID]
}
