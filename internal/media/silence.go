package media

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reelcut/reelcut/pkg/timeline"
)

// silencedetect reports on stderr, one event per line:
//
//	[silencedetect @ 0x...] silence_start: 2.52
//	[silencedetect @ 0x...] silence_end: 3.02 | silence_duration: 0.5
var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[0-9.]+)`)
)

// DetectSilence runs the silencedetect filter over the input's audio and
// returns the detected silent spans on the input's own timeline.
// thresholdDB is the noise floor in dBFS (negative), minDuration the
// shortest silence to report, in seconds. A silence still open at end of
// input is closed at totalDuration.
func (t *Toolkit) DetectSilence(ctx context.Context, input string, thresholdDB, minDuration, totalDuration float64) ([]timeline.Span, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", thresholdDB, minDuration)
	args := []string{
		"-i", input,
		"-af", filter,
		"-f", "null", "-",
	}

	stderr, err := t.runFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseSilenceEvents(stderr, totalDuration), nil
}

// parseSilenceEvents extracts silent spans from silencedetect stderr.
func parseSilenceEvents(stderr string, totalDuration float64) []timeline.Span {
	var spans []timeline.Span
	openStart := -1.0

	for _, line := range strings.Split(stderr, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				openStart = v
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil {
			if openStart < 0 {
				continue
			}
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				spans = append(spans, timeline.Span{Start: openStart, End: v})
			}
			openStart = -1
		}
	}

	// Silence running into end of input never gets a silence_end line.
	if openStart >= 0 && totalDuration > openStart {
		spans = append(spans, timeline.Span{Start: openStart, End: totalDuration})
	}
	return spans
}

// ExtractAudioConcat renders the kept spans of the input's audio as one
// continuous mono 16 kHz WAV, the format the speech model expects. The
// output timeline is the compressed timeline defined by keeps.
func (t *Toolkit) ExtractAudioConcat(ctx context.Context, input, output string, keeps []timeline.Span) error {
	if len(keeps) == 0 {
		return fmt.Errorf("no spans to extract")
	}

	args := []string{
		"-i", input,
		"-filter_complex", buildAudioConcatFilter(keeps),
		"-map", "[out]",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// buildAudioConcatFilter produces an atrim/concat filtergraph over the
// kept spans:
//
//	[0:a]atrim=start=S:end=E,asetpts=PTS-STARTPTS[a0];...;[a0][a1]concat=n=2:v=0:a=1[out]
func buildAudioConcatFilter(keeps []timeline.Span) string {
	var sb strings.Builder
	for i, span := range keeps {
		fmt.Fprintf(&sb, "[0:a]atrim=start=%g:end=%g,asetpts=PTS-STARTPTS[a%d];", span.Start, span.End, i)
	}
	for i := range keeps {
		fmt.Fprintf(&sb, "[a%d]", i)
	}
	fmt.Fprintf(&sb, "concat=n=%d:v=0:a=1[out]", len(keeps))
	return sb.String()
}

// ExtractAudioSegment renders one span of the input's audio as mono
// 16 kHz WAV. Used to split long recordings into transcription chunks.
func (t *Toolkit) ExtractAudioSegment(ctx context.Context, input, output string, offset, length float64) error {
	args := []string{
		"-ss", formatSeconds(offset),
		"-i", input,
		"-t", formatSeconds(length),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// formatSeconds renders a second count for ffmpeg arguments.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
