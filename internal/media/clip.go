package media

import (
	"context"
	"fmt"
	"strings"
)

// Target clip framerate. Crossfade joins require every part on the same
// clock, so compiled clips are always normalized to this.
const clipFramerate = 30

// resolutionSize maps a named resolution to pixel dimensions.
func resolutionSize(resolution string) (w, h int, ok bool) {
	switch strings.ToLower(resolution) {
	case "480p":
		return 854, 480, true
	case "720p":
		return 1280, 720, true
	case "1080p":
		return 1920, 1080, true
	case "4k":
		return 3840, 2160, true
	default:
		return 0, 0, false
	}
}

// scalePad letterboxes to the target size without distorting aspect ratio.
func scalePad(w, h int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h, w, h)
}

// ExtractSegment cuts [start,end) out of the input with stream copy. No
// re-encode happens here; cut points land on the nearest preceding
// keyframe, which is close enough for intermediate parts that get
// re-encoded during the join.
func (t *Toolkit) ExtractSegment(ctx context.Context, input, output string, start, end float64) error {
	args := []string{
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(end - start),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// Transcode re-encodes the input into an H.264/AAC MP4 at the named
// resolution, letterboxed. Empty resolution keeps the source dimensions.
func (t *Toolkit) Transcode(ctx context.Context, input, output, resolution string) error {
	args := []string{"-i", input}

	var filters []string
	if w, h, ok := resolutionSize(resolution); ok {
		filters = append(filters, scalePad(w, h))
	}
	filters = append(filters, fmt.Sprintf("fps=%d", clipFramerate), "format=yuv420p")
	args = append(args, "-vf", strings.Join(filters, ","))

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		output,
	)
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// ConcatCrossfade joins the parts of a clip with video/audio crossfades
// of the given length in seconds, normalizing every part to the target
// resolution and framerate first. A single part degenerates to Transcode.
//
// Part durations must be supplied by the caller; the xfade offsets depend
// on them.
func (t *Toolkit) ConcatCrossfade(ctx context.Context, inputs []string, durations []float64, output, resolution string, transition float64) error {
	if len(inputs) != len(durations) {
		return fmt.Errorf("inputs/durations length mismatch: %d vs %d", len(inputs), len(durations))
	}
	switch len(inputs) {
	case 0:
		return fmt.Errorf("no inputs to join")
	case 1:
		return t.Transcode(ctx, inputs[0], output, resolution)
	}

	w, h, ok := resolutionSize(resolution)
	if !ok {
		// xfade still needs uniform dimensions; default to 720p.
		w, h = 1280, 720
	}

	args := make([]string, 0, 2*len(inputs)+12)
	for _, input := range inputs {
		args = append(args, "-i", input)
	}
	args = append(args,
		"-filter_complex", buildCrossfadeFilter(durations, transition, w, h),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		output,
	)
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// buildCrossfadeFilter chains xfade/acrossfade across n normalized parts.
// The offset for the i-th join (1-based) is the summed duration of the
// parts before it minus i transitions, since each fade overlaps the
// streams by the transition length.
func buildCrossfadeFilter(durations []float64, transition float64, w, h int) string {
	n := len(durations)
	var sb strings.Builder

	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "[%d:v]%s,fps=%d,format=yuv420p,settb=AVTB[v%d];", i, scalePad(w, h), clipFramerate, i)
	}

	// Video chain.
	offset := 0.0
	prev := "[v0]"
	for i := 1; i < n; i++ {
		offset += durations[i-1] - transition
		label := fmt.Sprintf("[vx%d]", i)
		if i == n-1 {
			label = "[vout]"
		}
		fmt.Fprintf(&sb, "%s[v%d]xfade=transition=fade:duration=%g:offset=%g%s;", prev, i, transition, offset, label)
		prev = label
	}

	// Audio chain.
	prev = "[0:a]"
	for i := 1; i < n; i++ {
		label := fmt.Sprintf("[ax%d]", i)
		if i == n-1 {
			label = "[aout]"
		}
		fmt.Fprintf(&sb, "%s[%d:a]acrossfade=d=%g%s", prev, i, transition, label)
		if i != n-1 {
			sb.WriteString(";")
		}
		prev = label
	}
	return sb.String()
}

// Thumbnail grabs a single frame at the given offset as a JPEG.
func (t *Toolkit) Thumbnail(ctx context.Context, input, output string, at float64) error {
	args := []string{
		"-ss", formatSeconds(at),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "3",
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// ExtractFrame grabs a single frame at the given offset as a PNG, for
// layout classification and slide analysis.
func (t *Toolkit) ExtractFrame(ctx context.Context, input, output string, at float64) error {
	args := []string{
		"-ss", formatSeconds(at),
		"-i", input,
		"-frames:v", "1",
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}

// SetMetadata rewrites container metadata with stream copy.
func (t *Toolkit) SetMetadata(ctx context.Context, input, output, title string) error {
	args := []string{
		"-i", input,
		"-c", "copy",
		"-metadata", "title=" + title,
		output,
	}
	_, err := t.runFFmpeg(ctx, args)
	return err
}
