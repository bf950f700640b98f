package media

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/reelcut/reelcut/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSilenceEvents(t *testing.T) {
	stderr := `
[silencedetect @ 0x55d] silence_start: 2.52
[silencedetect @ 0x55d] silence_end: 3.02 | silence_duration: 0.5
frame= 1234 fps=200
[silencedetect @ 0x55d] silence_start: 7.1
[silencedetect @ 0x55d] silence_end: 8.4 | silence_duration: 1.3
`
	spans := parseSilenceEvents(stderr, 10.0)
	require.Len(t, spans, 2)
	assert.Equal(t, timeline.Span{Start: 2.52, End: 3.02}, spans[0])
	assert.Equal(t, timeline.Span{Start: 7.1, End: 8.4}, spans[1])
}

func TestParseSilenceEventsOpenAtEOF(t *testing.T) {
	stderr := `
[silencedetect @ 0x55d] silence_start: 2.0
[silencedetect @ 0x55d] silence_end: 3.0 | silence_duration: 1.0
[silencedetect @ 0x55d] silence_start: 9.2
`
	spans := parseSilenceEvents(stderr, 10.0)
	require.Len(t, spans, 2)
	assert.Equal(t, timeline.Span{Start: 9.2, End: 10.0}, spans[1])
}

func TestParseSilenceEventsNone(t *testing.T) {
	assert.Empty(t, parseSilenceEvents("frame= 99 fps=30\n", 10.0))
}

func TestBuildAudioConcatFilter(t *testing.T) {
	keeps := []timeline.Span{{Start: 0, End: 2}, {Start: 3, End: 7}}
	filter := buildAudioConcatFilter(keeps)
	assert.Equal(t,
		"[0:a]atrim=start=0:end=2,asetpts=PTS-STARTPTS[a0];"+
			"[0:a]atrim=start=3:end=7,asetpts=PTS-STARTPTS[a1];"+
			"[a0][a1]concat=n=2:v=0:a=1[out]",
		filter)
}

func TestBuildCrossfadeFilterOffsets(t *testing.T) {
	// Three parts of 10s, 8s, 6s with a 0.5s transition:
	// first join at 10-0.5=9.5, second at 10+8-2*0.5=17.
	filter := buildCrossfadeFilter([]float64{10, 8, 6}, 0.5, 1280, 720)

	assert.Contains(t, filter, "xfade=transition=fade:duration=0.5:offset=9.5[vx1]")
	assert.Contains(t, filter, "xfade=transition=fade:duration=0.5:offset=17[vout]")
	assert.Contains(t, filter, "[0:a][1:a]acrossfade=d=0.5[ax1]")
	assert.Contains(t, filter, "[ax1][2:a]acrossfade=d=0.5[aout]")
	// Every input is normalized before joining.
	assert.Contains(t, filter, "[0:v]scale=1280:720:force_original_aspect_ratio=decrease")
	assert.Contains(t, filter, "fps=30,format=yuv420p,settb=AVTB[v2]")
}

func TestResolutionSize(t *testing.T) {
	tests := []struct {
		resolution string
		w, h       int
		ok         bool
	}{
		{"480p", 854, 480, true},
		{"720p", 1280, 720, true},
		{"1080p", 1920, 1080, true},
		{"4k", 3840, 2160, true},
		{"4K", 3840, 2160, true},
		{"", 0, 0, false},
		{"240p", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := resolutionSize(tt.resolution)
		assert.Equal(t, tt.ok, ok, tt.resolution)
		assert.Equal(t, tt.w, w, tt.resolution)
		assert.Equal(t, tt.h, h, tt.resolution)
	}
}

func TestSimplifyProbe(t *testing.T) {
	raw := `{
		"format": {"format_name": "mov,mp4,m4a", "duration": "3600.25", "size": "1073741824"},
		"streams": [
			{"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
			{"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2, "sample_rate": "48000"},
			{"index": 2, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 600}
		]
	}`
	var result probeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))

	info := simplify(&result)
	assert.Equal(t, 3600.25, info.Duration)
	assert.Equal(t, int64(1073741824), info.SizeBytes)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	// Cover art stream does not override the real video stream.
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.Framerate, 0.01)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 48000, info.AudioSampleRate)
}

func TestSimplifyProbeNoAudio(t *testing.T) {
	raw := `{
		"format": {"format_name": "mp4", "duration": "60.0"},
		"streams": [{"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720}]
	}`
	var result probeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))

	info := simplify(&result)
	assert.True(t, info.HasVideo)
	assert.False(t, info.HasAudio)
}

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFramerate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFramerate("25/1"))
	assert.Equal(t, 24.0, parseFramerate("24"))
	assert.Equal(t, 0.0, parseFramerate("0/0"))
	assert.Equal(t, 0.0, parseFramerate("garbage"))
}

func TestToolError(t *testing.T) {
	base := errors.New("exit status 1")
	err := &ToolError{Tool: "ffmpeg", Stderr: "No such file or directory", Err: base}
	assert.Contains(t, err.Error(), "ffmpeg failed")
	assert.Contains(t, err.Error(), "No such file")
	assert.ErrorIs(t, err, base)
}

func TestTailString(t *testing.T) {
	assert.Equal(t, "short", tailString("  short \n", 100))
	long := strings.Repeat("x", 50) + "END"
	got := tailString(long, 10)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, "END"))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "12.500", formatSeconds(12.5))
	assert.Equal(t, "0.000", formatSeconds(0))
}
