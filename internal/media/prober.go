package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// probeResult is the subset of ffprobe JSON output the pipeline needs.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
}

// MediaInfo is the simplified probe view used by stages.
type MediaInfo struct {
	Duration  float64
	SizeBytes int64
	Format    string

	HasVideo  bool
	HasAudio  bool
	Width     int
	Height    int
	Framerate float64

	AudioCodec      string
	AudioSampleRate int
	AudioChannels   int
	VideoCodec      string
}

// Probe inspects a media file and returns its simplified stream info.
func (t *Toolkit) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = tailString(string(exitErr.Stderr), stderrTailLimit)
		}
		return nil, &ToolError{Tool: t.ffprobePath, Args: args, Stderr: stderr, Err: err}
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return simplify(&result), nil
}

func simplify(result *probeResult) *MediaInfo {
	info := &MediaInfo{Format: result.Format.FormatName}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}
	if result.Format.Size != "" {
		if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			// The first video stream is authoritative; attached cover art
			// shows up as additional video streams and must not win.
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height
			if stream.AvgFrameRate != "" {
				info.Framerate = parseFramerate(stream.AvgFrameRate)
			}
			if info.Framerate == 0 && stream.RFrameRate != "" {
				info.Framerate = parseFramerate(stream.RFrameRate)
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
			info.AudioChannels = stream.Channels
			if stream.SampleRate != "" {
				if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
					info.AudioSampleRate = sr
				}
			}
		}
	}
	return info
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
