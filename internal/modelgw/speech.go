package modelgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/reelcut/reelcut/internal/fault"
)

// SpeechSegment is one timed segment on the submitted audio's own
// timeline. Remapping onto the original video timeline is the caller's
// job.
type SpeechSegment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TranscribeResult is the speech backend's response.
type TranscribeResult struct {
	Text     string          `json:"text"`
	Segments []SpeechSegment `json:"segments"`
	Duration float64         `json:"duration"`
	Language string          `json:"language"`
}

// Transcribe sends an audio file to the speech backend and returns timed
// segments. The whole file is buffered for the multipart body; audio
// chunks are capped upstream so this stays bounded.
func (g *Gateway) Transcribe(ctx context.Context, apiKey, audioPath string) (*TranscribeResult, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: opening audio", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: building request", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: reading audio", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: building request", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: building request", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint(g.cfg.SpeechURL, "/v1/transcribe"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "transcribe: building request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := g.call(ctx, g.speech, req, apiKey, "transcribe")
	if err != nil {
		return nil, err
	}

	var result TranscribeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "transcribe: decoding response", err)
	}
	if err := validateSegments(result.Segments); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "transcribe", err)
	}
	return &result, nil
}

func validateSegments(segments []SpeechSegment) error {
	for i, seg := range segments {
		if seg.End < seg.Start {
			return fmt.Errorf("segment %d has end before start", i)
		}
	}
	return nil
}
