package modelgw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/reelcut/reelcut/internal/fault"
)

// FrameAnalysis is the vision backend's extraction for one frame.
type FrameAnalysis struct {
	TextBlocks     []string `json:"text_blocks"`
	VisualElements []string `json:"visual_elements"`
	KeyConcepts    []string `json:"key_concepts"`
}

// AnalyzeFrame sends a frame image to the vision backend and returns the
// extracted slide content.
func (g *Gateway) AnalyzeFrame(ctx context.Context, apiKey, imagePath string) (*FrameAnalysis, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "analyze_frame: opening image", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "analyze_frame: building request", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fault.Wrap(fault.KindFatal, "analyze_frame: reading image", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fault.Wrap(fault.KindFatal, "analyze_frame: building request", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint(g.cfg.VisionURL, "/v1/analyze"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fault.Wrap(fault.KindFatal, "analyze_frame: building request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := g.call(ctx, g.vision, req, apiKey, "analyze_frame")
	if err != nil {
		return nil, err
	}

	var result FrameAnalysis
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "analyze_frame: decoding response", err)
	}
	return &result, nil
}
