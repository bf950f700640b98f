// Package modelgw is the unified call surface to the external model
// backends: speech-to-text, vision, and language. Each backend gets its
// own resilient HTTP client so a failing backend trips only its own
// circuit. API keys are bound per call, never stored on the gateway.
package modelgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelcut/reelcut/internal/config"
	"github.com/reelcut/reelcut/internal/fault"
	"github.com/reelcut/reelcut/internal/httpclient"
)

// maxResponseBytes bounds how much of a model response is read.
const maxResponseBytes = 32 << 20

// Gateway calls the configured model backends.
type Gateway struct {
	cfg      config.ModelsConfig
	speech   *httpclient.Client
	vision   *httpclient.Client
	language *httpclient.Client
	logger   *slog.Logger
}

// New creates a Gateway from the models configuration.
func New(cfg config.ModelsConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "modelgw"))

	newClient := func(backend string) *httpclient.Client {
		return httpclient.New(httpclient.Config{
			Timeout:       cfg.Timeout,
			RetryAttempts: cfg.RetryCount,
			RetryDelay:    cfg.RetryBackoff,
			Logger:        logger.With(slog.String("backend", backend)),
		})
	}

	return &Gateway{
		cfg:      cfg,
		speech:   newClient("speech"),
		vision:   newClient("vision"),
		language: newClient("language"),
		logger:   logger,
	}
}

// call executes one model request and returns the raw response body.
// HTTP status is mapped onto the fault taxonomy here so stages never see
// raw status codes.
func (g *Gateway) call(ctx context.Context, client *httpclient.Client, req *http.Request, apiKey, operation string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fault.Wrap(fault.KindCanceled, operation, err)
		}
		return nil, fault.Wrap(fault.KindTransient, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, operation+": reading response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(operation, resp.StatusCode, body)
	}
	if len(body) == 0 {
		return nil, fault.New(fault.KindTransient, "%s: empty response", operation)
	}

	g.logger.Info("model call completed",
		slog.String("operation", operation),
		slog.String("model", resp.Header.Get("X-Model-ID")),
		slog.Duration("duration", time.Since(start)),
		slog.Int("response_bytes", len(body)),
	)
	return body, nil
}

// classifyStatus maps a non-200 model response onto a fault kind. The
// retryable 5xx family was already retried by the HTTP client, so what
// reaches here is final for this attempt but still transient for the
// stage-level retry policy.
func classifyStatus(operation string, status int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.KindCredential, "%s: model rejected API key (status %d)", operation, status)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fault.New(fault.KindFatal, "%s: model rejected request (status %d): %s", operation, status, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return fault.New(fault.KindTransient, "%s: model unavailable (status %d)", operation, status)
	default:
		return fault.New(fault.KindFatal, "%s: unexpected status %d: %s", operation, status, detail)
	}
}

func endpoint(base, path string) string {
	return fmt.Sprintf("%s%s", base, path)
}
