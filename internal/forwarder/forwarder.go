package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	// Downstream response bodies are stored for diagnostics, capped so a
	// verbose error page cannot bloat the record.
	maxBodyBytes = 2000
)

// ForwardError is a non-2xx/3xx answer from the downstream webhook. The
// forward attempt is terminal; callers do not retry automatically.
type ForwardError struct {
	StatusCode int
	Body       string
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward: webhook responded with %d: %s", e.StatusCode, e.Body)
}

// Forwarder delivers a processed payload to the downstream system.
type Forwarder interface {
	// Forward posts the bundle and payload. The response code and body
	// are returned even on a *ForwardError so they can be persisted.
	Forward(ctx context.Context, recordID int64, res models.Resolution, payload *models.Payload) (int, string, error)
	Configured() bool
}

// WebhookForwarder posts {processor, resolution, jira_payload} to an n8n
// webhook URL, optionally authenticated with a static API key header.
type WebhookForwarder struct {
	url    string
	apiKey string
	http   *http.Client
	logger *zap.Logger
}

func NewWebhookForwarder(url, apiKey string, logger *zap.Logger) *WebhookForwarder {
	return &WebhookForwarder{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

func (f *WebhookForwarder) Configured() bool {
	return f.url != ""
}

func (f *WebhookForwarder) Forward(ctx context.Context, recordID int64, res models.Resolution, payload *models.Payload) (int, string, error) {
	body := map[string]any{
		"processor": map[string]any{
			"id":     recordID,
			"status": string(models.StatusProcessed),
		},
		"resolution":   res,
		"jira_payload": payload,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("encoding forward body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(encoded))
	if err != nil {
		return 0, "", fmt.Errorf("building forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	f.logger.Info("webhook responded",
		zap.Int64("record_id", recordID),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, string(respBody), &ForwardError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return resp.StatusCode, string(respBody), nil
}
