package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Emitter sends a response into a channel and returns a reference to the
// sent message. Reactions to that message arrive later carrying the same
// reference.
type Emitter interface {
	Emit(ctx context.Context, channelID, text string) (ref string, err error)
}

// WebhookEmitter posts responses to the chat layer over HTTP.
//
// Request body: {"channel_id": "...", "text": "..."}
// Expected response: {"ref": "..."} with a 2xx status.
type WebhookEmitter struct {
	url    string
	client *http.Client
}

// NewWebhookEmitter creates a WebhookEmitter. A nil client uses a 10s timeout.
func NewWebhookEmitter(url string, client *http.Client) *WebhookEmitter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookEmitter{url: url, client: client}
}

type emitRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type emitResponse struct {
	Ref string `json:"ref"`
}

func (w *WebhookEmitter) Emit(ctx context.Context, channelID, text string) (string, error) {
	body, err := json.Marshal(emitRequest{ChannelID: channelID, Text: text})
	if err != nil {
		return "", fmt.Errorf("marshaling emit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating emit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("emitting response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("emit webhook returned status %d: %s", resp.StatusCode, msg)
	}

	var out emitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding emit response: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("emit webhook returned no message ref")
	}
	return out.Ref, nil
}

// LogEmitter only logs responses, returning a fresh UUID as the reference.
// It is used when no webhook is configured.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(_ context.Context, channelID, text string) (string, error) {
	ref := uuid.New().String()
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("responding", "channel", channelID, "text", text, "ref", ref)
	return ref, nil
}
