// ABOUTME: Push notification client posting message batches to an Expo-style endpoint.
// ABOUTME: Strictly best-effort: callers treat every failure as a warning, never an error path.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// pushMessage is one notification addressed to one device token.
type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Pusher sends a batch of push messages, one per registered device token,
// in a single POST.
type Pusher struct {
	endpoint string
	tokens   []string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a pusher. With no endpoint or no tokens the pusher is
// inert: Push becomes a no-op, so callers never need a nil check beyond
// construction time.
func New(endpoint string, tokens []string, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		endpoint: endpoint,
		tokens:   tokens,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "notify"),
	}
}

// Enabled reports whether the pusher has somewhere to send to.
func (p *Pusher) Enabled() bool {
	return p.endpoint != "" && len(p.tokens) > 0
}

// Push sends title/body/data to every registered token as one batch.
func (p *Pusher) Push(ctx context.Context, title, body string, data map[string]string) error {
	if !p.Enabled() {
		return nil
	}

	batch := make([]pushMessage, 0, len(p.tokens))
	for _, token := range p.tokens {
		batch = append(batch, pushMessage{To: token, Title: title, Body: body, Data: data})
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	p.logger.Debug("push batch sent", "recipients", len(batch))
	return nil
}
