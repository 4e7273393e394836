package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"goblin-dig/internal/game"
)

// HTTPSink POSTs each commit as JSON to a reward backend.
//
// The resource key is sent as the Idempotency-Key header so the backend can
// collapse retries; every attempt carries a fresh X-Request-ID.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink for endpoint. A nil client uses a default one
// with the given timeout.
func NewHTTPSink(endpoint string, client *http.Client, timeout time.Duration) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

func (s *HTTPSink) Name() string { return "http" }

// Deliver sends c. 2xx and 409 Conflict count as delivered; other 4xx
// responses are permanent failures; 5xx, 429 and transport errors retry.
func (s *HTTPSink) Deliver(ctx context.Context, c game.ClaimCommit) error {
	body, err := json.Marshal(c)
	if err != nil {
		return Permanent(fmt.Errorf("encode commit: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.ResourceKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil // already credited
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("reward backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	default:
		return Permanent(fmt.Errorf("reward backend rejected commit with %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}
}
