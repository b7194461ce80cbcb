// Package webhook posts text fragments to a Discord-style webhook. It is
// a thin wrapper: HTTP failure statuses are reported as data, and there
// are no retries here; the pipeline owns the recovery policy per chunk.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxContentLength is the platform's per-message content limit. Callers
// must chunk anything longer before posting.
const MaxContentLength = 2000

// Outcome is the delivery result of one posted fragment.
type Outcome struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// OK reports whether the post was accepted.
func (o Outcome) OK() bool {
	return o.StatusCode >= 200 && o.StatusCode < 300
}

// Channel delivers one text fragment per call.
type Channel interface {
	Post(ctx context.Context, content string) (*Outcome, error)
}

type httpChannel struct {
	client *http.Client
	url    string
}

// NewChannel creates a Channel posting to the given webhook URL.
func NewChannel(url string, timeout time.Duration) Channel {
	return &httpChannel{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// NewChannelWithClient creates a Channel with a custom HTTP client (for testing).
func NewChannelWithClient(client *http.Client, url string) Channel {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpChannel{
		client: client,
		url:    url,
	}
}

// Post sends one fragment as the webhook's content field. Non-2xx
// statuses are returned in the Outcome, not as errors; only transport
// failures produce an error.
func (c *httpChannel) Post(ctx context.Context, content string) (*Outcome, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading webhook response: %w", err)
	}

	return &Outcome{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
