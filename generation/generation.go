// Package generation wraps a Cohere-compatible chat completion API. The
// client owns the conversation log for a run and retries transient
// request failures with a fixed backoff.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Message roles accepted by the chat endpoint.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// FinishComplete is the only finish reason treated as an unconditionally
// complete generation; any other value is surfaced but not retried.
const FinishComplete = "COMPLETE"

const (
	defaultRetries = 3
	defaultBackoff = 2 * time.Second
)

// ErrNoText marks a well-formed response with no extractable text. It is
// a hard failure: the call is not retried and the caller must not
// deliver anything for this run.
var ErrNoText = errors.New("generation response contains no text")

// Message is one entry of the conversation log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a completed generation call.
type Result struct {
	FinishReason string
	Text         string
	Raw          []byte // response body as received, kept for the run record
}

// Complete reports whether the generation finished cleanly.
func (r *Result) Complete() bool {
	return r.FinishReason == FinishComplete
}

// Client calls the chat completion endpoint. It is not safe for
// concurrent use; one run owns one client's log at a time.
type Client struct {
	baseURL      string
	token        string
	model        string
	systemPrompt string
	log          []Message

	client  *http.Client
	retries int
	backoff time.Duration
}

// NewClient creates a generation client for the given endpoint. A nil
// httpClient gets a default with a generation-sized timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  httpClient,
		retries: defaultRetries,
		backoff: defaultBackoff,
	}
}

// SetModel sets the model id sent with every generation request.
func (c *Client) SetModel(id string) {
	c.model = id
}

// SetSystemPrompt stores the system instruction text.
func (c *Client) SetSystemPrompt(text string) {
	c.systemPrompt = text
}

// SetSystemPromptFile loads the system instruction from a file. A read
// error leaves the stored prompt unchanged; callers may log it and
// continue without a system prompt.
func (c *Client) SetSystemPromptFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading system prompt %s: %w", path, err)
	}
	c.systemPrompt = string(data)
	return nil
}

// SetLog replaces the conversation log wholesale.
func (c *Client) SetLog(messages []Message) {
	c.log = make([]Message, len(messages))
	copy(c.log, messages)
}

// Log returns the current conversation log.
func (c *Client) Log() []Message {
	return c.log
}

// InsertSystemPrompt prepends one system-role message built from the
// stored prompt. Call it exactly once per run, after SetLog; it does not
// deduplicate.
func (c *Client) InsertSystemPrompt() {
	c.log = append([]Message{{Role: RoleSystem, Content: c.systemPrompt}}, c.log...)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Generate posts the conversation log to the completion endpoint.
// Transport errors, HTTP status >= 400 and malformed response bodies are
// retried with a fixed backoff until the retry count is spent; the
// identical request body is reused for every attempt. A parseable
// response without text fails immediately with ErrNoText.
func (c *Client) Generate(ctx context.Context) (*Result, error) {
	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: c.log})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			slog.Info("retrying generation", "attempts_left", c.retries-attempt+1)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, retryable, err := c.attempt(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		slog.Warn("generation attempt failed", "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, payload []byte) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"chat", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("calling chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading chat response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, true, fmt.Errorf("chat endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, true, fmt.Errorf("parsing chat response: %w", err)
	}

	if len(parsed.Message.Content) == 0 || parsed.Message.Content[0].Text == "" {
		return nil, false, ErrNoText
	}

	return &Result{
		FinishReason: parsed.FinishReason,
		Text:         parsed.Message.Content[0].Text,
		Raw:          body,
	}, false, nil
}

// Models lists the model ids available at the endpoint.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("models endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing models response: %w", err)
	}

	ids := make([]string, len(parsed.Data))
	for i, m := range parsed.Data {
		ids[i] = m.ID
	}
	return ids, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
