package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatMessage is one turn of the prompt sent to the completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the fully assembled input for one generation.
type Prompt struct {
	System    string
	Grounding string
	History   []ChatMessage
	Utterance string
}

// Completion generates assistant text for a prompt.
type Completion interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// HTTPCompletion calls the completion service. A transient failure is retried
// once after a short backoff; anything beyond that is the caller's problem.
type HTTPCompletion struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	backoff time.Duration
}

// NewHTTPCompletion creates an HTTPCompletion.
func NewHTTPCompletion(baseURL, apiKey, model string, timeout time.Duration) *HTTPCompletion {
	return &HTTPCompletion{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
		backoff: 500 * time.Millisecond,
	}
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Generate sends the prompt and returns the generated text.
func (c *HTTPCompletion) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := make([]ChatMessage, 0, len(p.History)+3)
	if p.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: p.System})
	}
	if p.Grounding != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: p.Grounding})
	}
	messages = append(messages, p.History...)
	messages = append(messages, ChatMessage{Role: "user", Content: p.Utterance})

	payload, err := json.Marshal(completionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	text, err := c.post(ctx, payload)
	if err != nil && retryable(err) {
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		text, err = c.post(ctx, payload)
	}
	return text, err
}

func (c *HTTPCompletion) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{code: resp.StatusCode, body: string(body)}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	return out.Content, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion call: status %d: %s", e.code, e.body)
}

// retryable reports whether the failure is worth one more attempt: timeouts
// and 5xx responses are, client errors are not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ Completion = (*HTTPCompletion)(nil)
