package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/partsflow/partsflow/internal/fault"
)

// Validator checks generated text before it reaches the user. A rejection is
// a fault.KindHallucination error; any other error means the check itself
// failed.
type Validator interface {
	Validate(ctx context.Context, text string) error
}

// HTTPValidator calls the safety validation service.
type HTTPValidator struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPValidator creates an HTTPValidator.
func NewHTTPValidator(baseURL, apiKey string, timeout time.Duration) *HTTPValidator {
	return &HTTPValidator{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Text string `json:"text"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validate submits text for review.
func (v *HTTPValidator) Validate(ctx context.Context, text string) error {
	payload, err := json.Marshal(validateRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshal validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/validate", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("validate call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("validate call: status %d: %s", resp.StatusCode, body)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode validate response: %w", err)
	}
	if !out.Valid {
		return fault.New(fault.KindHallucination, "validator rejected response: %s", out.Reason)
	}
	return nil
}

var _ Validator = (*HTTPValidator)(nil)
