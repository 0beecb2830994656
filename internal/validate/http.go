package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single validation round-trip when the caller's
// context carries no earlier deadline.
const DefaultTimeout = 15 * time.Second

// HTTPValidator validates receipts by POSTing them as JSON to a
// developer-owned endpoint.
//
// Response mapping:
//   - 2xx with a Result body: authoritative verdict (valid or rejected)
//   - 4xx with a Result body: authoritative rejection
//   - anything else (5xx, malformed body, transport error, timeout):
//     unreachable - returned as an error, never as a rejection
//
// The endpoint is expected to be idempotent per the Validator contract;
// this client adds no retry of its own - retrying is the reconciliation
// engine's job.
type HTTPValidator struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// HTTPOption configures an HTTPValidator.
type HTTPOption func(*HTTPValidator)

// WithHTTPClient substitutes the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(v *HTTPValidator) {
		v.client = c
	}
}

// WithTimeout sets the per-call timeout applied when the caller's context
// has no deadline.
func WithTimeout(d time.Duration) HTTPOption {
	return func(v *HTTPValidator) {
		v.timeout = d
	}
}

// NewHTTPValidator creates a validator that calls the given endpoint.
func NewHTTPValidator(endpoint string, opts ...HTTPOption) *HTTPValidator {
	v := &HTTPValidator{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, receipt Receipt) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return Result{}, fmt.Errorf("encode receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// Transport error or timeout: unreachable, not a verdict.
		return Result{}, fmt.Errorf("validation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeResult(resp.Body)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The service answered and refused: a definitive rejection, but
		// only when it actually says so in a parseable body. A 4xx with
		// garbage is treated as unreachable - we will not fail a purchase
		// on a response we cannot read.
		res, err := decodeResult(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("validation service returned %d without a verdict", resp.StatusCode)
		}
		res.Valid = false
		if res.ErrorMessage == "" {
			res.ErrorMessage = fmt.Sprintf("receipt rejected (status %d)", resp.StatusCode)
		}
		return res, nil

	default:
		return Result{}, fmt.Errorf("validation service returned status %d", resp.StatusCode)
	}
}

func decodeResult(r io.Reader) (Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode validation response: %w", err)
	}
	return res, nil
}
