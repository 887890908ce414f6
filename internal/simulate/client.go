package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Retry settings for responses the service marks retryable.
const (
	maxRetries = 3
	retryDelay = 200 * time.Millisecond
)

// ErrNoPopulation is returned when the service has no other finalized sessions to rank against.
var ErrNoPopulation = errors.New("no population data")

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPClient wraps http.Client with a base URL and a caller identity.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// identity is the caller a request is made on behalf of.
type identity struct {
	id    string
	admin bool
}

// do sends a JSON request and returns the response body of a 2xx answer.
func (c *HTTPClient) do(ctx context.Context, who identity, method, path string, body any) (gjson.Result, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return gjson.Result{}, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		res, err := c.once(ctx, who, method, path, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable {
			return gjson.Result{}, err
		}
	}
	return gjson.Result{}, lastErr
}

func (c *HTTPClient) once(ctx context.Context, who identity, method, path string, payload []byte) (gjson.Result, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.id != "" {
		req.Header.Set(headerCandidateID, who.id)
	}
	if who.admin {
		req.Header.Set(headerCandidateRole, roleAdmin)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		env := gjson.ParseBytes(data)
		apiErr := &APIError{
			Status:    resp.StatusCode,
			Code:      env.Get("code").String(),
			Message:   env.Get("message").String(),
			Retryable: env.Get("retryable").Bool(),
		}
		if apiErr.Code == "no_population_data" {
			return gjson.Result{}, fmt.Errorf("%w: %w", ErrNoPopulation, apiErr)
		}
		return gjson.Result{}, apiErr
	}
	return gjson.ParseBytes(data), nil
}

// Health performs GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	res, err := c.do(ctx, identity{}, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if s := res.Get("status").String(); s != "" && s != "ok" {
		return fmt.Errorf("service reports status %q", s)
	}
	return nil
}
