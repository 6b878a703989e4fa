package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"portal-gateway/internal/shared/resilience"
	"portal-gateway/internal/shared/telemetry"
)

// FallbackMessage is shown when the backend gives no usable error message.
const FallbackMessage = "Failed to upload documents. Please try again."

const maxErrorBody = 64 << 10

// APIError carries the backend's HTTP status and message. RetryAfter holds
// the backend's Retry-After hint on throttled or unavailable responses.
type APIError struct {
	Operation  string
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return "portal api error"
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("portal api %s: %d: %s", e.Operation, e.Status, msg)
}

// MessageOf returns the backend-provided message for err, or FallbackMessage.
func MessageOf(err error) string {
	return MessageOr(err, FallbackMessage)
}

// MessageOr returns the backend-provided message for err, or fallback.
func MessageOr(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

// ResponseStatus maps an upstream failure to the status the gateway answers
// with: backend 4xx pass through, an open circuit is 503, a timeout 504 and
// anything else 502.
func ResponseStatus(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	case resilience.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// StatusOf returns the backend HTTP status for err, or 0 for transport failures.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type tokenKey struct{}

// WithToken attaches the caller's bearer token to ctx for upstream calls.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Client talks to the recruitment backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	exec    *resilience.Executor
}

// New constructs a Client. A nil executor gets the default policy.
func New(baseURL string, timeout time.Duration, exec *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		exec:    exec,
	}
}

// requestBody builds a fresh body per attempt so retries never reuse a drained reader.
type requestBody func() (io.Reader, string, error)

func jsonBody(payload any) requestBody {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func (c *Client) call(ctx context.Context, operation, method, path string, body requestBody, retry bool, out any) error {
	return c.exec.Execute(ctx, operation, retry, func(ctx context.Context) error {
		return c.do(ctx, operation, method, path, body, out)
	}, classify)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body requestBody, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		r, ct, err := body()
		if err != nil {
			return fmt.Errorf("portal api %s: build body: %w", operation, err)
		}
		reader, contentType = r, ct
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("portal api %s: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := tokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := telemetry.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal api %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Operation:  operation,
			Status:     resp.StatusCode,
			Message:    errorMessage(raw),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("portal api %s: read body: %w", operation, err)
	}
	if err := decodeEnvelope(raw, out); err != nil {
		return fmt.Errorf("portal api %s: decode: %w", operation, err)
	}
	return nil
}

// decodeEnvelope accepts both bare payloads and {data: payload} envelopes.
// Top-level fields such as message are decoded first, then data overlays them.
func decodeEnvelope(raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) > 0 && data[0] == '{' {
		return json.Unmarshal(data, out)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	if len(body.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body.Error, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates are ignored.
func retryAfter(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if isRetryableHTTPStatus(apiErr.Status) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true, RetryAfter: apiErr.RetryAfter}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
