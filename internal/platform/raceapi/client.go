// Package raceapi is the HTTP client for the racing backend. Every operation
// returns a domain.Envelope; transport, timeout and decoding failures are
// folded into a failed envelope instead of a Go error.
package raceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/metrics"
)

// maxLoggedBody caps how much of an unexpected response body is logged.
const maxLoggedBody = 512

// RetryPolicy bounds a logical request. The first attempt gets FirstTimeout;
// if and only if it times out, one more attempt is made after RetryDelay
// with RetryTimeout.
type RetryPolicy struct {
	FirstTimeout time.Duration
	RetryTimeout time.Duration
	RetryDelay   time.Duration
}

// DefaultRetryPolicy returns the 15s / 25s two-attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		FirstTimeout: 15 * time.Second,
		RetryTimeout: 25 * time.Second,
		RetryDelay:   time.Second,
	}
}

// Client is the REST client for the racing backend. It holds no per-call
// state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     RetryPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Per-attempt deadlines
// are applied through the request context, so the client's own Timeout
// should normally be zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the default timeout/retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records attempts and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new backend client.
//
// baseURL is the backend root, e.g. "https://api.momentumrace.xyz".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		policy:     DefaultRetryPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "raceapi"))
	return c
}

// BaseURL returns the resolved backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// response is the raw outcome of one successful HTTP attempt.
type response struct {
	status      int
	contentType string
	body        []byte
}

func get[T any](ctx context.Context, c *Client, op, path string) domain.Envelope[T] {
	return call[T](ctx, c, op, http.MethodGet, path, nil)
}

func post[T any](ctx context.Context, c *Client, op, path string, body any) domain.Envelope[T] {
	return call[T](ctx, c, op, http.MethodPost, path, body)
}

// call runs one logical operation and converts every outcome into an
// envelope.
func call[T any](ctx context.Context, c *Client, op, method, path string, body any) domain.Envelope[T] {
	start := time.Now()
	env := execute[T](ctx, c, op, method, path, body)
	c.metrics.Envelope(op, env.Success, time.Since(start))
	return env
}

func execute[T any](ctx context.Context, c *Client, op, method, path string, body any) domain.Envelope[T] {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return domain.Failure[T](fmt.Sprintf("encode request body: %v", err))
		}
	}

	lc := logicalCall{
		op:        op,
		requestID: uuid.NewString(),
		method:    method,
		path:      path,
		payload:   payload,
	}
	lc.log = c.logger.With(
		slog.String("op", op),
		slog.String("request_id", lc.requestID),
	)

	resp, err := c.roundTrip(ctx, lc)
	if err != nil {
		return domain.Failure[T](err.Error())
	}
	return decodeEnvelope[T](lc.log, resp)
}

// logicalCall carries what both attempts of one operation share.
type logicalCall struct {
	op        string
	requestID string
	method    string
	path      string
	payload   []byte
	log       *slog.Logger
}

// roundTrip applies the retry policy: a second attempt is made only when the
// first one exceeded its own deadline while the caller's context is still
// live.
func (c *Client) roundTrip(ctx context.Context, lc logicalCall) (response, error) {
	resp, err := c.attempt(ctx, lc, 1, c.policy.FirstTimeout)
	if err == nil || !isTimeout(err) || ctx.Err() != nil {
		return resp, err
	}

	lc.log.WarnContext(ctx, "request timed out, retrying with longer timeout",
		slog.Duration("first_timeout", c.policy.FirstTimeout),
		slog.Duration("retry_timeout", c.policy.RetryTimeout),
	)

	if c.policy.RetryDelay > 0 {
		timer := time.NewTimer(c.policy.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return response{}, fmt.Errorf("request cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return c.attempt(ctx, lc, 2, c.policy.RetryTimeout)
}

// attempt performs a single bounded HTTP exchange, including reading the
// body.
func (c *Client) attempt(ctx context.Context, lc logicalCall, n int, timeout time.Duration) (response, error) {
	c.metrics.Attempt(lc.op, n)

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if lc.payload != nil {
		bodyReader = bytes.NewReader(lc.payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, lc.method, c.baseURL+lc.path, bodyReader)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	if lc.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", lc.requestID)

	lc.log.DebugContext(ctx, "backend request",
		slog.String("method", lc.method),
		slog.String("path", lc.path),
		slog.Int("attempt", n),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, c.transportError(n, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, c.transportError(n, err)
	}

	return response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

// transportError keeps the timeout classification visible to roundTrip
// while giving callers a readable message.
func (c *Client) transportError(attempt int, err error) error {
	if isTimeout(err) {
		return &timeoutError{attempt: attempt, err: err}
	}
	return fmt.Errorf("network request failed: %w", err)
}

type timeoutError struct {
	attempt int
	err     error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("request timed out (attempt %d): %v", e.attempt, e.err)
}

func (e *timeoutError) Unwrap() error { return e.err }

// Timeout marks the error as an abort caused by the attempt deadline.
func (e *timeoutError) Timeout() bool { return true }

// isTimeout reports whether err is an attempt abort: a context deadline or a
// transport-level timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// decodeEnvelope classifies a completed HTTP exchange.
func decodeEnvelope[T any](log *slog.Logger, resp response) domain.Envelope[T] {
	if !isJSONContentType(resp.contentType) {
		log.Debug("backend returned non-JSON response",
			slog.Int("status", resp.status),
			slog.String("content_type", resp.contentType),
			slog.String("body", truncate(resp.body, maxLoggedBody)),
		)
		return domain.Failure[T](fmt.Sprintf("server returned non-JSON response (status %d)", resp.status))
	}

	if !json.Valid(resp.body) {
		log.Debug("backend returned invalid JSON",
			slog.Int("status", resp.status),
			slog.String("body", truncate(resp.body, maxLoggedBody)),
		)
		return domain.Failure[T](fmt.Sprintf("invalid JSON response (status %d)", resp.status))
	}

	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(resp.body, &probe); err != nil || probe.Success == nil {
		return domain.Failure[T](fmt.Sprintf("malformed response envelope (status %d): missing success flag", resp.status))
	}

	var env domain.Envelope[T]
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return domain.Failure[T](fmt.Sprintf("decode response data (status %d): %v", resp.status, err))
	}

	if !env.Success {
		var zero T
		env.Data = zero
		if env.Error == "" {
			env.Error = fmt.Sprintf("request failed (status %d)", resp.status)
		}
	}
	return env
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
