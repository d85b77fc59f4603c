// Package executor performs vendor HTTP calls with bounded retry.
//
// Retries happen on 429, 5xx and transport failures only. The wait before a
// retry is the server's Retry-After when present, otherwise 2^attempt
// seconds. Every attempt replays the caller's headers and body bytes
// unchanged, so an idempotency key set by the caller is reused across
// retries; the executor never creates or rotates keys.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

const (
	defaultMaxRetries = 3
	defaultMaxBackoff = 30 * time.Second
	maxResponseBytes  = 10 << 20
)

// Request describes one logical vendor call.
type Request struct {
	// Operation names the call in logs, metrics and errors.
	Operation string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	// MaxRetries overrides the executor default when positive.
	MaxRetries int
}

// Response is a fully read vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor runs Requests with the retry policy described in the package doc.
type Executor struct {
	client     Doer
	maxRetries int
	maxBackoff time.Duration
	sleep      Sleeper
	now        func() time.Time
	logger     logger.Logger
}

// New constructs an Executor with default configuration.
func New(opts ...Option) *Executor {
	e := &Executor{
		client:     http.DefaultClient,
		maxRetries: defaultMaxRetries,
		maxBackoff: defaultMaxBackoff,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     logger.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// MaxRetries returns the default bound on total attempts.
func (e *Executor) MaxRetries() int { return e.maxRetries }

// Do performs req. It returns the response for any 2xx status and a
// *VendorAPIError otherwise.
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	attempts := e.maxRetries
	if req.MaxRetries > 0 {
		attempts = req.MaxRetries
	}

	start := e.now()
	var lastErr *VendorAPIError

	for attempt := 0; attempt < attempts; attempt++ {
		metrics.RecordVendorAttempt(req.Operation)

		resp, err := e.once(ctx, req)

		var (
			wait   time.Duration
			source string
			reason string
		)
		switch {
		case err != nil:
			lastErr = &VendorAPIError{Operation: req.Operation, Attempts: attempt + 1, Err: err}
			if ctx.Err() != nil {
				e.finish(req.Operation, "canceled", start)
				return nil, lastErr
			}
			reason = "transport"
			wait, source = e.exponential(attempt), "exponential"

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			e.finish(req.Operation, "success", start)
			return resp, nil

		case !retryableStatus(resp.StatusCode):
			apiErr := newStatusError(req.Operation, resp.StatusCode, resp.Body, attempt+1)
			e.finish(req.Operation, "client_error", start)
			return nil, apiErr

		default:
			lastErr = newStatusError(req.Operation, resp.StatusCode, resp.Body, attempt+1)
			reason = "server_error"
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = "rate_limit"
			}
			wait, source = e.retryWait(resp.Header, attempt)
		}

		if attempt == attempts-1 {
			break
		}

		e.logger.Warn(ctx, "retrying vendor call",
			logger.String("operation", req.Operation),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", attempts),
			logger.String("reason", reason),
			logger.Int("status", lastErr.Status),
			logger.Duration("wait", wait),
		)
		metrics.RecordVendorRetry(req.Operation, reason, source, wait.Seconds())

		if err := e.sleep(ctx, wait); err != nil {
			lastErr = &VendorAPIError{
				Operation: req.Operation,
				Status:    lastErr.Status,
				Body:      lastErr.Body,
				Detail:    lastErr.Detail,
				Attempts:  attempt + 1,
				Err:       err,
			}
			e.finish(req.Operation, "canceled", start)
			return nil, lastErr
		}
	}

	e.finish(req.Operation, "exhausted", start)
	return nil, lastErr
}

func (e *Executor) once(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// retryWait honors Retry-After (delta-seconds or HTTP-date) and falls back to
// exponential backoff.
func (e *Executor) retryWait(h http.Header, attempt int) (time.Duration, string) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, "retry_after"
		}
		if at, err := http.ParseTime(v); err == nil {
			d := at.Sub(e.now())
			if d < 0 {
				d = 0
			}
			return d, "retry_after"
		}
	}
	return e.exponential(attempt), "exponential"
}

// exponential returns 2^attempt seconds, capped at maxBackoff.
func (e *Executor) exponential(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > e.maxBackoff || d <= 0 {
		return e.maxBackoff
	}
	return d
}

func (e *Executor) finish(operation, outcome string, start time.Time) {
	metrics.RecordVendorOutcome(operation, outcome, e.now().Sub(start).Seconds())
}

func validate(req *Request) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	case strings.TrimSpace(req.Operation) == "":
		return fmt.Errorf("%w: missing operation", ErrInvalidRequest)
	case strings.TrimSpace(req.Method) == "":
		return fmt.Errorf("%w: missing method", ErrInvalidRequest)
	case strings.TrimSpace(req.URL) == "":
		return fmt.Errorf("%w: missing url", ErrInvalidRequest)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCanceled reports whether err came from the caller's context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
