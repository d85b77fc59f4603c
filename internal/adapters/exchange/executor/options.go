package executor

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/fieldwork/pkg/logger"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option applies a configuration option to the Executor.
type Option func(*Executor)

// WithHTTPClient sets the client used for each attempt.
func WithHTTPClient(client Doer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithMaxRetries sets the default bound on total attempts per call.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithMaxBackoff caps the exponential wait between attempts. Server-supplied
// Retry-After values are honored as sent.
func WithMaxBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.maxBackoff = d
		}
	}
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClock replaces time.Now, used to resolve HTTP-date Retry-After values.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the executor.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}
