// Package marketplace drives the vendor fielding workflow: project creation,
// target group creation, launch and overview polling.
//
// Every mutating call carries an Idempotency-Key generated once per public
// method call. The executor replays that key unchanged across its own
// retries, so the vendor can deduplicate them; calling the method again is a
// new logical attempt and gets a new key.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/domain/targeting"
	"github.com/okian/fieldwork/pkg/logger"
)

// HeaderIdempotencyKey carries the per-attempt deduplication token.
const HeaderIdempotencyKey = "Idempotency-Key"

// Executor performs one logical vendor call with retry.
type Executor interface {
	Do(ctx context.Context, req *executor.Request) (*executor.Response, error)
}

// Authenticator supplies resource API headers. auth.Manager implements it.
type Authenticator interface {
	Headers(ctx context.Context) (http.Header, error)
	Invalidate()
}

// Client is the resource orchestrator for one vendor account.
type Client struct {
	exec       Executor
	auth       Authenticator
	baseURL    string
	accountID  string
	translator targeting.Translator
	now        func() time.Time
	newKey     func() string
	maxRetries int
	logger     logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTranslator sets the audience to targeting profile translator.
func WithTranslator(t targeting.Translator) Option {
	return func(c *Client) {
		if t != nil {
			c.translator = t
		}
	}
}

// WithClock replaces time.Now for default fielding windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKeyGenerator replaces the idempotency key source.
func WithKeyGenerator(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.newKey = gen
		}
	}
}

// WithMaxRetries overrides the executor's attempt bound for this client.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client against baseURL for accountID.
func New(exec Executor, authn Authenticator, baseURL, accountID string, opts ...Option) (*Client, error) {
	switch {
	case exec == nil:
		return nil, fmt.Errorf("marketplace: nil executor")
	case authn == nil:
		return nil, fmt.Errorf("marketplace: nil authenticator")
	case strings.TrimSpace(accountID) == "":
		return nil, fmt.Errorf("marketplace: missing account id")
	}
	if _, err := url.Parse(baseURL); err != nil || strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("marketplace: invalid base url %q", baseURL)
	}

	c := &Client{
		exec:       exec,
		auth:       authn,
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountID:  accountID,
		translator: targeting.NewUnrestricted(),
		now:        time.Now,
		newKey:     uuid.NewString,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call describes one orchestrator request before headers are attached.
type call struct {
	operation string
	method    string
	path      string
	payload   any
	// idempotencyKey is set on create and launch calls only.
	idempotencyKey string
	fields         []logger.Field
}

// do attaches auth headers, runs the call and logs escalated failures. A 401
// drops the cached token so the next call re-authenticates.
func (c *Client) do(ctx context.Context, cl call) (*executor.Response, error) {
	var body []byte
	if cl.payload != nil {
		raw, err := json.Marshal(cl.payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", cl.operation, err)
		}
		body = raw
	}

	fields := append([]logger.Field{logger.String("operation", cl.operation)}, cl.fields...)

	header, err := c.auth.Headers(ctx)
	if err != nil {
		c.logger.Error(ctx, "vendor call aborted", append(fields, logger.Error(err))...)
		return nil, err
	}
	if cl.idempotencyKey != "" {
		header.Set(HeaderIdempotencyKey, cl.idempotencyKey)
		fields = append(fields, logger.String("idempotency_key", cl.idempotencyKey))
	}

	resp, err := c.exec.Do(ctx, &executor.Request{
		Operation:  cl.operation,
		Method:     cl.method,
		URL:        c.baseURL + cl.path,
		Header:     header,
		Body:       body,
		MaxRetries: c.maxRetries,
	})
	if err != nil {
		if apiErr, ok := executor.AsVendorAPIError(err); ok {
			if apiErr.Unauthorized() {
				c.auth.Invalidate()
			}
			fields = append(fields, logger.Int("status", apiErr.Status), logger.Int("attempts", apiErr.Attempts))
		}
		c.logger.Error(ctx, "vendor call failed", append(fields, logger.Error(err))...)
		return nil, err
	}
	return resp, nil
}

func (c *Client) accountPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "accounts", url.PathEscape(c.accountID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/" + strings.Join(escaped, "/")
}

func decode(operation string, resp *executor.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, operation, err)
	}
	return nil
}
