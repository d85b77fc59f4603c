// Package auth manages the bearer credential for the vendor resource API.
//
// A Manager performs the client-credentials exchange on demand and caches
// the resulting token in memory until it is within RefreshMargin of expiry.
// Each Manager is independent, so several tenants can coexist in one
// process. Concurrent refreshes are not serialized: two callers racing past
// the expiry boundary may both exchange, which is harmless.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

// RefreshMargin is how long before expiry a cached token stops being used.
const RefreshMargin = 300 * time.Second

// Header names sent on every resource API call.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIVersion    = "Lucid-Api-Version"
	HeaderContentType   = "Content-Type"
)

const (
	grantTypeClientCredentials = "client_credentials"
	operationAuthenticate      = "authenticate"
)

// Executor is the subset of executor.Executor used for the exchange.
type Executor interface {
	Do(ctx context.Context, req *executor.Request) (*executor.Response, error)
}

// Credentials are the opaque client-credentials inputs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Scopes       string
	Audience     string
	TokenURL     string
	APIVersion   string
}

func (c Credentials) validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client secret")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		missing = append(missing, "token url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("auth: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Scopes       string `json:"lucid_scopes"`
	Audience     string `json:"audience"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Manager produces authorization headers, refreshing the token when needed.
type Manager struct {
	exec   Executor
	creds  Credentials
	now    func() time.Time
	logger logger.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. No exchange happens until the first call.
func NewManager(exec Executor, creds Credentials, opts ...Option) (*Manager, error) {
	if exec == nil {
		return nil, fmt.Errorf("auth: nil executor")
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		exec:   exec,
		creds:  creds,
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Token returns a cached token or performs a new exchange. Exchange failures
// are returned as *executor.AuthenticationError.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := m.cached(); tok != nil {
		return tok, nil
	}

	tok, err := m.exchange(ctx)
	if err != nil {
		m.Invalidate()
		metrics.RecordTokenRefresh("failure")
		m.logger.Error(ctx, "vendor authentication failed", logger.Error(err))
		return nil, &executor.AuthenticationError{Err: err}
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	metrics.RecordTokenRefresh("success")
	m.logger.Info(ctx, "vendor token acquired", logger.Any("expires_at", tok.Expiry))
	return tok, nil
}

// Headers returns the headers required on every resource API call.
func (m *Manager) Headers(ctx context.Context) (http.Header, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderAuthorization, tok.Type()+" "+tok.AccessToken)
	if m.creds.APIVersion != "" {
		h.Set(HeaderAPIVersion, m.creds.APIVersion)
	}
	h.Set(HeaderContentType, "application/json")
	return h, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	had := m.token != nil
	m.token = nil
	m.mu.Unlock()
	if had {
		metrics.RecordTokenInvalidation()
	}
}

func (m *Manager) cached() *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	if !m.now().Before(m.token.Expiry.Add(-RefreshMargin)) {
		return nil
	}
	return m.token
}

func (m *Manager) exchange(ctx context.Context) (*oauth2.Token, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     m.creds.ClientID,
		ClientSecret: m.creds.ClientSecret,
		GrantType:    grantTypeClientCredentials,
		Scopes:       m.creds.Scopes,
		Audience:     m.creds.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	issuedAt := m.now()
	resp, err := m.exec.Do(ctx, &executor.Request{
		Operation: operationAuthenticate,
		Method:    http.MethodPost,
		URL:       m.creds.TokenURL,
		Header:    http.Header{HeaderContentType: []string{"application/json"}},
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if tr.ExpiresIn <= 0 {
		return nil, fmt.Errorf("token response has invalid expires_in %d", tr.ExpiresIn)
	}

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      issuedAt.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
