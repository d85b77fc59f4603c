// Package service composes the vendor clients from configuration and exposes
// them to the HTTP API and the fielding runner.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/fieldwork/internal/adapters/exchange/auth"
	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/adapters/exchange/marketplace"
	"github.com/okian/fieldwork/internal/adapters/exchange/mock"
	"github.com/okian/fieldwork/internal/adapters/exchange/s2s"
	"github.com/okian/fieldwork/internal/adapters/exchange/transport"
	"github.com/okian/fieldwork/internal/config"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/internal/domain/targeting"
	"github.com/okian/fieldwork/pkg/logger"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service owns one configured set of vendor clients. Several Services with
// different configurations can run in one process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Overrides, mostly for tests.
	roundTripper http.RoundTripper
	sleeper      executor.Sleeper
	translator   targeting.Translator
	now          func() time.Time

	// Components, built by Start.
	vendor      *mock.Vendor
	executor    *executor.Executor
	tokens      *auth.Manager
	marketplace *marketplace.Client
	s2s         *s2s.Client

	// State
	started   bool
	startedAt time.Time

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRoundTripper replaces the outbound transport in live mode.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(s *Service) {
		s.roundTripper = rt
	}
}

// WithSleeper replaces the executor's wait between attempts.
func WithSleeper(sl executor.Sleeper) Option {
	return func(s *Service) {
		s.sleeper = sl
	}
}

// WithTranslator sets the audience translator used for target groups.
func WithTranslator(t targeting.Translator) Option {
	return func(s *Service) {
		s.translator = t
	}
}

// WithClock replaces time.Now across the vendor clients.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service for cfg. Nothing is built until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		now:    time.Now,
		logger: nil, // Will be replaced when service starts
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start validates the configuration and builds the vendor clients.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.cfg == nil {
		return fmt.Errorf("start service: %w: nil config", config.ErrInvalidConfig)
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	s.logger.Info(ctx, "starting fieldwork service...", logger.Bool("mock_mode", s.cfg.MockMode))

	creds := s.credentials()

	var rt http.RoundTripper = s.roundTripper
	if s.cfg.MockMode {
		s.vendor = mock.New(mock.WithLogger(s.logger.Named("mock")))
		rt = s.vendor
	}
	client, err := transport.Build(
		transport.WithTimeout(s.cfg.RequestTimeout()),
		transport.WithRoundTripper(rt),
	)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	execOpts := []executor.Option{
		executor.WithHTTPClient(client),
		executor.WithMaxRetries(s.cfg.MaxRetries),
		executor.WithMaxBackoff(s.cfg.MaxBackoff()),
		executor.WithClock(s.now),
		executor.WithLogger(s.logger.Named("executor")),
	}
	if s.sleeper != nil {
		execOpts = append(execOpts, executor.WithSleeper(s.sleeper))
	}
	exec := executor.New(execOpts...)
	s.executor = exec

	s.tokens, err = auth.NewManager(exec, auth.Credentials{
		ClientID:     creds.clientID,
		ClientSecret: creds.clientSecret,
		Scopes:       s.cfg.Scopes,
		Audience:     s.cfg.Audience,
		TokenURL:     s.cfg.AuthURL,
		APIVersion:   s.cfg.APIVersion,
	}, auth.WithClock(s.now), auth.WithLogger(s.logger.Named("auth")))
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	translator := s.translator
	if translator == nil {
		translator = targeting.NewUnrestricted(targeting.WithLogger(s.logger.Named("targeting")))
	}
	s.marketplace, err = marketplace.New(exec, s.tokens, s.cfg.APIBaseURL, creds.accountID,
		marketplace.WithTranslator(translator),
		marketplace.WithClock(s.now),
		marketplace.WithLogger(s.logger.Named("marketplace")),
	)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	s.s2s, err = s2s.New(exec, s.cfg.S2SBaseURL, creds.apiKey, s2s.WithLogger(s.logger.Named("s2s")))
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "fieldwork service started",
		logger.String("api_base_url", s.cfg.APIBaseURL),
		logger.String("account_id", creds.accountID),
		logger.Int("max_retries", s.cfg.MaxRetries),
	)

	return nil
}

// Stop releases the clients. The service can be started again.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping fieldwork service...")
	if s.tokens != nil {
		s.tokens.Invalidate()
	}
	s.vendor, s.executor, s.tokens, s.marketplace, s.s2s = nil, nil, nil, nil, nil
	s.started = false
	s.logger.Info(context.Background(), "fieldwork service stopped")
}

type resolvedCredentials struct {
	clientID, clientSecret, accountID, apiKey string
}

// credentials fills placeholders for anything mock mode left empty.
func (s *Service) credentials() resolvedCredentials {
	c := resolvedCredentials{
		clientID:     s.cfg.ClientID,
		clientSecret: s.cfg.ClientSecret,
		accountID:    s.cfg.AccountID,
		apiKey:       s.cfg.S2SAPIKey,
	}
	if !s.cfg.MockMode {
		return c
	}
	if c.clientID == "" {
		c.clientID = mock.ClientID
	}
	if c.clientSecret == "" {
		c.clientSecret = mock.ClientSecret
	}
	if c.accountID == "" {
		c.accountID = mock.AccountID
	}
	if c.apiKey == "" {
		c.apiKey = mock.APIKey
	}
	return c
}

func (s *Service) clients() (*marketplace.Client, *s2s.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.marketplace, s.s2s, nil
}

// CreateProject creates the vendor project for a study.
func (s *Service) CreateProject(ctx context.Context, studyName, projectManagerID string) (model.Project, error) {
	mp, _, err := s.clients()
	if err != nil {
		return model.Project{}, err
	}
	return mp.CreateProject(ctx, studyName, projectManagerID)
}

// CreateTargetGroup creates a draft target group under projectID.
func (s *Service) CreateTargetGroup(
	ctx context.Context,
	projectID string,
	study model.Study,
	liveURLTemplate, projectManagerID, businessUnitID string,
) (model.TargetGroup, error) {
	mp, _, err := s.clients()
	if err != nil {
		return model.TargetGroup{}, err
	}
	return mp.CreateTargetGroup(ctx, projectID, study, liveURLTemplate, projectManagerID, businessUnitID)
}

// LaunchTargetGroup launches a draft target group.
func (s *Service) LaunchTargetGroup(ctx context.Context, projectID, targetGroupID string, endFieldingAt time.Time) (model.LaunchJob, error) {
	mp, _, err := s.clients()
	if err != nil {
		return model.LaunchJob{}, err
	}
	return mp.LaunchTargetGroup(ctx, projectID, targetGroupID, endFieldingAt)
}

// GetTargetGroupOverview fetches target group progress.
func (s *Service) GetTargetGroupOverview(ctx context.Context, projectID, targetGroupID string) (model.TargetGroupOverview, error) {
	mp, _, err := s.clients()
	if err != nil {
		return model.TargetGroupOverview{}, err
	}
	return mp.GetTargetGroupOverview(ctx, projectID, targetGroupID)
}

// ValidateRespondent checks whether a respondent may enter the survey.
func (s *Service) ValidateRespondent(ctx context.Context, respondentID string) (model.RespondentValidation, error) {
	_, sc, err := s.clients()
	if err != nil {
		return model.RespondentValidation{}, err
	}
	return sc.ValidateRespondent(ctx, respondentID)
}

// UpdateRespondentStatus reports a terminal respondent disposition.
func (s *Service) UpdateRespondentStatus(ctx context.Context, respondentID string, status model.RespondentStatus) (model.StatusUpdateResult, error) {
	_, sc, err := s.clients()
	if err != nil {
		return model.StatusUpdateResult{}, err
	}
	return sc.UpdateRespondentStatus(ctx, respondentID, status)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
	}
	if s.cfg != nil {
		stats["mockMode"] = s.cfg.MockMode
		stats["apiBaseURL"] = s.cfg.APIBaseURL
		stats["s2sBaseURL"] = s.cfg.S2SBaseURL
		stats["apiVersion"] = s.cfg.APIVersion
		stats["maxRetries"] = s.cfg.MaxRetries
	}
	if s.started {
		stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())
		stats["maxRetries"] = s.executor.MaxRetries()
	}
	if s.vendor != nil {
		stats["mockReplayKeys"] = s.vendor.ReplayKeys()
	}

	return stats
}
