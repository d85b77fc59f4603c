// Package s2s implements the server-to-server respondent protocol: validate a
// respondent on entry, then report one terminal disposition.
//
// The channel authenticates with a static API key over HTTP Basic and never
// touches the resource API token, so redirect handlers keep working while
// the main session is refreshing. The client holds no mutable state.
package s2s

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/okian/fieldwork/internal/adapters/exchange/executor"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
	"github.com/okian/fieldwork/pkg/metrics"
)

// Sentinel kinds for S2S errors.
var (
	ErrInvalidStatus   = errors.New("respondent status is not a terminal disposition")
	ErrInvalidRequest  = errors.New("invalid s2s request")
	ErrInvalidResponse = errors.New("invalid s2s response")
)

const (
	opValidateRespondent     = "validate_respondent"
	opUpdateRespondentStatus = "update_respondent_status"
)

// Executor performs one logical vendor call with retry.
type Executor interface {
	Do(ctx context.Context, req *executor.Request) (*executor.Response, error)
}

// Client talks to the S2S host.
type Client struct {
	exec          Executor
	baseURL       string
	authorization string
	maxRetries    int
	logger        logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithMaxRetries overrides the executor's attempt bound for S2S calls.
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

// New creates a Client for the S2S host at baseURL.
func New(exec Executor, baseURL, apiKey string, opts ...Option) (*Client, error) {
	switch {
	case exec == nil:
		return nil, fmt.Errorf("s2s: nil executor")
	case strings.TrimSpace(apiKey) == "":
		return nil, fmt.Errorf("s2s: missing api key")
	case strings.TrimSpace(baseURL) == "":
		return nil, fmt.Errorf("s2s: missing base url")
	}

	c := &Client{
		exec:          exec,
		baseURL:       strings.TrimRight(baseURL, "/"),
		authorization: BasicAuthorization(apiKey),
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BasicAuthorization returns the Authorization value for apiKey with an empty
// password.
func BasicAuthorization(apiKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":"))
}

type validationResponse struct {
	RespondentID string            `json:"respondent_id"`
	Status       *int              `json:"status"`
	Links        map[string]string `json:"links"`
}

type statusRequest struct {
	Status int `json:"status"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ValidateRespondent asks whether respondentID may enter the survey. Only
// status 1 admits; undocumented codes are logged and never admitted.
func (c *Client) ValidateRespondent(ctx context.Context, respondentID string) (model.RespondentValidation, error) {
	if strings.TrimSpace(respondentID) == "" {
		return model.RespondentValidation{}, fmt.Errorf("%w: missing respondent id", ErrInvalidRequest)
	}

	resp, err := c.do(ctx, opValidateRespondent, http.MethodGet, respondentID, "", nil)
	if err != nil {
		return model.RespondentValidation{}, err
	}

	var out validationResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return model.RespondentValidation{}, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, opValidateRespondent, err)
	}
	if out.Status == nil {
		return model.RespondentValidation{}, fmt.Errorf("%w: %s: response has no status", ErrInvalidResponse, opValidateRespondent)
	}

	v := model.RespondentValidation{
		RespondentID: respondentID,
		Status:       model.RespondentStatus(*out.Status),
		Links:        out.Links,
	}
	if !v.Status.IsKnown() {
		c.logger.Warn(ctx, "undocumented respondent status; not admitting",
			logger.String("respondent_id", respondentID),
			logger.Int("status", int(v.Status)),
		)
	}
	metrics.RecordRespondentValidation(v.Status.String())
	return v, nil
}

// UpdateRespondentStatus reports a terminal disposition. It is a single
// logical submission; only transport-level retries happen underneath, and
// duplicate submissions are for the vendor to deduplicate.
func (c *Client) UpdateRespondentStatus(ctx context.Context, respondentID string, status model.RespondentStatus) (model.StatusUpdateResult, error) {
	if strings.TrimSpace(respondentID) == "" {
		return model.StatusUpdateResult{}, fmt.Errorf("%w: missing respondent id", ErrInvalidRequest)
	}
	if !status.IsTerminal() {
		return model.StatusUpdateResult{}, fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
	}

	body, err := json.Marshal(statusRequest{Status: int(status)})
	if err != nil {
		return model.StatusUpdateResult{}, fmt.Errorf("%s: encode payload: %w", opUpdateRespondentStatus, err)
	}

	resp, err := c.do(ctx, opUpdateRespondentStatus, http.MethodPost, respondentID, "status", body)
	if err != nil {
		metrics.RecordRespondentUpdate(status.String(), "error")
		return model.StatusUpdateResult{}, err
	}

	var out statusResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		metrics.RecordRespondentUpdate(status.String(), "error")
		return model.StatusUpdateResult{}, fmt.Errorf("%w: %s: %v", ErrInvalidResponse, opUpdateRespondentStatus, err)
	}

	result := "success"
	if !out.Success {
		result = "rejected"
		c.logger.Warn(ctx, "vendor declined respondent status",
			logger.String("respondent_id", respondentID),
			logger.String("status", status.String()),
			logger.String("message", out.Message),
		)
	}
	metrics.RecordRespondentUpdate(status.String(), result)
	return model.StatusUpdateResult{Success: out.Success, Message: out.Message}, nil
}

func (c *Client) do(ctx context.Context, operation, method, respondentID, suffix string, body []byte) (*executor.Response, error) {
	u := c.baseURL + "/respondents/" + url.PathEscape(respondentID)
	if suffix != "" {
		u += "/" + suffix
	}

	header := http.Header{}
	header.Set("Authorization", c.authorization)
	header.Set("Accept", "application/json")
	if body != nil {
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.exec.Do(ctx, &executor.Request{
		Operation:  operation,
		Method:     method,
		URL:        u,
		Header:     header,
		Body:       body,
		MaxRetries: c.maxRetries,
	})
	if err != nil {
		fields := []logger.Field{
			logger.String("operation", operation),
			logger.String("respondent_id", respondentID),
			logger.Error(err),
		}
		if apiErr, ok := executor.AsVendorAPIError(err); ok {
			fields = append(fields, logger.Int("status", apiErr.Status))
		}
		c.logger.Error(ctx, "s2s call failed", fields...)
		return nil, err
	}
	return resp, nil
}
