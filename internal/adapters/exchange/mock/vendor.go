// Package mock serves a synthetic vendor in process.
//
// Vendor is an http.RoundTripper, so mock mode only swaps the transport under
// the real clients: requests are still built, authenticated, retried and
// decoded exactly as in live mode. Ids are deterministic (prj_0001, tg_0001,
// job_0001) and counters are per Vendor.
package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/fieldwork/internal/domain/dedupe"
	"github.com/okian/fieldwork/internal/domain/model"
	"github.com/okian/fieldwork/pkg/logger"
)

// TokenLifetimeSeconds is the expires_in reported by the synthetic token
// endpoint.
const TokenLifetimeSeconds = 3600

// maxReplays bounds the idempotency replay cache.
const maxReplays = 10000

type targetGroup struct {
	id          string
	projectID   string
	name        string
	status      model.TargetGroupStatus
	fillingGoal int
}

// Vendor is the in-process synthetic vendor.
type Vendor struct {
	mux    *http.ServeMux
	logger logger.Logger

	replays *dedupe.Store[*replay] // idempotency key -> first reply

	mu           sync.Mutex
	projects     map[string]string // id -> name
	targetGroups map[string]*targetGroup
	counters     map[string]int
	tokens       map[string]struct{}
}

// replay is the reply held for an idempotency key. Its fields are set once,
// before done is closed.
type replay struct {
	done   chan struct{}
	status int
	header http.Header
	body   []byte
}

// Option applies a configuration option to the Vendor.
type Option func(*Vendor)

// WithLogger sets a custom logger for the vendor.
func WithLogger(l logger.Logger) Option {
	return func(v *Vendor) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates an empty synthetic vendor.
func New(opts ...Option) *Vendor {
	v := &Vendor{
		logger:       logger.Nop(),
		projects:     make(map[string]string),
		targetGroups: make(map[string]*targetGroup),
		replays:      dedupe.NewStore[*replay](dedupe.WithMaxSize(maxReplays)),
		counters:     make(map[string]int),
		tokens:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", v.handleToken)
	mux.HandleFunc("POST /accounts/{account}/projects", v.authorized(v.idempotent(v.handleCreateProject)))
	mux.HandleFunc("POST /accounts/{account}/projects/{project}/target-groups",
		v.authorized(v.idempotent(v.handleCreateTargetGroup)))
	mux.HandleFunc("POST /accounts/{account}/projects/{project}/target-groups/{tg}/fielding-run-jobs/launch-from-draft",
		v.authorized(v.idempotent(v.handleLaunch)))
	mux.HandleFunc("GET /accounts/{account}/projects/{project}/target-groups/{tg}/overview",
		v.authorized(v.handleOverview))
	mux.HandleFunc("GET /respondents/{id}", v.basicAuthorized(v.handleValidateRespondent))
	mux.HandleFunc("POST /respondents/{id}/status", v.basicAuthorized(v.handleUpdateRespondent))
	v.mux = mux

	return v
}

// Client returns an *http.Client whose transport is v.
func (v *Vendor) Client() *http.Client {
	return &http.Client{Transport: v}
}

// RoundTrip serves req from the synthetic handlers. Any host is accepted;
// routing is by method and path only.
func (v *Vendor) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	if req.Body != nil {
		defer req.Body.Close()
	}

	// the mux records its match on the request, so serve a copy
	served := req.Clone(req.Context())
	served.URL.Path = routePath(served.URL.Path)
	served.URL.RawPath = ""

	rec := newRecorder()
	v.mux.ServeHTTP(rec, served)

	v.logger.Debug(req.Context(), "mock vendor served request",
		logger.String("method", req.Method),
		logger.String("path", req.URL.Path),
		logger.Int("status", rec.status),
	)
	return rec.result(req), nil
}

// routePath drops any base path in front of the known route roots, so the
// vendor answers whatever base URLs the clients are configured with.
func routePath(p string) string {
	if strings.HasSuffix(p, "/oauth/token") {
		return "/oauth/token"
	}
	for _, root := range []string{"/accounts/", "/respondents/"} {
		if i := strings.Index(p, root); i > 0 {
			return p[i:]
		}
	}
	return p
}

func (v *Vendor) next(kind, prefix string) string {
	v.counters[kind]++
	return fmt.Sprintf("%s_%04d", prefix, v.counters[kind])
}

func (v *Vendor) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		GrantType    string `json:"grant_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeVendorError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.GrantType != "client_credentials" || body.ClientID == "" || body.ClientSecret == "" {
		writeVendorError(w, http.StatusUnauthorized, "invalid_client", "client credentials rejected")
		return
	}

	token := "mock-" + uuid.NewString()
	v.mu.Lock()
	v.tokens[token] = struct{}{}
	v.mu.Unlock()

	writeVendorJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   TokenLifetimeSeconds,
		"token_type":   "Bearer",
	})
}

func (v *Vendor) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name             string `json:"name"`
		ProjectManagerID string `json:"project_manager_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeVendorError(w, http.StatusUnprocessableEntity, "invalid_project", "name is required")
		return
	}

	v.mu.Lock()
	id := v.next("project", "prj")
	v.projects[id] = body.Name
	v.mu.Unlock()

	writeVendorJSON(w, http.StatusCreated, map[string]any{
		"id":                 id,
		"name":               body.Name,
		"project_manager_id": body.ProjectManagerID,
	})
}

func (v *Vendor) handleCreateTargetGroup(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	var body struct {
		Name        string `json:"name"`
		FillingGoal int    `json:"filling_goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FillingGoal <= 0 {
		writeVendorError(w, http.StatusUnprocessableEntity, "invalid_target_group", "filling_goal must be positive")
		return
	}

	v.mu.Lock()
	if _, ok := v.projects[projectID]; !ok {
		v.mu.Unlock()
		writeVendorError(w, http.StatusNotFound, "not_found", "project "+projectID+" not found")
		return
	}
	tg := &targetGroup{
		id:          v.next("target_group", "tg"),
		projectID:   projectID,
		name:        body.Name,
		status:      model.TargetGroupDraft,
		fillingGoal: body.FillingGoal,
	}
	v.targetGroups[tg.id] = tg
	v.mu.Unlock()

	writeVendorJSON(w, http.StatusCreated, map[string]any{
		"id":     tg.id,
		"name":   tg.name,
		"status": tg.status,
	})
}

func (v *Vendor) handleLaunch(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	tg, ok := v.lookup(r)
	if !ok {
		v.mu.Unlock()
		writeVendorError(w, http.StatusNotFound, "not_found", "target group not found")
		return
	}
	if tg.status != model.TargetGroupDraft {
		v.mu.Unlock()
		writeVendorError(w, http.StatusConflict, "invalid_state", "target group is "+string(tg.status))
		return
	}
	tg.status = model.TargetGroupLive
	jobID := v.next("job", "job")
	v.mu.Unlock()

	w.Header().Set("Location", r.URL.Path[:strings.LastIndex(r.URL.Path, "/")]+"/"+jobID)
	w.WriteHeader(http.StatusAccepted)
}

func (v *Vendor) handleOverview(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	tg, ok := v.lookup(r)
	var snapshot targetGroup
	if ok {
		snapshot = *tg
	}
	v.mu.Unlock()
	if !ok {
		writeVendorError(w, http.StatusNotFound, "not_found", "target group not found")
		return
	}

	completes := 0
	if snapshot.status == model.TargetGroupLive {
		completes = snapshot.fillingGoal / 10
	}
	writeVendorJSON(w, http.StatusOK, map[string]any{
		"id":     snapshot.id,
		"name":   snapshot.name,
		"status": snapshot.status,
		"statistics": map[string]any{
			"filling_goal":                       snapshot.fillingGoal,
			"current_completes":                  completes,
			"current_prescreens":                 completes * 3,
			"median_incidence_rate":              0.35,
			"median_length_of_interview_seconds": 600,
			"average_conversion_rate":            0.12,
			"average_drop_off_rate":              0.08,
		},
	})
}

func (v *Vendor) handleValidateRespondent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeVendorJSON(w, http.StatusOK, map[string]any{
		"respondent_id": id,
		"status":        int(model.RespondentInSurvey),
		"links": map[string]string{
			"complete":  "https://s2s.mock/respondents/" + id + "/status?status=5",
			"terminate": "https://s2s.mock/respondents/" + id + "/status?status=2",
		},
	})
}

func (v *Vendor) handleUpdateRespondent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status int `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeVendorError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status := model.RespondentStatus(body.Status)
	if !status.IsTerminal() {
		writeVendorError(w, http.StatusUnprocessableEntity, "invalid_status", "status must be terminal")
		return
	}
	writeVendorJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "respondent " + r.PathValue("id") + " marked " + status.String(),
	})
}

// lookup finds the target group named in the path. Caller holds v.mu.
func (v *Vendor) lookup(r *http.Request) (*targetGroup, bool) {
	tg, ok := v.targetGroups[r.PathValue("tg")]
	if !ok || tg.projectID != r.PathValue("project") {
		return nil, false
	}
	return tg, true
}

// authorized rejects resource calls without a token this vendor issued.
func (v *Vendor) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		v.mu.Lock()
		_, known := v.tokens[token]
		v.mu.Unlock()
		if !ok || !known {
			writeVendorError(w, http.StatusUnauthorized, "unauthorized", "missing or unknown bearer token")
			return
		}
		next(w, r)
	}
}

// basicAuthorized requires Basic credentials with a non-empty user part.
func (v *Vendor) basicAuthorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user == "" {
			writeVendorError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
			return
		}
		next(w, r)
	}
}

// idempotent replays the first successful reply for a repeated
// Idempotency-Key. The key is reserved before the handler runs, so concurrent
// duplicates wait for that reply instead of creating a second resource. A
// failed first attempt releases the key for the next one.
func (v *Vendor) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			writeVendorError(w, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required")
			return
		}

		for {
			own := &replay{done: make(chan struct{})}
			held, seen := v.replays.Record(key, own)
			if !seen {
				v.serveFirst(w, r, key, own, next)
				return
			}

			select {
			case <-held.done:
			case <-r.Context().Done():
				writeVendorError(w, http.StatusServiceUnavailable, "canceled", "request canceled while waiting for a duplicate")
				return
			}
			if held.status < http.StatusMultipleChoices {
				v.logger.Debug(r.Context(), "replaying idempotent reply", logger.String("idempotency_key", key))
				writeReply(w, held.status, held.header, held.body)
				return
			}
		}
	}
}

func (v *Vendor) serveFirst(w http.ResponseWriter, r *http.Request, key string, own *replay, next http.HandlerFunc) {
	rec := newRecorder()
	next(rec, r)
	own.status, own.header, own.body = rec.status, rec.header.Clone(), rec.body.Bytes()
	if own.status >= http.StatusMultipleChoices {
		v.replays.Forget(key)
	}
	close(own.done)
	writeReply(w, own.status, own.header, own.body)
}

// ReplayKeys reports how many idempotency keys are held for replay.
func (v *Vendor) ReplayKeys() int {
	return v.replays.Size()
}

func writeReply(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for k, vs := range header {
		w.Header()[k] = vs
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeVendorJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeVendorError(w http.ResponseWriter, status int, code, message string) {
	writeVendorJSON(w, status, map[string]string{"code": code, "message": message})
}

// recorder is a minimal http.ResponseWriter that buffers one reply.
type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: http.Header{}, status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}

func (r *recorder) result(req *http.Request) *http.Response {
	body := r.body.Bytes()
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		StatusCode:    r.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Placeholder credentials for mock mode when none are configured. The
// synthetic vendor accepts any non-empty values.
const (
	AccountID    = "acc_mock"
	ClientID     = "mock-client"
	ClientSecret = "mock-secret"
	APIKey       = "mock-s2s-key"
)
