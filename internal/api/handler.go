package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingestion"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/screening"
)

// Matcher runs ad-hoc name matching. Implemented by matching.Matcher.
type Matcher interface {
	MatchName(ctx context.Context, customer *domain.Customer, opts domain.MatchOptions) ([]*domain.NameMatchResult, error)
}

// Screener screens single customers. Implemented by screening.Screener.
type Screener interface {
	Screen(ctx context.Context, customer *domain.Customer, opts domain.MatchOptions) (*domain.ScreeningResult, error)
	ScreenByID(ctx context.Context, customerID string, opts domain.MatchOptions) (*domain.ScreeningResult, error)
}

// Coordinator runs ingestion and batch screening. Implemented by batch.Coordinator.
type Coordinator interface {
	RunIngestionFor(ctx context.Context, p ingestion.Provider) *domain.RunResult
	IngestFile(ctx context.Context, p ingestion.Provider, category, filename, format string, r io.Reader) (*domain.RunResult, error)
	RunScreeningBatch(ctx context.Context, customerIDs []string) (*batch.BatchResult, error)
	StartScreeningBatch(ctx context.Context, customerIDs []string) (*domain.ScreeningJob, error)
	Cancel(jobID string) error
}

// Deps are the collaborators behind the API. Cache, Bus, Registry and
// Gatherer are optional.
type Deps struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Engine      *rules.Engine
	Matcher     Matcher
	Screener    Screener
	Coordinator Coordinator
	Registry    *ingestion.Registry
	Gatherer    prometheus.Gatherer
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps      Deps
	maxUpload int64
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxUpload int64, version string) *Handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{deps: deps, maxUpload: maxUpload, version: version}
}

const (
	maxJSONBody     = 1 << 20
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// ============================================================================
// HEALTH
// ============================================================================

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.deps.Repo != nil {
		probe("repository", h.deps.Repo.Ping)
	}
	if h.deps.Cache != nil {
		probe("cache", h.deps.Cache.Ping)
	}
	if h.deps.Bus != nil {
		probe("eventBus", h.deps.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether the store is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// INGESTION
// ============================================================================

// ListSources returns the metadata of every registered provider.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ingestion not available",
		})
		return
	}
	sources := h.deps.Registry.Metadata()
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"count":   len(sources),
	})
}

// RunIngestion fetches and reconciles one provider. The run outcome is in
// the body; a failed fetch still answers 200 with success=false.
func (h *Handler) RunIngestion(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok || !h.requireCoordinator(w) {
		return
	}
	result := h.deps.Coordinator.RunIngestionFor(r.Context(), p)
	writeJSON(w, http.StatusOK, result)
}

// UploadList ingests a multipart upload: field "file", form values
// "category" and "format".
func (h *Handler) UploadList(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok || !h.requireCoordinator(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(min(h.maxUpload, 8<<20)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "upload exceeds " + strconv.FormatInt(h.maxUpload, 10) + " bytes",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid multipart form: " + err.Error(),
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "file is required",
		})
		return
	}
	defer file.Close()

	result, err := h.deps.Coordinator.IngestFile(r.Context(), p,
		r.FormValue("category"), header.Filename, r.FormValue("format"), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListRuns returns recent run history for a provider, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok || !h.requireRepo(w) {
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.deps.Repo.ListRunResults(r.Context(), p.Code(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source": p.Code(),
		"runs":   runs,
		"count":  len(runs),
	})
}

// WhitelistRequest is the request body for POST /entries/{id}/whitelist.
// A missing Whitelisted means true.
type WhitelistRequest struct {
	Whitelisted *bool  `json:"whitelisted,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// WhitelistEntry marks a corpus entry as a known false positive, or clears
// the mark. The entry's source corpus is evicted from cache.
func (h *Handler) WhitelistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}
	id := chi.URLParam(r, "id")

	req := WhitelistRequest{}
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	whitelisted := req.Whitelisted == nil || *req.Whitelisted

	entry, err := h.deps.Repo.GetEntry(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Repo.SetWhitelisted(ctx, id, whitelisted); err != nil {
		writeError(w, r, err)
		return
	}
	entry.IsWhitelisted = whitelisted
	if h.deps.Cache != nil {
		if err := h.deps.Cache.InvalidateCorpus(ctx, entry.Source); err != nil {
			slog.Warn("failed to invalidate corpus", "source", entry.Source, "error", err)
		}
	}

	slog.Info("watchlist entry whitelist updated",
		"entry_id", id,
		"source", entry.Source,
		"whitelisted", whitelisted,
		"reason", req.Reason,
	)
	writeJSON(w, http.StatusOK, entry)
}

// ============================================================================
// CUSTOMERS AND SCREENING
// ============================================================================

// CreateCustomer registers or updates a customer. A missing id is generated.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	var req domain.CustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.FullName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fullName is required",
		})
		return
	}
	if req.RiskTier != "" && req.RiskTier.Rank() == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "riskTier must be one of Low, Medium, High, Critical",
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	customer := &domain.Customer{
		ID:          req.ID,
		FullName:    strings.TrimSpace(req.FullName),
		DateOfBirth: req.DateOfBirth,
		Nationality: req.Nationality,
		Country:     req.Country,
		Identifiers: req.Identifiers,
		RiskTier:    req.RiskTier,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.deps.Repo.SaveCustomer(r.Context(), customer); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("customer saved", "customer_id", customer.ID)
	writeJSON(w, http.StatusCreated, customer)
}

// GetCustomer retrieves a customer by ID.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	customer, err := h.deps.Repo.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// ListCustomerAlerts returns every alert raised for a customer.
func (h *Handler) ListCustomerAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	id := chi.URLParam(r, "id")
	alerts, err := h.deps.Repo.ListAlertsByCustomer(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": id,
		"alerts":     alerts,
		"count":      len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	alert, err := h.deps.Repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// Screen screens a stored customer by id, or an inline customer that is not
// stored. Store and matching failures come back as a Failed result.
func (h *Handler) Screen(w http.ResponseWriter, r *http.Request) {
	if h.deps.Screener == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening not available",
		})
		return
	}
	var req domain.ScreeningRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		result *domain.ScreeningResult
		err    error
	)
	switch {
	case req.CustomerID != "":
		result, err = h.deps.Screener.ScreenByID(r.Context(), req.CustomerID, req.Options)
	case req.Customer != nil:
		result, err = h.deps.Screener.Screen(r.Context(), req.Customer, req.Options)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId or customer is required",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// MatchRequest is the request body for POST /match. Name is shorthand for a
// customer with only a full name.
type MatchRequest struct {
	Name     string              `json:"name,omitempty"`
	Customer *domain.Customer    `json:"customer,omitempty"`
	Options  domain.MatchOptions `json:"options"`
}

// MatchResponse is the response for POST /match. Nothing is persisted.
type MatchResponse struct {
	Matches   []*domain.NameMatchResult `json:"matches"`
	Count     int                       `json:"count"`
	RiskScore float64                   `json:"riskScore"`
	RiskLevel domain.RiskLevel          `json:"riskLevel"`
	TraceID   string                    `json:"traceId"`
	TotalMs   int64                     `json:"totalMs"`
}

// Match runs name matching without raising alerts.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Matcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "matching not available",
		})
		return
	}
	var req MatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	customer := req.Customer
	if customer == nil {
		customer = &domain.Customer{FullName: req.Name}
	}

	matches, err := h.deps.Matcher.MatchName(r.Context(), customer, req.Options)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []*domain.NameMatchResult{}
	}
	score := screening.RiskScore(matches)
	writeJSON(w, http.StatusOK, MatchResponse{
		Matches:   matches,
		Count:     len(matches),
		RiskScore: score,
		RiskLevel: screening.RiskLevelFor(score),
		TraceID:   GetTraceID(r.Context()),
		TotalMs:   time.Since(start).Milliseconds(),
	})
}

// ScreenBatch screens a list of stored customers. With async set the job is
// started in the background and 202 returns its initial state.
func (h *Handler) ScreenBatch(w http.ResponseWriter, r *http.Request) {
	if !h.requireCoordinator(w) {
		return
	}
	var req domain.BatchScreeningRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Async {
		job, err := h.deps.Coordinator.StartScreeningBatch(r.Context(), req.CustomerIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/screening/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	out, err := h.deps.Coordinator.RunScreeningBatch(r.Context(), req.CustomerIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetJob retrieves a screening job by ID.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	job, err := h.deps.Repo.GetScreeningJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob stops a running job. Customers already in flight finish.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireCoordinator(w) {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.deps.Coordinator.Cancel(id)
	if errors.Is(err, domain.ErrNotFound) && h.deps.Repo != nil {
		// Known but finished jobs conflict rather than 404.
		if job, getErr := h.deps.Repo.GetScreeningJob(r.Context(), id); getErr == nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "job is not running",
				"job":   job,
			})
			return
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":      id,
		"message": "cancellation requested",
	})
}

// ============================================================================
// COMPLIANCE RULES
// ============================================================================

// ListRules returns the mandatory and operator rules currently loaded.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) {
		return
	}
	loaded := h.deps.Engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Expression  string                    `json:"expression"`
	Actions     []domain.ComplianceAction `json:"actions"`
	Enabled     *bool                     `json:"enabled,omitempty"`
}

// CreateRule validates, stores and loads an operator rule. Rules only ever
// add actions to those the mandatory rules require.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) || !h.requireRepo(w) {
		return
	}
	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	rule := &domain.ComplianceRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Actions:     req.Actions,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := h.deps.Engine.ValidateRule(rule); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Repo.SaveComplianceRule(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Engine.LoadRule(rule); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("compliance rule saved", "rule_id", rule.ID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules replaces the operator rules with those in the store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireEngine(w) || !h.requireRepo(w) {
		return
	}
	stored, err := h.deps.Repo.ListComplianceRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Engine.ReloadRules(stored); err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("compliance rules reloaded", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (ingestion.Provider, bool) {
	p, err := ingestion.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
		return 0, false
	}
	return p, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.deps.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func (h *Handler) requireCoordinator(w http.ResponseWriter) bool {
	if h.deps.Coordinator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "coordinator not available",
		})
		return false
	}
	return true
}

func (h *Handler) requireEngine(w http.ResponseWriter) bool {
	if h.deps.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrParse),
		errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
