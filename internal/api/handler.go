package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/auth"
	"github.com/ECHOITWEB/teampulse-sub005/internal/billing"
	"github.com/ECHOITWEB/teampulse-sub005/internal/credential"
	"github.com/ECHOITWEB/teampulse-sub005/internal/gateway"
	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/ECHOITWEB/teampulse-sub005/internal/worker"
	"github.com/ECHOITWEB/teampulse-sub005/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req *gateway.Request) (*gateway.Result, error)
}

// CredentialLister exposes pool state for the admin endpoint.
type CredentialLister interface {
	Snapshot() map[string][]credential.Status
}

// Jobs is the async queue behind /v1/jobs. A nil Jobs disables those routes.
type Jobs interface {
	Enqueue(ctx context.Context, p *worker.DispatchPayload) (string, error)
	Lookup(tenantID, id string) (*worker.JobInfo, error)
}

type Handler struct {
	dispatcher  Dispatcher
	credentials CredentialLister
	usage       billing.Store
	limiter     *ratelimit.Limiter
	jobs        Jobs
	tracer      trace.Tracer
	logger      *zap.Logger
}

func NewHandler(dispatcher Dispatcher, credentials CredentialLister, usage billing.Store, limiter *ratelimit.Limiter, jobs Jobs, tracer trace.Tracer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dispatcher:  dispatcher,
		credentials: credentials,
		usage:       usage,
		limiter:     limiter,
		jobs:        jobs,
		tracer:      tracer,
		logger:      logger,
	}
}

type completionRequest struct {
	Provider    string             `json:"provider"`
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	UserID      string             `json:"user_id,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := h.prepare(w, r, "api.completion")
	if !ok {
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	respID := res.ResponseID
	if respID == "" {
		respID = uuid.New().String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            respID,
		"object":        "chat.completion",
		"created":       time.Now().Unix(),
		"model":         res.Model,
		"provider":      res.Provider,
		"credential_id": res.CredentialID,
		"attempts":      res.Attempts,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": res.Content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     res.Usage.InputTokens,
			"completion_tokens": res.Usage.OutputTokens,
			"total_tokens":      res.Usage.TotalTokens,
			"cost_usd":          res.Usage.Cost,
		},
	})
}

// HandleEnqueue accepts the same body as HandleCompletion and runs it on the
// job queue instead of inline.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "async jobs are disabled"})
		return
	}
	req, ok := h.prepare(w, r, "api.enqueue")
	if !ok {
		return
	}

	id, err := h.jobs.Enqueue(r.Context(), &worker.DispatchPayload{
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		h.logger.Error("failed to enqueue dispatch", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "pending"})
}

func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "async jobs are disabled"})
		return
	}
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	job, err := h.jobs.Lookup(tenantID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, worker.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// prepare authenticates, decodes and admits a completion request. It writes
// the error response itself and reports false when the request must stop.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request, spanName string) (*gateway.Request, bool) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, false
	}

	var body completionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}

	userID := body.UserID
	if userID == "" {
		userID = auth.GetUserID(ctx)
	}

	_, span := h.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("request.id", auth.GetRequestID(ctx)),
		attribute.String("llm.provider", body.Provider),
		attribute.String("llm.model", body.Model),
	)

	texts := make([]string, 0, len(body.Messages))
	for _, m := range body.Messages {
		texts = append(texts, m.Content)
	}
	estimated := ratelimit.EstimateTokens(texts, body.MaxTokens)

	allowed, err := h.limiter.Allow(ctx, tenantID, estimated)
	if err != nil {
		h.logger.Warn("rate limit check failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return nil, false
	}

	return &gateway.Request{
		TenantID:    tenantID,
		UserID:      userID,
		Provider:    body.Provider,
		Model:       body.Model,
		Messages:    body.Messages,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	}, true
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.usage.GetUsageByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	totalCost, err := h.usage.GetTotalCostByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      tenantID,
		"total_requests": len(records),
		"total_cost_usd": totalCost,
		"records":        records,
		"from":           from,
		"to":             to,
	})
}

type credentialView struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	QuarantinedAt *time.Time `json:"quarantined_at,omitempty"`
	ErrorCount    int        `json:"error_count"`
}

// HandleCredentials lists every pool's credentials. Secret refs are never
// included. Pools are shared across tenants, so the listing is not
// tenant-scoped.
func (h *Handler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	snap := h.credentials.Snapshot()
	out := make(map[string][]credentialView, len(snap))
	for name, statuses := range snap {
		views := make([]credentialView, 0, len(statuses))
		for _, s := range statuses {
			v := credentialView{ID: s.ID, State: s.State.String(), ErrorCount: s.ErrorCount}
			if !s.QuarantinedAt.IsZero() {
				at := s.QuarantinedAt
				v.QuarantinedAt = &at
			}
			views = append(views, v)
		}
		out[name] = views
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}
