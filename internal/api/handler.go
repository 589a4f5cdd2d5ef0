package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/circuitbreaker"
	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/dispatch"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/scope"
)

// FaultRepository defines the reads the API needs
type FaultRepository interface {
	GetFault(ctx context.Context, p db.Predicate, id uuid.UUID) (*db.Fault, error)
	ListFaults(ctx context.Context, p db.Predicate, limit, offset int) ([]*db.Fault, error)
	ListDeliveryAttempts(ctx context.Context, tenantID, faultID uuid.UUID, limit int) ([]*db.DeliveryAttempt, error)
}

// EventHandler is implemented by *trigger.Handler
type EventHandler interface {
	HandleFaultEvent(ctx context.Context, ev *db.FaultEvent) (*dispatch.Report, error)
}

// TopicPublisher is implemented by *sns.Publisher
type TopicPublisher interface {
	PublishFaultEvent(ctx context.Context, ev *db.FaultEvent) (string, error)
}

// QueueProducer is implemented by *sqs.Producer
type QueueProducer interface {
	Enqueue(ctx context.Context, ev *db.FaultEvent) (string, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// FaultView is a fault as returned by the read API
type FaultView struct {
	*db.Fault
	StatusLabel string `json:"status_label"`
	Duration    string `json:"duration"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	repo     FaultRepository
	events   EventHandler
	topic    TopicPublisher // nil if SNS not configured
	queue    QueueProducer  // nil if SQS not configured
	breakers []*circuitbreaker.CircuitBreaker
	checks   []check
	now      func() time.Time
}

type check struct {
	name string
	fn   func(ctx context.Context) error
}

type Option func(*Handler)

// WithTopic publishes ingested events to SNS instead of handling them inline
func WithTopic(p TopicPublisher) Option {
	return func(h *Handler) { h.topic = p }
}

// WithQueue enqueues ingested events to SQS when no topic is configured
func WithQueue(p QueueProducer) Option {
	return func(h *Handler) { h.queue = p }
}

// WithBreakers reports the given circuit breakers on /health
func WithBreakers(cbs ...*circuitbreaker.CircuitBreaker) Option {
	return func(h *Handler) { h.breakers = append(h.breakers, cbs...) }
}

// WithCheck adds a dependency ping to /health
func WithCheck(name string, fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.checks = append(h.checks, check{name: name, fn: fn}) }
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo FaultRepository, events EventHandler, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		repo:   repo,
		events: events,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the read API under /v1 behind auth, the ingest endpoint under
// /internal behind the internal token, and /health.
func (h *Handler) Routes(r chi.Router, auth func(http.Handler) http.Handler, internal ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Get("/faults", h.ListFaults)
		r.Get("/faults/{id}", h.GetFault)
		r.Get("/faults/{id}/deliveries", h.ListDeliveries)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(internal...)
		r.Post("/fault-events", h.IngestFaultEvent)
	})
}

// ListFaults handles GET /v1/faults?site_id=xxx&limit=20&offset=0
func (h *Handler) ListFaults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, ok := CallerFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing caller", "")
		return
	}

	var siteID *uuid.UUID
	if s := r.URL.Query().Get("site_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid site_id", "site_id must be a valid UUID")
			return
		}
		siteID = &id
	}

	limit, offset := pagination(r)

	filter, err := scope.BuildFaultFilter(caller, siteID)
	if err != nil {
		h.logger.Warn("caller has no fault scope",
			zap.Error(err),
			zap.String("account_id", caller.AccountID.String()),
		)
		writeError(w, http.StatusForbidden, "forbidden", "No access to faults", "")
		return
	}

	faults, err := h.repo.ListFaults(ctx, filter, limit, offset)
	if err != nil {
		h.logger.Error("failed to list faults",
			zap.Error(err),
			zap.String("tenant_id", caller.TenantID.String()),
		)
		writeError(w, http.StatusInternalServerError, "database_error", "Failed to list faults", "")
		return
	}

	now := h.now()
	views := make([]FaultView, 0, len(faults))
	for _, f := range faults {
		views = append(views, view(f, now))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   views,
		"limit":  limit,
		"offset": offset,
		"count":  len(views),
	})
}

// GetFault handles GET /v1/faults/{id}. Faults outside the caller's scope are
// reported as missing.
func (h *Handler) GetFault(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.scopedFault(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(f, h.now()))
}

// ListDeliveries handles GET /v1/faults/{id}/deliveries for managers and super-admins
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	f, caller, ok := h.scopedFault(w, r)
	if !ok {
		return
	}

	if caller.Role != db.RoleManager && caller.Role != db.RoleSuperAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "Delivery reports are restricted to managers", "")
		return
	}

	limit, _ := pagination(r)
	attempts, err := h.repo.ListDeliveryAttempts(r.Context(), f.TenantID, f.ID, limit)
	if err != nil {
		h.logger.Error("failed to list delivery attempts",
			zap.Error(err),
			zap.String("fault_id", f.ID.String()),
		)
		writeError(w, http.StatusInternalServerError, "database_error", "Failed to list delivery attempts", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fault_id": f.ID,
		"data":     attempts,
		"count":    len(attempts),
	})
}

func (h *Handler) scopedFault(w http.ResponseWriter, r *http.Request) (*db.Fault, scope.Caller, bool) {
	ctx := r.Context()

	caller, ok := CallerFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing caller", "")
		return nil, caller, false
	}

	faultID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid fault ID", "ID must be a valid UUID")
		return nil, caller, false
	}

	filter, err := scope.BuildFaultFilter(caller, nil)
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden", "No access to faults", "")
		return nil, caller, false
	}

	if filter.MatchesNothing() {
		writeError(w, http.StatusNotFound, "not_found", "Fault not found", "")
		return nil, caller, false
	}

	f, err := h.repo.GetFault(ctx, filter, faultID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !filter.Match(f.TenantID, f.SiteID)) {
		writeError(w, http.StatusNotFound, "not_found", "Fault not found", "")
		return nil, caller, false
	}
	if err != nil {
		h.logger.Error("failed to get fault",
			zap.Error(err),
			zap.String("fault_id", faultID.String()),
		)
		writeError(w, http.StatusInternalServerError, "database_error", "Failed to get fault", "")
		return nil, caller, false
	}

	return f, caller, true
}

// Health reports liveness, dependency pings and the state of every channel breaker.
// A failed ping answers 503; an open breaker only degrades the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code, status := http.StatusOK, "ok"

	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.fn(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", c.name), zap.Error(err))
			deps[c.name] = "unreachable"
			code, status = http.StatusServiceUnavailable, "unavailable"
			continue
		}
		deps[c.name] = "ok"
	}

	stats := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, cb := range h.breakers {
		s := cb.Stats()
		if s.State == circuitbreaker.StateOpen.String() && code == http.StatusOK {
			status = "degraded"
		}
		stats = append(stats, s)
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"dependencies": deps,
		"breakers":     stats,
	})
}

func view(f *db.Fault, now time.Time) FaultView {
	return FaultView{
		Fault:       f,
		StatusLabel: fault.Label(f.Status),
		Duration:    fault.Elapsed(f, now),
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
