package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/dispatch"
	"github.com/lalithlochan/solarops/internal/metrics"
	"github.com/lalithlochan/solarops/internal/redis"
	"github.com/lalithlochan/solarops/internal/scope"
)

// Transports an ingested event can take
const (
	TransportSNS    = "sns"
	TransportSQS    = "sqs"
	TransportInline = "inline"
)

// IngestResponse is returned by POST /internal/fault-events
type IngestResponse struct {
	EventID   string `json:"event_id"`
	Transport string `json:"transport"`
	MessageID string `json:"message_id,omitempty"`

	// Set for inline handling only
	Trigger  string             `json:"trigger,omitempty"`
	Sent     int                `json:"sent"`
	Failed   int                `json:"failed"`
	Attempts []dispatch.Attempt `json:"attempts,omitempty"`
}

// IngestFaultEvent handles POST /internal/fault-events. The event goes to the SNS
// topic when configured, else the SQS queue, else it is dispatched before responding.
func (h *Handler) IngestFaultEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ev db.FaultEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	switch ev.Kind {
	case db.EventCreated, db.EventUpdated, db.EventDeleted:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid kind", "kind must be created, updated, or deleted")
		return
	}

	if ev.TenantID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing tenant_id", "tenant_id is required")
		return
	}

	if hdr := r.Header.Get("X-Tenant-ID"); hdr != "" && hdr != ev.TenantID.String() {
		writeError(w, http.StatusBadRequest, "invalid_request", "Tenant mismatch", "X-Tenant-ID does not match tenant_id")
		return
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}

	if h.topic != nil || h.queue != nil {
		h.enqueue(w, r, &ev)
		return
	}

	report, err := h.events.HandleFaultEvent(ctx, &ev)
	if err != nil {
		h.logger.Error("fault event refused",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
			zap.String("tenant_id", ev.TenantID.String()),
		)
		switch {
		case errors.Is(err, redis.ErrEventInFlight):
			writeError(w, http.StatusConflict, "event_in_flight", "Event is already being handled", "")
		case isConfigError(err):
			writeError(w, http.StatusUnprocessableEntity, "invalid_event", "Fault event refused", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to handle fault event", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		EventID:   ev.EventID,
		Transport: TransportInline,
		Trigger:   string(report.Trigger),
		Sent:      report.Sent(),
		Failed:    report.Failed(),
		Attempts:  report.Attempts,
	})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, ev *db.FaultEvent) {
	var (
		transport string
		msgID     string
		err       error
	)

	if h.topic != nil {
		transport = TransportSNS
		msgID, err = h.topic.PublishFaultEvent(r.Context(), ev)
	} else {
		transport = TransportSQS
		msgID, err = h.queue.Enqueue(r.Context(), ev)
	}

	if err != nil {
		h.logger.Error("failed to enqueue fault event",
			zap.Error(err),
			zap.String("transport", transport),
			zap.String("event_id", ev.EventID),
		)
		writeError(w, http.StatusBadGateway, "enqueue_error", "Failed to enqueue fault event", "")
		return
	}

	metrics.RecordEventEnqueued(transport)
	h.logger.Info("fault event enqueued",
		zap.String("transport", transport),
		zap.String("event_id", ev.EventID),
		zap.String("message_id", msgID),
	)

	writeJSON(w, http.StatusAccepted, IngestResponse{
		EventID:   ev.EventID,
		Transport: transport,
		MessageID: msgID,
	})
}

func isConfigError(err error) bool {
	for _, target := range []error{
		dispatch.ErrMissingTenant,
		dispatch.ErrTenantMismatch,
		dispatch.ErrSiteMismatch,
		dispatch.ErrMissingFault,
		scope.ErrMissingTenant,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
