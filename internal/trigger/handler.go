// Package trigger is the entry point for fault writes: the queue worker and the
// ingest endpoint both hand every event to Handler.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/dispatch"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/metrics"
	"github.com/lalithlochan/solarops/internal/redis"
)

// Dispatcher is implemented by *dispatch.Dispatcher
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *db.FaultEvent) (*dispatch.Report, error)
}

// Guard remembers handled event ids. Implemented by *redis.EventGuard.
type Guard interface {
	Claim(ctx context.Context, tenantID, eventID string) (*redis.EventOutcome, error)
	Complete(ctx context.Context, tenantID, eventID string, out *redis.EventOutcome) error
	Release(ctx context.Context, tenantID, eventID string) error
}

// Recorder persists delivery attempts. Implemented by *db.Repository.
type Recorder interface {
	SaveDeliveryAttempts(ctx context.Context, attempts []db.DeliveryAttempt) error
}

// Handler runs one fault event through the dispatcher
type Handler struct {
	dispatcher Dispatcher
	guard      Guard
	recorder   Recorder
	logger     *zap.Logger
}

type Option func(*Handler)

// WithEventGuard suppresses redeliveries of an already handled event id
func WithEventGuard(g Guard) Option {
	return func(h *Handler) { h.guard = g }
}

// WithRecorder stores every attempt of every dispatch
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

func New(d Dispatcher, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{dispatcher: d, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleFaultEvent dispatches the event and returns its report. The only errors are
// configuration errors from the dispatcher and redis.ErrEventInFlight; notification
// failures live in the report.
func (h *Handler) HandleFaultEvent(ctx context.Context, ev *db.FaultEvent) (*dispatch.Report, error) {
	kind := "unknown"
	if ev != nil {
		kind = string(ev.Kind)
	}

	guarded := h.guard != nil && ev != nil && ev.EventID != "" && fault.Classify(ev).Notify()
	if guarded {
		report, err := h.claim(ctx, ev)
		if err != nil || report != nil {
			return report, err
		}
	}

	start := time.Now()
	report, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		metrics.RecordFaultEvent(kind, metrics.ResultRefused)
		if guarded {
			h.release(ctx, ev)
		}
		return nil, err
	}

	if report.Empty() {
		metrics.RecordFaultEvent(kind, metrics.ResultSkipped)
		if guarded {
			h.release(ctx, ev)
		}
		return report, nil
	}

	metrics.RecordFaultEvent(kind, metrics.ResultNotified)
	metrics.ObserveDispatch(string(report.Trigger), time.Since(start))
	for _, a := range report.Attempts {
		metrics.RecordDelivery(a.Channel, a.Outcome)
	}

	if h.recorder != nil {
		if err := h.recorder.SaveDeliveryAttempts(ctx, report.DeliveryAttempts()); err != nil {
			h.logger.Error("failed to record delivery attempts",
				zap.Error(err),
				zap.String("event_id", report.EventID),
			)
		}
	}

	if guarded {
		out := &redis.EventOutcome{
			Trigger: string(report.Trigger),
			Sent:    report.Sent(),
			Failed:  report.Failed(),
		}
		if err := h.guard.Complete(ctx, ev.TenantID.String(), ev.EventID, out); err != nil {
			h.logger.Warn("failed to store event outcome", zap.Error(err), zap.String("event_id", ev.EventID))
		}
	}

	return report, nil
}

// Handle is HandleFaultEvent without the report, for the queue worker
func (h *Handler) Handle(ctx context.Context, ev *db.FaultEvent) error {
	_, err := h.HandleFaultEvent(ctx, ev)
	return err
}

// claim returns a non-nil report when the event was handled before
func (h *Handler) claim(ctx context.Context, ev *db.FaultEvent) (*dispatch.Report, error) {
	prev, err := h.guard.Claim(ctx, ev.TenantID.String(), ev.EventID)
	switch {
	case errors.Is(err, redis.ErrEventInFlight):
		metrics.RecordFaultEvent(string(ev.Kind), metrics.ResultDuplicate)
		return nil, fmt.Errorf("event %s: %w", ev.EventID, err)
	case err != nil:
		// Without the guard we fall back to plain at-least-once delivery.
		h.logger.Warn("event guard unavailable, dispatching anyway",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
		)
		return nil, nil
	case prev != nil:
		metrics.RecordFaultEvent(string(ev.Kind), metrics.ResultDuplicate)
		h.logger.Info("duplicate fault event suppressed",
			zap.String("event_id", ev.EventID),
			zap.Int("sent", prev.Sent),
			zap.Int("failed", prev.Failed),
		)
		report := &dispatch.Report{
			EventID:  ev.EventID,
			TenantID: ev.TenantID,
			Trigger:  fault.Trigger(prev.Trigger),
			Attempts: []dispatch.Attempt{},
		}
		if ev.Fault != nil {
			report.FaultID = ev.Fault.ID
		}
		return report, nil
	}
	return nil, nil
}

func (h *Handler) release(ctx context.Context, ev *db.FaultEvent) {
	if err := h.guard.Release(ctx, ev.TenantID.String(), ev.EventID); err != nil {
		h.logger.Warn("failed to release event claim", zap.Error(err), zap.String("event_id", ev.EventID))
	}
}
