package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/sqs"
)

// Source is the queue the worker drains. *sqs.Consumer implements it.
type Source interface {
	ReceiveEvent(ctx context.Context) (*sqs.Delivery, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// Handler processes one fault event. A returned error means the event was refused
// as misconfigured; delivery failures are never returned.
type Handler interface {
	Handle(ctx context.Context, ev *db.FaultEvent) error
}

// Worker long-polls the fault event queue and hands each event to the handler.
// Handled messages are deleted. Refused and undecodable messages stay on the queue
// so its redrive policy moves them to the dead-letter queue.
type Worker struct {
	source  Source
	handler Handler
	config  Config
	logger  *zap.Logger
}

type Config struct {
	Pollers      int
	ErrorBackoff time.Duration
}

func New(source Source, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Pollers <= 0 {
		cfg.Pollers = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}

	return &Worker{
		source:  source,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
}

// Start runs the pollers until ctx is cancelled. An event already being handled
// runs to completion.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker starting", zap.Int("pollers", w.config.Pollers))

	var g errgroup.Group
	for i := 0; i < w.config.Pollers; i++ {
		g.Go(func() error {
			w.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.poll(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ErrorBackoff):
			}
		}
	}
}

// poll receives and processes at most one message. It returns false when the
// receive itself failed and the caller should back off.
func (w *Worker) poll(ctx context.Context) bool {
	d, err := w.source.ReceiveEvent(ctx)
	if err != nil {
		if errors.Is(err, sqs.ErrMalformedMessage) {
			w.logger.Error("undecodable message left for redrive",
				zap.Error(err),
				zap.String("message_id", messageID(d)),
			)
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		w.logger.Error("failed to receive from queue", zap.Error(err))
		return false
	}
	if d == nil {
		return true
	}

	w.process(ctx, d)
	return true
}

func (w *Worker) process(ctx context.Context, d *sqs.Delivery) {
	// The handler owns its own timeouts; shutdown must not abandon an event halfway.
	ctx = context.WithoutCancel(ctx)

	if err := w.handler.Handle(ctx, d.Event); err != nil {
		w.logger.Error("fault event refused, leaving message for redrive",
			zap.Error(err),
			zap.String("message_id", d.MessageID),
			zap.String("event_id", d.Event.EventID),
			zap.Int("receive_count", d.ReceiveCount),
		)
		return
	}

	if err := w.source.DeleteMessage(ctx, d.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete handled message",
			zap.Error(err),
			zap.String("message_id", d.MessageID),
		)
		return
	}

	w.logger.Debug("message handled",
		zap.String("message_id", d.MessageID),
		zap.String("event_id", d.Event.EventID),
	)
}

func messageID(d *sqs.Delivery) string {
	if d == nil {
		return ""
	}
	return d.MessageID
}
