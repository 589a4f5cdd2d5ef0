package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
)

// Sender mirrors worker.Sender; importing it would create a cycle.
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
	SupportsChannel(channel string) bool
}

// ProtectedSender wraps a channel sender with a breaker. While the breaker is open
// Send fails immediately with ErrCircuitOpen and the dispatcher records a failed
// attempt without any I/O. Only errors the breaker's IsFailure accepts extend the
// failure streak.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Send(ctx context.Context, notif *db.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit open, skipping send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", notif.ID.String()),
			zap.String("fault_id", notif.FaultID.String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.sender.Send(ctx, notif); err != nil {
		if p.breaker.Trips(err) {
			p.breaker.RecordFailure()
		} else {
			// the channel answered; the error belongs to this one notification
			p.breaker.RecordSuccess()
		}
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the wrapped breaker
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
