package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
)

// Sender is the unified interface for all notification channels.
// Implementations: email (SES or log) and the internal webhook.
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
	SupportsChannel(channel string) bool
}

// ErrRecipientRejected marks a failure that concerns one notification only: a
// malformed payload or an address the relay refused. It never counts against the
// channel's circuit breaker.
var ErrRecipientRejected = errors.New("recipient rejected")

// IsRelayFailure reports whether err means the channel itself failed. It is the
// IsFailure hook of the email breaker.
func IsRelayFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrRecipientRejected)
}

// MultiSender routes notifications to the sender that owns the channel
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders. The first sender that
// supports a channel wins.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the notification to the appropriate sender based on channel
func (m *MultiSender) Send(ctx context.Context, notif *db.Notification) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(notif.Channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", notif.Channel),
				zap.String("notification_id", notif.ID.String()),
			)
			return sender.Send(ctx, notif)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", notif.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs notifications instead of delivering them. MAIL_DRIVER=log wires
// it in place of SES for local development.
type LogSender struct {
	channels map[string]bool
	logger   *zap.Logger
}

// NewLogSender creates a log sender for the given channels, or for every known
// channel when none are given
func NewLogSender(logger *zap.Logger, channels ...string) *LogSender {
	if len(channels) == 0 {
		channels = []string{db.ChannelEmail, db.ChannelWebhook}
	}
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &LogSender{channels: set, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, notif *db.Notification) error {
	fields := []zap.Field{
		zap.String("id", notif.ID.String()),
		zap.String("channel", notif.Channel),
		zap.String("tenant_id", notif.TenantID.String()),
		zap.String("fault_id", notif.FaultID.String()),
	}

	if notif.Channel == db.ChannelEmail {
		var p db.EmailPayload
		if err := json.Unmarshal(notif.Payload, &p); err != nil {
			return fmt.Errorf("%w: invalid email payload: %v", ErrRecipientRejected, err)
		}
		fields = append(fields, zap.String("to", p.To), zap.String("subject", p.Subject))
	} else {
		fields = append(fields, zap.Any("payload", notif.Payload))
	}

	s.logger.Info("logging notification (development mode)", fields...)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return s.channels[channel]
}
