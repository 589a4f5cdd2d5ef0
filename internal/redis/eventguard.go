package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// claimTTL bounds how long an in-flight claim blocks a redelivery of the same event
	claimTTL = 2 * time.Minute

	claimMarker = "processing"
)

// ErrEventInFlight means another invocation is handling the same event right now
var ErrEventInFlight = errors.New("fault event is already being handled")

// EventOutcome is what the guard remembers about a handled event
type EventOutcome struct {
	Trigger   string `json:"trigger,omitempty"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	HandledAt int64  `json:"handled_at"`
}

// EventGuard suppresses at-least-once redeliveries of a fault event by its event id.
// Entries live for the configured window; after that a redelivery is handled again.
type EventGuard struct {
	client *Client
	window time.Duration
	logger *zap.Logger
}

// NewEventGuard creates a guard that remembers handled events for window
func NewEventGuard(client *Client, window time.Duration, logger *zap.Logger) *EventGuard {
	return &EventGuard{
		client: client,
		window: window,
		logger: logger,
	}
}

func (g *EventGuard) key(tenantID, eventID string) string {
	return g.client.key("fault-event", tenantID, eventID)
}

// Claim reserves the event for this invocation.
//
// It returns (nil, nil) when the claim was taken and the caller should handle the
// event, the stored outcome when the event was already handled, or
// ErrEventInFlight when another claim is still open.
func (g *EventGuard) Claim(ctx context.Context, tenantID, eventID string) (*EventOutcome, error) {
	key := g.key(tenantID, eventID)

	ok, err := g.client.rdb.SetNX(ctx, key, claimMarker, claimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := g.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as in flight and let redelivery retry
		return nil, ErrEventInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if val == claimMarker {
		return nil, ErrEventInFlight
	}

	var out EventOutcome
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		g.logger.Error("invalid stored event outcome", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("invalid stored outcome: %w", err)
	}

	return &out, nil
}

// Complete replaces the claim with the outcome for the rest of the window
func (g *EventGuard) Complete(ctx context.Context, tenantID, eventID string, out *EventOutcome) error {
	if out.HandledAt == 0 {
		out.HandledAt = time.Now().Unix()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	if err := g.client.rdb.Set(ctx, g.key(tenantID, eventID), data, g.window).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a claim so a redelivery is handled from scratch
func (g *EventGuard) Release(ctx context.Context, tenantID, eventID string) error {
	if err := g.client.rdb.Del(ctx, g.key(tenantID, eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
