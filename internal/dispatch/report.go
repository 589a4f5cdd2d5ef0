package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/fault"
)

// Attempt is the outcome of one send on one channel
type Attempt struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Report aggregates every attempt made for one event
type Report struct {
	EventID  string        `json:"event_id"`
	TenantID uuid.UUID     `json:"tenant_id"`
	FaultID  uuid.UUID     `json:"fault_id"`
	Trigger  fault.Trigger `json:"trigger,omitempty"`
	Attempts []Attempt     `json:"attempts"`
}

// Empty reports whether nothing was attempted
func (r *Report) Empty() bool {
	return len(r.Attempts) == 0
}

// Sent counts successful attempts
func (r *Report) Sent() int {
	return r.count(db.OutcomeSent)
}

// Failed counts failed attempts
func (r *Report) Failed() int {
	return r.count(db.OutcomeFailed)
}

// ByChannel returns the attempts made on one channel
func (r *Report) ByChannel(channel string) []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Channel == channel {
			out = append(out, a)
		}
	}
	return out
}

func (r *Report) count(outcome string) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == outcome {
			n++
		}
	}
	return n
}

// DeliveryAttempts converts the report into rows for the delivery_attempts table
func (r *Report) DeliveryAttempts() []db.DeliveryAttempt {
	rows := make([]db.DeliveryAttempt, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		rows = append(rows, db.DeliveryAttempt{
			ID:          uuid.New(),
			EventID:     r.EventID,
			TenantID:    r.TenantID,
			FaultID:     r.FaultID,
			Channel:     a.Channel,
			Recipient:   a.Recipient,
			Outcome:     a.Outcome,
			Reason:      a.Reason,
			AttemptedAt: a.At,
		})
	}
	return rows
}
