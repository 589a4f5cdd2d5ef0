package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/recipients"
)

// Ref names a site or tenant in the webhook body
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// WebhookEvent is the JSON body POSTed to the internal webhook.
// Fault is only set on create; status changes carry the old and new status instead.
type WebhookEvent struct {
	Event       fault.Trigger   `json:"event"`
	EventID     string          `json:"event_id,omitempty"`
	FaultID     uuid.UUID       `json:"fault_id"`
	Title       string          `json:"title"`
	Priority    db.Priority     `json:"priority,omitempty"`
	OldStatus   *db.FaultStatus `json:"old_status,omitempty"`
	NewStatus   db.FaultStatus  `json:"new_status"`
	StatusLabel string          `json:"status_label"`
	Duration    string          `json:"duration"`
	Fault       *db.Fault       `json:"fault,omitempty"`
	Site        Ref             `json:"site"`
	Tenant      Ref             `json:"tenant"`
	Timestamp   string          `json:"timestamp"`
}

func buildWebhookEvent(ev *db.FaultEvent, trigger fault.Trigger, aud *recipients.Audience, siteID uuid.UUID, now time.Time) WebhookEvent {
	at := ev.OccurredAt
	if at.IsZero() {
		at = now
	}

	body := WebhookEvent{
		Event:       trigger,
		EventID:     ev.EventID,
		FaultID:     ev.Fault.ID,
		Title:       ev.Fault.Title,
		Priority:    ev.Fault.Priority,
		NewStatus:   ev.NewStatus,
		StatusLabel: fault.Label(ev.NewStatus),
		Duration:    fault.Elapsed(ev.Fault, at),
		Site:        Ref{ID: siteID, Name: aud.SiteName},
		Tenant:      Ref{ID: ev.TenantID, Name: aud.CompanyName},
		Timestamp:   at.UTC().Format(time.RFC3339),
	}

	if trigger == fault.TriggerCreated {
		body.Fault = ev.Fault
	} else {
		body.OldStatus = ev.OldStatus
	}

	return body
}

func webhookNotification(ev *db.FaultEvent, body WebhookEvent) (*db.Notification, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &db.Notification{
		ID:       uuid.New(),
		TenantID: ev.TenantID,
		FaultID:  ev.Fault.ID,
		Channel:  db.ChannelWebhook,
		Payload:  raw,
	}, nil
}

func emailNotification(ev *db.FaultEvent, msg *db.EmailPayload) (*db.Notification, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &db.Notification{
		ID:       uuid.New(),
		TenantID: ev.TenantID,
		FaultID:  ev.Fault.ID,
		Channel:  db.ChannelEmail,
		Payload:  raw,
	}, nil
}
