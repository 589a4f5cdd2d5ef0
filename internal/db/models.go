package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FaultStatus is the lifecycle state of a fault record
type FaultStatus string

// Status constants
const (
	StatusOpen       FaultStatus = "open"
	StatusInProgress FaultStatus = "in-progress"
	StatusOnHold     FaultStatus = "on-hold"
	StatusResolved   FaultStatus = "resolved"
)

// Priority of a fault
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Role of an account inside its tenant
type Role string

const (
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
	RoleEngineer   Role = "engineer"
	RoleCustomer   Role = "customer"
	RoleGuard      Role = "guard"
	RoleSuperAdmin Role = "super-admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleManager, RoleTechnician, RoleEngineer, RoleCustomer, RoleGuard, RoleSuperAdmin:
		return true
	}
	return false
}

// Channel constants
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Delivery outcome constants
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Fault is an incident raised against a single site of a single tenant
type Fault struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	SiteID      uuid.UUID   `json:"site_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Priority    Priority    `json:"priority"`
	Status      FaultStatus `json:"status"`
	CreatedBy   uuid.UUID   `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	Resolution  *Resolution `json:"resolution,omitempty"`
	Comments    []Comment   `json:"comments,omitempty"`
}

// Resolution is filled in when a fault is closed out
type Resolution struct {
	Description string    `json:"description"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy uuid.UUID `json:"completed_by"`
	Photos      []string  `json:"photos,omitempty"`
	Materials   []string  `json:"materials,omitempty"`
}

// Comment on a fault, kept in insertion order
type Comment struct {
	AuthorID   uuid.UUID `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Site is a physical installation owned by a tenant
type Site struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Capacity  string    `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a user of the portal. AssignedSiteIDs only matters for customers.
type Account struct {
	ID              uuid.UUID   `json:"id"`
	TenantID        uuid.UUID   `json:"tenant_id"`
	Role            Role        `json:"role"`
	DisplayName     string      `json:"display_name"`
	Email           string      `json:"email"`
	AssignedSiteIDs []uuid.UUID `json:"assigned_site_ids,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Company is the tenant record
type Company struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	ContactEmail string     `json:"contact_email"`
	ContactPhone string     `json:"contact_phone"`
	CreatedAt    time.Time  `json:"created_at"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
}

// EventKind says which document write produced a FaultEvent
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// FaultEvent is what the trigger adapter hands to the engine for every fault write.
// OldStatus is nil on create.
type FaultEvent struct {
	EventID    string       `json:"event_id"`
	Kind       EventKind    `json:"kind"`
	Fault      *Fault       `json:"fault"`
	OldStatus  *FaultStatus `json:"old_status,omitempty"`
	NewStatus  FaultStatus  `json:"new_status"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	SiteID     uuid.UUID    `json:"site_id"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Notification is a single outbound message handed to a channel sender
type Notification struct {
	ID       uuid.UUID       `json:"id"`
	TenantID uuid.UUID       `json:"tenant_id"`
	FaultID  uuid.UUID       `json:"fault_id"`
	Channel  string          `json:"channel"`
	Payload  json.RawMessage `json:"payload"`
}

// EmailPayload is the Notification payload for the email channel.
// The webhook channel carries its JSON body as the payload directly.
type EmailPayload struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}

// DeliveryAttempt is the persisted outcome of one channel/recipient send
type DeliveryAttempt struct {
	ID          uuid.UUID `json:"id"`
	EventID     string    `json:"event_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	FaultID     uuid.UUID `json:"fault_id"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
