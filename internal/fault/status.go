// Package fault holds the fault lifecycle rules: which writes are worth notifying
// about, how statuses are shown to customers, and how long a fault has been open.
package fault

import (
	"github.com/lalithlochan/solarops/internal/db"
)

// Trigger identifies why an event is notification-worthy
type Trigger string

const (
	TriggerNone          Trigger = ""
	TriggerCreated       Trigger = "fault.created"
	TriggerStatusChanged Trigger = "fault.status_changed"
)

// Classification is the state machine's verdict on a single event
type Classification struct {
	Trigger Trigger
	Reason  string
}

// Notify reports whether the event should reach the webhook and email channels
func (c Classification) Notify() bool {
	return c.Trigger != TriggerNone
}

// Classify decides whether a fault event is notification-worthy.
//
// Every status transition is legal, including reopening a resolved fault, so the
// only question is whether the status moved. Creates always notify. Updates notify
// iff the old and new status differ. Deletes never notify.
func Classify(ev *db.FaultEvent) Classification {
	switch ev.Kind {
	case db.EventCreated:
		return Classification{Trigger: TriggerCreated, Reason: "fault created"}
	case db.EventUpdated:
		if ev.OldStatus == nil {
			return Classification{Reason: "update without previous status"}
		}
		if *ev.OldStatus == ev.NewStatus {
			return Classification{Reason: "status unchanged"}
		}
		return Classification{Trigger: TriggerStatusChanged, Reason: "status changed"}
	case db.EventDeleted:
		return Classification{Reason: "fault deleted"}
	default:
		return Classification{Reason: "unknown event kind"}
	}
}

var labels = map[db.FaultStatus]string{
	db.StatusOpen:       "detected / triaged",
	db.StatusInProgress: "being worked on",
	db.StatusOnHold:     "on hold",
	db.StatusResolved:   "resolved",
}

// Label maps a status onto the wording used in customer emails.
// Legacy or unknown values fall into the open bucket.
func Label(s db.FaultStatus) string {
	return labels[Normalize(s)]
}

// Normalize returns s when it is a known status and StatusOpen otherwise
func Normalize(s db.FaultStatus) db.FaultStatus {
	if _, ok := labels[s]; ok {
		return s
	}
	return db.StatusOpen
}
