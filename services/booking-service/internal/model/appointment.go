package model

import (
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	default:
		return "", apperr.Validation("unknown status %q", s)
	}
}

type Appointment struct {
	ID                string     `json:"id" bson:"_id" firestore:"id"`
	ProviderID        string     `json:"provider_id" bson:"provider_id" firestore:"provider_id"`
	CustomerID        string     `json:"customer_id" bson:"customer_id" firestore:"customer_id"`
	AppointmentTypeID string     `json:"appointment_type_id" bson:"appointment_type_id" firestore:"appointment_type_id"`
	StartTime         time.Time  `json:"start_time" bson:"start_time" firestore:"start_time"`
	EndTime           time.Time  `json:"end_time" bson:"end_time" firestore:"end_time"`
	Status            Status     `json:"status" bson:"status" firestore:"status"`
	Notes             string     `json:"notes,omitempty" bson:"notes,omitempty" firestore:"notes"`
	CreatedAt         time.Time  `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty" firestore:"cancelled_at"`
}

// Blocks reports whether the appointment occupies its provider's time.
func (a Appointment) Blocks() bool { return a.Status == StatusScheduled }

// Overlaps uses half-open intervals: [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// CanTransition lists the status changes an update may request. Cancelled, completed and no_show
// are terminal.
func (a Appointment) CanTransition(to Status) bool {
	if a.Status == to {
		return true
	}
	return a.Status == StatusScheduled
}
