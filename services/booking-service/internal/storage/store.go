// Package storage defines the persistence port of the booking service and its in-memory adapter.
// Database adapters live in the sub-packages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRevisionConflict means the provider schedule changed since it was read.
	ErrRevisionConflict = errors.New("schedule revision conflict")
	// ErrOverlap is reported by stores that enforce non-overlap themselves.
	ErrOverlap = errors.New("overlapping scheduled appointment")
)

type ProviderFilter struct {
	ActiveOnly        bool
	AppointmentTypeID string
}

type CustomerFilter struct {
	Email string
	Phone string
}

// AppointmentFilter selects appointments; From and To bound the start time as [From, To).
// Zero values do not filter.
type AppointmentFilter struct {
	ProviderID string
	CustomerID string
	Status     model.Status
	From       time.Time
	To         time.Time
}

// Schedule is a consistent snapshot of a provider's scheduled appointments in a range together
// with the revision to pass to WriteAppointment.
type Schedule struct {
	ProviderID   string
	Revision     int64
	Appointments []model.Appointment
}

// OutboxEvent is an event recorded in the same write as the appointment change it describes.
// Key is the partition key, the provider id for appointment events.
type OutboxEvent struct {
	ID          string
	Type        string
	Key         string
	Payload     []byte
	Traceparent string
	Tracestate  string
	OccurredAt  time.Time
}

type AppointmentTypeStore interface {
	PutAppointmentType(ctx context.Context, t model.AppointmentType) error
	GetAppointmentType(ctx context.Context, id string) (model.AppointmentType, error)
	ListAppointmentTypes(ctx context.Context) ([]model.AppointmentType, error)
	DeleteAppointmentType(ctx context.Context, id string) error
}

type ProviderStore interface {
	PutProvider(ctx context.Context, p model.Provider) error
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	ListProviders(ctx context.Context, f ProviderFilter) ([]model.Provider, error)
}

type CustomerStore interface {
	PutCustomer(ctx context.Context, c model.Customer) error
	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	ListCustomers(ctx context.Context, f CustomerFilter) ([]model.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
}

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	// ProviderSchedule returns the provider's scheduled appointments overlapping [from, to).
	ProviderSchedule(ctx context.Context, providerID string, from, to time.Time) (Schedule, error)
	// WriteAppointment inserts or replaces appt and bumps its provider's schedule revision, but
	// only if the revision still equals expectedRevision. Otherwise it returns ErrRevisionConflict
	// and writes nothing. evs are appended to the outbox in the same write.
	WriteAppointment(ctx context.Context, appt model.Appointment, expectedRevision int64, evs ...OutboxEvent) error
}

type Outbox interface {
	// DrainOutbox passes up to limit unpublished events, oldest first, to publish and marks
	// them published when publish returns nil. It returns how many were published.
	DrainOutbox(ctx context.Context, limit int, publish func(context.Context, []OutboxEvent) error) (int, error)
}

type Store interface {
	AppointmentTypeStore
	ProviderStore
	CustomerStore
	AppointmentStore
	Outbox
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
