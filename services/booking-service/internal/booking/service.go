// Package booking resolves open slots and books, reschedules and cancels appointments without
// double-booking a provider.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/retry"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type Config struct {
	// MaxAttempts bounds how often a write is retried after losing a race on the provider's
	// schedule revision.
	MaxAttempts int
	RetryDelay  time.Duration
	// RequireAvailability rejects bookings outside the provider's declared windows.
	RequireAvailability bool
	// HidePast drops slots that start before now from slot queries.
	HidePast bool
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, RetryDelay: 10 * time.Millisecond, RequireAvailability: true}
}

// Service records a lifecycle event in the storage outbox with every booking, reschedule and
// cancellation; events.Relay publishes them.
type Service struct {
	store    storage.Store
	catalog  *catalog.Service
	resolver *Resolver
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string
}

func New(store storage.Store, cat *catalog.Service, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Service{
		store:    store,
		catalog:  cat,
		resolver: NewResolver(store, cat, cfg.HidePast),
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) (SlotSet, error) {
	return s.resolver.Resolve(ctx, q)
}

// SearchSlots is AvailableSlots flattened, and spans all active providers offering the type
// when q.ProviderID is empty.
func (s *Service) SearchSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	return s.resolver.Search(ctx, q)
}

type BookRequest struct {
	ProviderID        string    `json:"provider_id"`
	CustomerID        string    `json:"customer_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	StartTime         time.Time `json:"start_time"`
	Notes             string    `json:"notes"`
}

// UpdateRequest changes an appointment. Nil fields are left alone.
type UpdateRequest struct {
	StartTime *time.Time `json:"start_time"`
	Status    *string    `json:"status"`
	Notes     *string    `json:"notes"`
}

func (s *Service) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load appointment %s: %w", id, err)
	}
	return a, nil
}

func (s *Service) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, apperr.InvalidRange("end_date must be after start_date")
	}
	return s.store.ListAppointments(ctx, f)
}

// Book validates the request and stores a scheduled appointment, unless another scheduled
// appointment of the provider overlaps it.
func (s *Service) Book(ctx context.Context, req BookRequest) (_ model.Appointment, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.Book",
		attribute.String("provider.id", req.ProviderID),
		attribute.String("appointment_type.id", req.AppointmentTypeID),
	)
	defer func() { otelx.EndSpan(span, err) }()

	switch {
	case strings.TrimSpace(req.ProviderID) == "":
		return model.Appointment{}, apperr.Validation("provider_id is required")
	case strings.TrimSpace(req.CustomerID) == "":
		return model.Appointment{}, apperr.Validation("customer_id is required")
	case strings.TrimSpace(req.AppointmentTypeID) == "":
		return model.Appointment{}, apperr.Validation("appointment_type_id is required")
	case req.StartTime.IsZero():
		return model.Appointment{}, apperr.Validation("start_time is required")
	}

	p, err := s.bookableProvider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, err
	}
	typ, err := s.catalog.AppointmentType(ctx, req.AppointmentTypeID)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := s.catalog.Customer(ctx, req.CustomerID); err != nil {
		return model.Appointment{}, err
	}
	if !p.Offers(typ.ID) {
		return model.Appointment{}, apperr.UnsupportedType("provider %s does not offer appointment type %s", p.ID, typ.ID)
	}

	start := req.StartTime.UTC()
	end := start.Add(typ.Duration())
	if err := s.checkAvailability(p, start, end); err != nil {
		return model.Appointment{}, err
	}

	now := s.now()
	appt := model.Appointment{
		ID:                s.newID(),
		ProviderID:        p.ID,
		CustomerID:        req.CustomerID,
		AppointmentTypeID: typ.ID,
		StartTime:         start,
		EndTime:           end,
		Status:            model.StatusScheduled,
		Notes:             req.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	saved, err := s.commit(ctx, func(context.Context) (model.Appointment, *model.Appointment, error) { return appt, nil, nil })
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment booked", "appointment_id", saved.ID, "provider_id", saved.ProviderID, "start_time", saved.StartTime)
	return saved, nil
}

// Update reschedules an appointment and/or changes its status or notes. A new start time is
// checked like a fresh booking, ignoring the appointment itself.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (_ model.Appointment, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.Update", attribute.String("appointment.id", id))
	defer func() { otelx.EndSpan(span, err) }()

	var next model.Status
	if req.Status != nil {
		if next, err = model.ParseStatus(*req.Status); err != nil {
			return model.Appointment{}, err
		}
	}

	return s.commitExisting(ctx, id, func(ctx context.Context, cur model.Appointment) (model.Appointment, error) {
		upd := cur
		if req.Notes != nil {
			upd.Notes = *req.Notes
		}
		if req.StartTime != nil && !req.StartTime.Equal(cur.StartTime) {
			if cur.Status != model.StatusScheduled {
				return model.Appointment{}, apperr.Validation("appointment %s is %s and cannot be rescheduled", id, cur.Status)
			}
			p, err := s.bookableProvider(ctx, cur.ProviderID)
			if err != nil {
				return model.Appointment{}, err
			}
			typ, err := s.catalog.AppointmentType(ctx, cur.AppointmentTypeID)
			if err != nil {
				return model.Appointment{}, err
			}
			if !p.Offers(typ.ID) {
				return model.Appointment{}, apperr.UnsupportedType("provider %s no longer offers appointment type %s", p.ID, typ.ID)
			}
			upd.StartTime = req.StartTime.UTC()
			upd.EndTime = upd.StartTime.Add(typ.Duration())
			if err := s.checkAvailability(p, upd.StartTime, upd.EndTime); err != nil {
				return model.Appointment{}, err
			}
		}
		if next != "" && next != cur.Status {
			if !cur.CanTransition(next) {
				return model.Appointment{}, apperr.Validation("appointment %s cannot move from %s to %s", id, cur.Status, next)
			}
			upd.Status = next
			if next == model.StatusCancelled {
				at := s.now()
				upd.CancelledAt = &at
			}
		}
		upd.UpdatedAt = s.now()
		return upd, nil
	})
}

func (s *Service) Reschedule(ctx context.Context, id string, start time.Time) (model.Appointment, error) {
	return s.Update(ctx, id, UpdateRequest{StartTime: &start})
}

// Cancel frees the appointment's time. Cancelling twice is a no-op; completed and no-show
// appointments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	cur, err := s.Appointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if cur.Status == model.StatusCancelled {
		return cur, nil
	}
	status := string(model.StatusCancelled)
	return s.Update(ctx, id, UpdateRequest{Status: &status})
}

func (s *Service) bookableProvider(ctx context.Context, id string) (model.Provider, error) {
	p, err := s.catalog.Provider(ctx, id)
	if err != nil {
		return model.Provider{}, err
	}
	if !p.Active {
		return model.Provider{}, apperr.NotFound("provider %s not found or inactive", id)
	}
	return p, nil
}

func (s *Service) checkAvailability(p model.Provider, start, end time.Time) error {
	if !s.cfg.RequireAvailability {
		return nil
	}
	ok, err := fitsAvailability(p, start, end)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unavailable("provider %s is not available from %s to %s", p.ID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

// commitExisting re-reads the appointment on every attempt so a retry never writes over a change
// that won the previous race.
func (s *Service) commitExisting(ctx context.Context, id string, apply func(context.Context, model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	return s.commit(ctx, func(ctx context.Context) (model.Appointment, *model.Appointment, error) {
		cur, err := s.Appointment(ctx, id)
		if err != nil {
			return model.Appointment{}, nil, err
		}
		upd, err := apply(ctx, cur)
		if err != nil {
			return model.Appointment{}, nil, err
		}
		upd.ID, upd.ProviderID = cur.ID, cur.ProviderID
		return upd, &cur, nil
	})
}

// commit is the booking validator. Each attempt builds the appointment, reads the provider's
// schedule snapshot, rejects overlaps with other scheduled appointments and writes conditionally
// on the snapshot revision. Losing the revision race retries against fresh state up to
// MaxAttempts, then reports a slot conflict.
//
// build returns the stored version it started from when it modifies an existing appointment.
// That version is checked again after the snapshot is read: a change that landed before the
// snapshot is invisible to the revision check.
func (s *Service) commit(ctx context.Context, build func(context.Context) (model.Appointment, *model.Appointment, error)) (model.Appointment, error) {
	var saved model.Appointment
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = s.cfg.MaxAttempts
	cfg.InitialDelay = s.cfg.RetryDelay
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		s.logger.Debug("schedule changed during write, retrying", "attempt", attempt, "delay", next, "err", err)
	}

	err := retry.Do(ctx, cfg, isRevisionConflict, func(int) error {
		appt, base, err := build(ctx)
		if err != nil {
			return err
		}
		sched, err := s.store.ProviderSchedule(ctx, appt.ProviderID, appt.StartTime, appt.EndTime)
		if err != nil {
			return fmt.Errorf("read schedule of provider %s: %w", appt.ProviderID, err)
		}
		if base != nil {
			fresh, err := s.store.GetAppointment(ctx, base.ID)
			if err != nil {
				return fmt.Errorf("reload appointment %s: %w", base.ID, err)
			}
			if fresh.Status != base.Status || !fresh.UpdatedAt.Equal(base.UpdatedAt) || !fresh.StartTime.Equal(base.StartTime) {
				return storage.ErrRevisionConflict
			}
		}
		if appt.Blocks() {
			for _, other := range sched.Appointments {
				if other.ID != appt.ID && other.Overlaps(appt.StartTime, appt.EndTime) {
					return apperr.SlotConflict(other.ID, "provider %s already has appointment %s from %s to %s",
						appt.ProviderID, other.ID, other.StartTime.Format(time.RFC3339), other.EndTime.Format(time.RFC3339))
				}
			}
		}
		var outbox []storage.OutboxEvent
		if ev, ok := lifecycleEvent(base, appt); ok {
			rec, err := ev.Record(ctx)
			if err != nil {
				return err
			}
			outbox = append(outbox, rec)
		}
		if err := s.store.WriteAppointment(ctx, appt, sched.Revision, outbox...); err != nil {
			return err
		}
		saved = appt
		return nil
	})
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, storage.ErrRevisionConflict):
		return model.Appointment{}, apperr.SlotConflict("", "schedule kept changing; gave up after %d attempts", s.cfg.MaxAttempts)
	case errors.Is(err, storage.ErrOverlap):
		return model.Appointment{}, apperr.SlotConflict("", "the requested time overlaps another scheduled appointment")
	default:
		return model.Appointment{}, err
	}
}

func isRevisionConflict(err error) bool { return errors.Is(err, storage.ErrRevisionConflict) }

// lifecycleEvent describes the change from base to appt. Notes and completion changes carry
// no event.
func lifecycleEvent(base *model.Appointment, appt model.Appointment) (events.AppointmentEvent, bool) {
	switch {
	case base == nil:
		return events.NewAppointmentEvent(events.TypeBooked, appt), true
	case appt.Status == model.StatusCancelled && base.Status != model.StatusCancelled:
		return events.NewAppointmentEvent(events.TypeCancelled, appt), true
	case !appt.StartTime.Equal(base.StartTime):
		ev := events.NewAppointmentEvent(events.TypeRescheduled, appt)
		prev := base.StartTime
		ev.PreviousStart = &prev
		return ev, true
	}
	return events.AppointmentEvent{}, false
}
