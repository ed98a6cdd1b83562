package booking

import (
	"context"
	"iter"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const tracerName = "booking"

type SlotQuery struct {
	ProviderID        string
	AppointmentTypeID string
	From              time.Time
	To                time.Time
}

// SlotSet is the answer to a SlotQuery. Starts is lazy and can be ranged over repeatedly; it
// reads a snapshot taken when the query ran.
type SlotSet struct {
	Provider model.Provider
	Type     model.AppointmentType
	Starts   iter.Seq[time.Time]
}

// Resolver computes open slots from a provider's windows minus its scheduled appointments.
// It never writes.
type Resolver struct {
	store    storage.AppointmentStore
	catalog  *catalog.Service
	hidePast bool
	now      func() time.Time
}

func NewResolver(store storage.AppointmentStore, cat *catalog.Service, hidePast bool) *Resolver {
	return &Resolver{store: store, catalog: cat, hidePast: hidePast, now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, q SlotQuery) (_ SlotSet, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.ResolveSlots",
		attribute.String("provider.id", q.ProviderID),
		attribute.String("appointment_type.id", q.AppointmentTypeID),
	)
	defer func() { otelx.EndSpan(span, err) }()

	if err := checkRange(q); err != nil {
		return SlotSet{}, err
	}
	p, err := r.catalog.Provider(ctx, q.ProviderID)
	if err != nil {
		return SlotSet{}, err
	}
	typ, err := r.catalog.AppointmentType(ctx, q.AppointmentTypeID)
	if err != nil {
		return SlotSet{}, err
	}
	if !p.Offers(typ.ID) {
		return SlotSet{}, apperr.UnsupportedType("provider %s does not offer appointment type %s", p.ID, typ.ID)
	}
	set := SlotSet{Provider: p, Type: typ, Starts: func(func(time.Time) bool) {}}
	if !p.Active {
		return set, nil
	}

	loc, err := p.Location()
	if err != nil {
		return SlotSet{}, err
	}
	windows, err := availability.Expand(p.Availability, p.UnavailableDates, loc, q.From, q.To)
	if err != nil {
		return SlotSet{}, err
	}
	sched, err := r.store.ProviderSchedule(ctx, p.ID, q.From, q.To)
	if err != nil {
		return SlotSet{}, err
	}
	busy := availability.Busy(sched.Appointments, func(a model.Appointment) (time.Time, time.Time) {
		return a.StartTime, a.EndTime
	})

	var notBefore time.Time
	if r.hidePast {
		notBefore = r.now()
	}
	d := typ.Duration()
	set.Starts = availability.Slots(availability.Subtract(windows, busy), d, d, notBefore)
	span.SetAttributes(attribute.Int("schedule.appointments", len(sched.Appointments)))
	return set, nil
}

func checkRange(q SlotQuery) error {
	if q.From.IsZero() || q.To.IsZero() || !q.To.After(q.From) {
		return apperr.InvalidRange("end %s must be after start %s", q.To.Format(time.RFC3339), q.From.Format(time.RFC3339))
	}
	return nil
}

// Slot is one open start time of a provider.
type Slot struct {
	Provider model.Provider
	Start    time.Time
	End      time.Time
}

// Search lists open slots for q. Without a provider id it covers every active provider that
// offers the type, ordered by start time; equal starts keep provider order (name, then id).
func (r *Resolver) Search(ctx context.Context, q SlotQuery) (_ []Slot, err error) {
	if q.ProviderID != "" {
		set, err := r.Resolve(ctx, q)
		if err != nil {
			return nil, err
		}
		return set.collect(), nil
	}

	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.SearchSlots",
		attribute.String("appointment_type.id", q.AppointmentTypeID),
	)
	defer func() { otelx.EndSpan(span, err) }()

	if err := checkRange(q); err != nil {
		return nil, err
	}
	typ, err := r.catalog.AppointmentType(ctx, q.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	providers, err := r.catalog.ListProviders(ctx, storage.ProviderFilter{ActiveOnly: true, AppointmentTypeID: typ.ID})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("providers", len(providers)))

	var out []Slot
	for _, p := range providers {
		pq := q
		pq.ProviderID = p.ID
		set, err := r.Resolve(ctx, pq)
		if apperr.KindOf(err) == apperr.KindUnsupportedType {
			// The provider dropped the type after it was listed.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, set.collect()...)
	}
	slices.SortStableFunc(out, func(a, b Slot) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (set SlotSet) collect() []Slot {
	d := set.Type.Duration()
	var out []Slot
	for start := range set.Starts {
		out = append(out, Slot{Provider: set.Provider, Start: start, End: start.Add(d)})
	}
	return out
}

// fitsAvailability reports whether [start, end) lies inside one declared window of p.
func fitsAvailability(p model.Provider, start, end time.Time) (bool, error) {
	loc, err := p.Location()
	if err != nil {
		return false, err
	}
	// Expand a margin around the candidate so no covering window is clipped.
	windows, err := availability.Expand(p.Availability, p.UnavailableDates, loc, start.Add(-48*time.Hour), end.Add(48*time.Hour))
	if err != nil {
		return false, err
	}
	return availability.Within(windows, availability.Interval{Start: start, End: end}), nil
}
