package booking

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    storage.Store
	catalog  *catalog.Service
	svc      *Service
	provider model.Provider
	typ      model.AppointmentType
	customer model.Customer
}

func newFixture(t *testing.T, store storage.Store, cfg Config) fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.New(store)
	typ, err := cat.CreateAppointmentType(ctx, catalog.AppointmentTypeInput{Name: "Consultation", DurationMinutes: 30})
	require.NoError(t, err)
	p, err := cat.CreateProvider(ctx, catalog.ProviderInput{
		Name: "Dr. Ada", Email: "ada@example.com", AppointmentTypeIDs: []string{typ.ID},
		Availability: []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}},
	})
	require.NoError(t, err)
	c, err := cat.CreateCustomer(ctx, catalog.CustomerInput{Name: "Cleo", Email: "cleo@example.com"})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{
		store: store, catalog: cat, svc: New(store, cat, logger, cfg),
		provider: p, typ: typ, customer: c,
	}
}

// outbox drains the events recorded so far.
func (f fixture) outbox(t *testing.T) []events.AppointmentEvent {
	t.Helper()
	var out []events.AppointmentEvent
	_, err := f.store.DrainOutbox(context.Background(), 100, func(_ context.Context, batch []storage.OutboxEvent) error {
		for _, rec := range batch {
			var ev events.AppointmentEvent
			require.NoError(t, json.Unmarshal(rec.Payload, &ev))
			require.Equal(t, rec.Type, ev.EventType)
			require.Equal(t, ev.Appointment.ProviderID, rec.Key)
			out = append(out, ev)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func (f fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range f.outbox(t) {
		out = append(out, ev.EventType)
	}
	return out
}

func (f fixture) slots(t *testing.T) []time.Time {
	t.Helper()
	set, err := f.svc.AvailableSlots(context.Background(), SlotQuery{
		ProviderID: f.provider.ID, AppointmentTypeID: f.typ.ID, From: monday, To: monday.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	return slices.Collect(set.Starts)
}

func (f fixture) book(start time.Time) (model.Appointment, error) {
	return f.svc.Book(context.Background(), BookRequest{
		ProviderID: f.provider.ID, CustomerID: f.customer.ID, AppointmentTypeID: f.typ.ID, StartTime: start,
	})
}

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func TestMondayScenario(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())

	before := f.slots(t)
	require.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0), at(11, 30)}, before)
	require.Equal(t, before, f.slots(t), "resolver must be idempotent")

	appt, err := f.book(at(10, 0))
	require.NoError(t, err)
	require.Equal(t, at(10, 30), appt.EndTime)
	require.Equal(t, model.StatusScheduled, appt.Status)

	require.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 30), at(11, 0), at(11, 30)}, f.slots(t))
	require.Equal(t, []string{events.TypeBooked}, f.eventTypes(t))
}

func TestBookConflictsAndBackToBack(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	first, err := f.book(at(10, 0))
	require.NoError(t, err)

	_, err = f.book(at(10, 15))
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindSlotConflict, e.Kind)
	require.Equal(t, first.ID, e.ConflictID)

	_, err = f.book(at(10, 30))
	require.NoError(t, err, "back-to-back bookings do not overlap")
	_, err = f.book(at(9, 30))
	require.NoError(t, err)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{CustomerID: f.customer.ID, AppointmentTypeID: f.typ.ID, StartTime: at(9, 0)})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: "nope", CustomerID: f.customer.ID, AppointmentTypeID: f.typ.ID, StartTime: at(9, 0)})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Book(ctx, BookRequest{ProviderID: f.provider.ID, CustomerID: "nope", AppointmentTypeID: f.typ.ID, StartTime: at(9, 0)})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	other, err := f.catalog.CreateAppointmentType(ctx, catalog.AppointmentTypeInput{Name: "Surgery", DurationMinutes: 120})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{ProviderID: f.provider.ID, CustomerID: f.customer.ID, AppointmentTypeID: other.ID, StartTime: at(9, 0)})
	require.Equal(t, apperr.KindUnsupportedType, apperr.KindOf(err))

	// 11:45 + 30 minutes runs past the window.
	_, err = f.book(at(11, 45))
	require.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	_, err = f.book(monday.AddDate(0, 0, 1).Add(9 * time.Hour))
	require.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	require.NoError(t, f.catalog.DeactivateProvider(ctx, f.provider.ID))
	_, err = f.book(at(9, 0))
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	list, err := f.svc.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: f.provider.ID})
	require.NoError(t, err)
	require.Empty(t, list, "failed bookings must not leave records")
}

func TestBookOutsideWindowsWhenNotRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireAvailability = false
	f := newFixture(t, storage.NewMemory(), cfg)

	_, err := f.book(at(18, 0))
	require.NoError(t, err)
}

func TestResolverErrors(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.AvailableSlots(ctx, SlotQuery{ProviderID: f.provider.ID, AppointmentTypeID: f.typ.ID, From: monday, To: monday})
	require.Equal(t, apperr.KindInvalidRange, apperr.KindOf(err))

	_, err = f.svc.AvailableSlots(ctx, SlotQuery{ProviderID: "nope", AppointmentTypeID: f.typ.ID, From: monday, To: monday.Add(time.Hour)})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	other, err := f.catalog.CreateAppointmentType(ctx, catalog.AppointmentTypeInput{Name: "Surgery", DurationMinutes: 120})
	require.NoError(t, err)
	_, err = f.svc.AvailableSlots(ctx, SlotQuery{ProviderID: f.provider.ID, AppointmentTypeID: other.ID, From: monday, To: monday.Add(time.Hour)})
	require.Equal(t, apperr.KindUnsupportedType, apperr.KindOf(err))
}

func TestResolverHidesPast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HidePast = true
	f := newFixture(t, storage.NewMemory(), cfg)
	f.svc.resolver.now = func() time.Time { return at(10, 5) }

	require.Equal(t, []time.Time{at(10, 30), at(11, 0), at(11, 30)}, f.slots(t))
}

func TestRescheduleAndCancel(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()

	a, err := f.book(at(9, 0))
	require.NoError(t, err)
	b, err := f.book(at(9, 30))
	require.NoError(t, err)

	// Moving b by 15 minutes only overlaps b's own old interval, which is ignored.
	_, err = f.svc.Reschedule(ctx, b.ID, at(9, 45))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, a.ID, at(9, 30))
	require.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))

	moved, err := f.svc.Reschedule(ctx, a.ID, at(11, 0))
	require.NoError(t, err)
	require.Equal(t, at(11, 30), moved.EndTime)

	cancelled, err := f.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	again, err := f.svc.Cancel(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, cancelled.UpdatedAt, again.UpdatedAt)

	_, err = f.svc.Reschedule(ctx, b.ID, at(10, 0))
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// The cancelled slot is free again.
	_, err = f.book(at(9, 45))
	require.NoError(t, err)

	require.Equal(t, []string{
		events.TypeBooked, events.TypeBooked, events.TypeRescheduled, events.TypeRescheduled, events.TypeCancelled, events.TypeBooked,
	}, f.eventTypes(t))
}

func TestUpdateStatusAndNotes(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()
	a, err := f.book(at(9, 0))
	require.NoError(t, err)

	notes, done := "bring x-rays", "completed"
	upd, err := f.svc.Update(ctx, a.ID, UpdateRequest{Notes: &notes, Status: &done})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, upd.Status)
	require.Equal(t, notes, upd.Notes)

	back := "scheduled"
	_, err = f.svc.Update(ctx, a.ID, UpdateRequest{Status: &back})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	bogus := "postponed"
	_, err = f.svc.Update(ctx, a.ID, UpdateRequest{Status: &bogus})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Update(ctx, "missing", UpdateRequest{Notes: &notes})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Completed appointments stop blocking time.
	_, err = f.book(at(9, 0))
	require.NoError(t, err)
}

func TestConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.book(at(10, 0))
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err), "unexpected error: %v", err)
	}
	require.Equal(t, 1, ok)
	require.NotContains(t, f.slots(t), at(10, 0))
}

// flakyStore loses the revision race a fixed number of times before delegating.
type flakyStore struct {
	storage.Store
	mu        sync.Mutex
	conflicts int
	writes    int
}

func (s *flakyStore) WriteAppointment(ctx context.Context, appt model.Appointment, rev int64, evs ...storage.OutboxEvent) error {
	s.mu.Lock()
	s.writes++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return storage.ErrRevisionConflict
	}
	s.mu.Unlock()
	return s.Store.WriteAppointment(ctx, appt, rev, evs...)
}

func TestBookRetriesRevisionConflicts(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemory(), conflicts: 2}
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	f := newFixture(t, store, cfg)

	_, err := f.book(at(9, 0))
	require.NoError(t, err)
	require.Equal(t, 3, store.writes)

	store.conflicts = 5
	store.writes = 0
	_, err = f.book(at(9, 30))
	require.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
	require.Equal(t, cfg.MaxAttempts, store.writes)
	require.Equal(t, []string{events.TypeBooked}, f.eventTypes(t), "lost races record no events")
}

func TestEventsRecordedWithWrites(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()

	a, err := f.book(at(9, 0))
	require.NoError(t, err)
	_, err = f.book(at(9, 15))
	require.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))

	notes := "first visit"
	_, err = f.svc.Update(ctx, a.ID, UpdateRequest{Notes: &notes})
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, a.ID, at(10, 0))
	require.NoError(t, err)

	evs := f.outbox(t)
	require.Len(t, evs, 2)
	require.Equal(t, events.TypeBooked, evs[0].EventType)
	require.Nil(t, evs[0].PreviousStart)
	require.Equal(t, events.TypeRescheduled, evs[1].EventType)
	require.NotNil(t, evs[1].PreviousStart)
	require.True(t, evs[1].PreviousStart.Equal(at(9, 0)))
	require.True(t, evs[1].Appointment.StartTime.Equal(at(10, 0)))
	require.Equal(t, notes, evs[1].Appointment.Notes)
	require.NotEqual(t, evs[0].EventID, evs[1].EventID)

	require.Empty(t, f.outbox(t), "drained events are not handed out again")
}

func TestRescheduleAfterTypeDropped(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()
	a, err := f.book(at(9, 0))
	require.NoError(t, err)

	_, err = f.catalog.UpdateProvider(ctx, f.provider.ID, catalog.ProviderPatch{AppointmentTypeIDs: &[]string{}})
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, a.ID, at(10, 0))
	require.Equal(t, apperr.KindUnsupportedType, apperr.KindOf(err))

	// Cancelling does not depend on the type being offered.
	_, err = f.svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
}

func TestSearchSlotsAcrossProviders(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()

	// Bea sorts after Dr. Ada by name; Zed is inactive and Cy does not offer the type.
	bea, err := f.catalog.CreateProvider(ctx, catalog.ProviderInput{
		Name: "Dr. Bea", Email: "bea@example.com", AppointmentTypeIDs: []string{f.typ.ID},
		Availability: []model.AvailabilityWindow{{Day: "monday", Start: "10:30", End: "12:30"}},
	})
	require.NoError(t, err)
	zed, err := f.catalog.CreateProvider(ctx, catalog.ProviderInput{
		Name: "Dr. Zed", Email: "zed@example.com", AppointmentTypeIDs: []string{f.typ.ID},
		Availability: []model.AvailabilityWindow{{Day: "monday", Start: "08:00", End: "09:00"}},
	})
	require.NoError(t, err)
	require.NoError(t, f.catalog.DeactivateProvider(ctx, zed.ID))
	_, err = f.catalog.CreateProvider(ctx, catalog.ProviderInput{
		Name: "Cy", Email: "cy@example.com",
		Availability: []model.AvailabilityWindow{{Day: "monday", Start: "08:00", End: "09:00"}},
	})
	require.NoError(t, err)

	_, err = f.book(at(11, 0))
	require.NoError(t, err)

	q := SlotQuery{AppointmentTypeID: f.typ.ID, From: monday, To: monday.AddDate(0, 0, 1)}
	slots, err := f.svc.SearchSlots(ctx, q)
	require.NoError(t, err)

	type row struct {
		provider string
		start    time.Time
	}
	var got []row
	for _, s := range slots {
		got = append(got, row{s.Provider.Name, s.Start})
		require.Equal(t, s.Start.Add(30*time.Minute), s.End)
	}
	require.Equal(t, []row{
		{"Dr. Ada", at(9, 0)},
		{"Dr. Ada", at(9, 30)},
		{"Dr. Ada", at(10, 0)},
		{"Dr. Ada", at(10, 30)},
		{"Dr. Bea", at(10, 30)},
		{"Dr. Bea", at(11, 0)},
		{"Dr. Ada", at(11, 30)},
		{"Dr. Bea", at(11, 30)},
		{"Dr. Bea", at(12, 0)},
	}, got)

	// A provider id narrows the search to that provider.
	q.ProviderID = bea.ID
	slots, err = f.svc.SearchSlots(ctx, q)
	require.NoError(t, err)
	require.Len(t, slots, 4)

	q.ProviderID = ""
	q.AppointmentTypeID = "missing"
	_, err = f.svc.SearchSlots(ctx, q)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	q.AppointmentTypeID = f.typ.ID
	q.To = q.From
	_, err = f.svc.SearchSlots(ctx, q)
	require.Equal(t, apperr.KindInvalidRange, apperr.KindOf(err))
}

func TestTimezoneProvider(t *testing.T) {
	f := newFixture(t, storage.NewMemory(), DefaultConfig())
	ctx := context.Background()
	_, err := f.catalog.SetProviderAvailability(ctx, f.provider.ID, catalog.Availability{
		Timezone: "Asia/Tokyo",
		Windows:  []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "10:00"}},
	})
	require.NoError(t, err)

	// 09:00 in Tokyo on Monday is 00:00 UTC.
	set, err := f.svc.AvailableSlots(ctx, SlotQuery{ProviderID: f.provider.ID, AppointmentTypeID: f.typ.ID, From: monday, To: monday.Add(12 * time.Hour)})
	require.NoError(t, err)
	got := slices.Collect(set.Starts)
	require.Len(t, got, 2)
	require.True(t, got[0].Equal(monday))
	require.True(t, got[1].Equal(monday.Add(30*time.Minute)))
}
