// Package storetest holds behaviour tests shared by every storage.Store adapter.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// Run exercises s against the storage.Store contract. The store must start empty.
func Run(t *testing.T, s storage.Store) {
	t.Helper()
	t.Run("AppointmentTypes", func(t *testing.T) { testAppointmentTypes(t, s) })
	t.Run("Providers", func(t *testing.T) { testProviders(t, s) })
	t.Run("Customers", func(t *testing.T) { testCustomers(t, s) })
	t.Run("Appointments", func(t *testing.T) { testAppointments(t, s) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, s) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, s) })
}

func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func testAppointmentTypes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	typ := model.AppointmentType{ID: uuid.NewString(), Name: "Checkup", DurationMinutes: 30, Price: 40, CreatedAt: now(), UpdatedAt: now()}
	require.NoError(t, s.PutAppointmentType(ctx, typ))

	got, err := s.GetAppointmentType(ctx, typ.ID)
	require.NoError(t, err)
	require.Equal(t, typ.Name, got.Name)
	require.Equal(t, 30, got.DurationMinutes)

	typ.DurationMinutes = 45
	require.NoError(t, s.PutAppointmentType(ctx, typ))
	got, err = s.GetAppointmentType(ctx, typ.ID)
	require.NoError(t, err)
	require.Equal(t, 45, got.DurationMinutes)

	all, err := s.ListAppointmentTypes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	require.NoError(t, s.DeleteAppointmentType(ctx, typ.ID))
	_, err = s.GetAppointmentType(ctx, typ.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.DeleteAppointmentType(ctx, typ.ID), storage.ErrNotFound)
}

func testProviders(t *testing.T, s storage.Store) {
	ctx := context.Background()
	active := model.Provider{
		ID: uuid.NewString(), Name: "Ada", Email: "ada@example.com", Active: true, Timezone: "UTC",
		AppointmentTypeIDs: []string{"type-a"},
		Availability:       []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}},
		CreatedAt:          now(), UpdatedAt: now(),
	}
	inactive := model.Provider{ID: uuid.NewString(), Name: "Bob", Email: "bob@example.com", Timezone: "UTC", AppointmentTypeIDs: []string{"type-b"}, CreatedAt: now(), UpdatedAt: now()}
	require.NoError(t, s.PutProvider(ctx, active))
	require.NoError(t, s.PutProvider(ctx, inactive))

	got, err := s.GetProvider(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, active.Availability, got.Availability)
	require.True(t, got.Active)

	list, err := s.ListProviders(ctx, storage.ProviderFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.True(t, containsProvider(list, active.ID))
	require.False(t, containsProvider(list, inactive.ID))

	list, err = s.ListProviders(ctx, storage.ProviderFilter{AppointmentTypeID: "type-b"})
	require.NoError(t, err)
	require.True(t, containsProvider(list, inactive.ID))
	require.False(t, containsProvider(list, active.ID))

	_, err = s.GetProvider(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func containsProvider(list []model.Provider, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}

func testCustomers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := model.Customer{ID: uuid.NewString(), Name: "Cleo", Email: "cleo-" + uuid.NewString() + "@example.com", Phone: "+15550100", CreatedAt: now(), UpdatedAt: now()}
	require.NoError(t, s.PutCustomer(ctx, c))

	byEmail, err := s.ListCustomers(ctx, storage.CustomerFilter{Email: c.Email})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	require.Equal(t, c.ID, byEmail[0].ID)

	none, err := s.ListCustomers(ctx, storage.CustomerFilter{Email: "nobody@example.com"})
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, s.DeleteCustomer(ctx, c.ID))
	_, err = s.GetCustomer(ctx, c.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testAppointments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	providerID := uuid.NewString()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	sched, err := s.ProviderSchedule(ctx, providerID, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Empty(t, sched.Appointments)

	first := model.Appointment{
		ID: uuid.NewString(), ProviderID: providerID, CustomerID: "c1", AppointmentTypeID: "t1",
		StartTime: start, EndTime: start.Add(30 * time.Minute), Status: model.StatusScheduled,
		CreatedAt: now(), UpdatedAt: now(),
	}
	require.NoError(t, s.WriteAppointment(ctx, first, sched.Revision))

	// The revision moved on, so a second write from the same snapshot is refused.
	second := first
	second.ID = uuid.NewString()
	second.StartTime = start.Add(time.Hour)
	second.EndTime = start.Add(90 * time.Minute)
	require.ErrorIs(t, s.WriteAppointment(ctx, second, sched.Revision), storage.ErrRevisionConflict)
	_, err = s.GetAppointment(ctx, second.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	sched, err = s.ProviderSchedule(ctx, providerID, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, sched.Appointments, 1)
	require.NoError(t, s.WriteAppointment(ctx, second, sched.Revision))

	list, err := s.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: providerID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)

	list, err = s.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: providerID, From: start.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, second.ID, list[0].ID)

	// Cancelled appointments leave the schedule but remain readable.
	sched, err = s.ProviderSchedule(ctx, providerID, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	cancelled := first
	cancelledAt := now()
	cancelled.Status = model.StatusCancelled
	cancelled.CancelledAt = &cancelledAt
	require.NoError(t, s.WriteAppointment(ctx, cancelled, sched.Revision))

	sched, err = s.ProviderSchedule(ctx, providerID, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, sched.Appointments, 1)
	require.Equal(t, second.ID, sched.Appointments[0].ID)

	got, err := s.GetAppointment(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	list, err = s.ListAppointments(ctx, storage.AppointmentFilter{ProviderID: providerID, Status: model.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func testConcurrentWrites(t *testing.T, s storage.Store) {
	ctx := context.Background()
	providerID := uuid.NewString()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	sched, err := s.ProviderSchedule(ctx, providerID, start, start.Add(time.Hour))
	require.NoError(t, err)

	const writers = 8
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appt := model.Appointment{
				ID: uuid.NewString(), ProviderID: providerID, CustomerID: "c", AppointmentTypeID: "t",
				StartTime: start, EndTime: start.Add(30 * time.Minute), Status: model.StatusScheduled,
				CreatedAt: now(), UpdatedAt: now(),
			}
			if s.WriteAppointment(ctx, appt, sched.Revision) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
}

func testOutbox(t *testing.T, s storage.Store) {
	ctx := context.Background()
	providerID := uuid.NewString()
	start := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	event := func(n int) storage.OutboxEvent {
		return storage.OutboxEvent{
			ID: uuid.NewString(), Type: "booking.appointment.booked.v1", Key: providerID,
			Payload:    []byte(fmt.Sprintf(`{"n": %d}`, n)),
			OccurredAt: start.Add(time.Duration(n) * time.Second),
		}
	}
	write := func(slot int, rev int64, ev storage.OutboxEvent) error {
		at := start.Add(time.Duration(slot) * time.Hour)
		return s.WriteAppointment(ctx, model.Appointment{
			ID: uuid.NewString(), ProviderID: providerID, CustomerID: "c", AppointmentTypeID: "t",
			StartTime: at, EndTime: at.Add(30 * time.Minute), Status: model.StatusScheduled,
			CreatedAt: now(), UpdatedAt: now(),
		}, rev, ev)
	}
	var got []storage.OutboxEvent
	collect := func(_ context.Context, batch []storage.OutboxEvent) error {
		got = append(got, batch...)
		return nil
	}

	first := event(1)
	require.NoError(t, write(0, 0, first))

	// A failed publish leaves the batch pending.
	n, err := s.DrainOutbox(ctx, 10, func(context.Context, []storage.OutboxEvent) error { return errors.New("broker down") })
	require.Error(t, err)
	require.Zero(t, n)

	n, err = s.DrainOutbox(ctx, 10, collect)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, first.ID, got[0].ID)
	require.Equal(t, providerID, got[0].Key)
	require.JSONEq(t, `{"n": 1}`, string(got[0].Payload))
	require.True(t, got[0].OccurredAt.Equal(first.OccurredAt))

	// A refused write records no event.
	require.ErrorIs(t, write(1, 0, event(2)), storage.ErrRevisionConflict)

	sched, err := s.ProviderSchedule(ctx, providerID, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	second, third := event(3), event(4)
	require.NoError(t, write(2, sched.Revision, second))
	require.NoError(t, write(3, sched.Revision+1, third))

	got = nil
	n, err = s.DrainOutbox(ctx, 1, collect)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.DrainOutbox(ctx, 10, collect)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{second.ID, third.ID}, []string{got[0].ID, got[1].ID})

	n, err = s.DrainOutbox(ctx, 10, collect)
	require.NoError(t, err)
	require.Zero(t, n)
}
