package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

func ptr[T any](v T) *T { return &v }

func TestAppointmentTypeLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory())

	_, err := svc.CreateAppointmentType(ctx, AppointmentTypeInput{Name: "Checkup"})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	typ, err := svc.CreateAppointmentType(ctx, AppointmentTypeInput{Name: " Checkup ", DurationMinutes: 30, Price: 25})
	require.NoError(t, err)
	require.Equal(t, "Checkup", typ.Name)
	require.NotEmpty(t, typ.ID)

	updated, err := svc.UpdateAppointmentType(ctx, typ.ID, AppointmentTypePatch{DurationMinutes: ptr(45)})
	require.NoError(t, err)
	require.Equal(t, 45, updated.DurationMinutes)
	require.Equal(t, "Checkup", updated.Name)

	_, err = svc.UpdateAppointmentType(ctx, typ.ID, AppointmentTypePatch{DurationMinutes: ptr(0)})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, svc.DeleteAppointmentType(ctx, typ.ID))
	_, err = svc.AppointmentType(ctx, typ.ID)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(svc.DeleteAppointmentType(ctx, typ.ID)))
}

func TestProviderReferencesAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory())
	typ, err := svc.CreateAppointmentType(ctx, AppointmentTypeInput{Name: "Consult", DurationMinutes: 30})
	require.NoError(t, err)

	_, err = svc.CreateProvider(ctx, ProviderInput{Name: "Ada", Email: "ada@example.com", AppointmentTypeIDs: []string{"missing"}})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	p, err := svc.CreateProvider(ctx, ProviderInput{
		Name: "Ada", Email: "ada@example.com", AppointmentTypeIDs: []string{typ.ID},
		Availability: []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}},
	})
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, "UTC", p.Timezone)

	p, err = svc.UpdateProvider(ctx, p.ID, ProviderPatch{Specialization: ptr("Dermatology")})
	require.NoError(t, err)
	require.Equal(t, "Dermatology", p.Specialization)
	require.Len(t, p.Availability, 1)

	require.NoError(t, svc.DeactivateProvider(ctx, p.ID))
	active, err := svc.ListProviders(ctx, storage.ProviderFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, active)

	got, err := svc.Provider(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestDeleteOfferedAppointmentType(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory())
	typ, err := svc.CreateAppointmentType(ctx, AppointmentTypeInput{Name: "Consult", DurationMinutes: 30})
	require.NoError(t, err)
	p, err := svc.CreateProvider(ctx, ProviderInput{Name: "Ada", Email: "ada@example.com", AppointmentTypeIDs: []string{typ.ID}})
	require.NoError(t, err)
	require.NoError(t, svc.DeactivateProvider(ctx, p.ID))

	// Inactive providers still hold the reference.
	require.Equal(t, apperr.KindValidation, apperr.KindOf(svc.DeleteAppointmentType(ctx, typ.ID)))
	_, err = svc.AppointmentType(ctx, typ.ID)
	require.NoError(t, err)

	_, err = svc.UpdateProvider(ctx, p.ID, ProviderPatch{AppointmentTypeIDs: ptr([]string{})})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteAppointmentType(ctx, typ.ID))

	// The provider stays editable once the type is gone.
	p, err = svc.UpdateProvider(ctx, p.ID, ProviderPatch{Name: ptr("Ada L.")})
	require.NoError(t, err)
	require.Equal(t, "Ada L.", p.Name)
}

func TestProviderAvailability(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory())
	p, err := svc.CreateProvider(ctx, ProviderInput{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	a, err := svc.ProviderAvailability(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, a.Windows)

	a, err = svc.SetProviderAvailability(ctx, p.ID, Availability{
		Timezone:         "Europe/Berlin",
		Windows:          []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}, {Date: "2026-03-10", Start: "14:00", End: "16:00"}},
		UnavailableDates: []string{"2026-03-16"},
	})
	require.NoError(t, err)
	require.Equal(t, p.ID, a.ProviderID)
	require.Equal(t, "Europe/Berlin", a.Timezone)
	require.Len(t, a.Windows, 2)

	_, err = svc.SetProviderAvailability(ctx, p.ID, Availability{
		Windows: []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}, {Day: "monday", Start: "11:00", End: "13:00"}},
	})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.SetProviderAvailability(ctx, p.ID, Availability{ProviderID: "other"})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// A rejected update leaves the stored schedule alone.
	a, err = svc.ProviderAvailability(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, a.Windows, 2)

	_, err = svc.ProviderAvailability(ctx, "missing")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCustomers(t *testing.T) {
	ctx := context.Background()
	svc := New(storage.NewMemory())

	_, err := svc.CreateCustomer(ctx, CustomerInput{Name: "Cleo"})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	c, err := svc.CreateCustomer(ctx, CustomerInput{Name: "Cleo", Email: "cleo@example.com", Phone: "+15550100"})
	require.NoError(t, err)
	_, err = svc.CreateCustomer(ctx, CustomerInput{Name: "Dan", Email: "dan@example.com"})
	require.NoError(t, err)

	byPhone, err := svc.ListCustomers(ctx, storage.CustomerFilter{Phone: "+15550100"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	require.Equal(t, c.ID, byPhone[0].ID)

	c, err = svc.UpdateCustomer(ctx, c.ID, CustomerPatch{Address: ptr("1 Main St")})
	require.NoError(t, err)
	require.Equal(t, "1 Main St", c.Address)
	require.Equal(t, "cleo@example.com", c.Email)

	require.NoError(t, svc.DeleteCustomer(ctx, c.ID))
	_, err = svc.Customer(ctx, c.ID)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
