package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
)

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	require.NoError(t, err)
	require.Equal(t, 9*time.Hour+30*time.Minute, d)

	d, err = ParseClock("24:00")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, d)

	for _, bad := range []string{"9:30", "24:30", "12:60", "ab:cd", "", "+9:30", " 9:30", "09:+5", "-1:00", "09:3x"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestValidateWindows(t *testing.T) {
	ok := []AvailabilityWindow{
		{Day: "monday", Start: "09:00", End: "12:00"},
		{Day: "Monday", Start: "12:00", End: "17:00"},
		{Date: "2026-03-02", Start: "10:00", End: "11:00"},
	}
	require.NoError(t, ValidateWindows(ok))

	overlapping := []AvailabilityWindow{
		{Day: "tuesday", Start: "09:00", End: "12:00"},
		{Day: "tuesday", Start: "11:30", End: "13:00"},
	}
	err := ValidateWindows(overlapping)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.Error(t, ValidateWindows([]AvailabilityWindow{{Day: "funday", Start: "09:00", End: "10:00"}}))
	require.Error(t, ValidateWindows([]AvailabilityWindow{{Day: "monday", Start: "10:00", End: "10:00"}}))
	require.Error(t, ValidateWindows([]AvailabilityWindow{{Day: "monday", Date: "2026-03-02", Start: "09:00", End: "10:00"}}))
	require.Error(t, ValidateWindows([]AvailabilityWindow{{Start: "09:00", End: "10:00"}}))
}

func TestProviderValidate(t *testing.T) {
	p := Provider{Name: "Dr. Ada", Email: "ada@example.com", Timezone: "Europe/Berlin", AppointmentTypeIDs: []string{"t1"}}
	require.NoError(t, p.Validate())
	require.True(t, p.Offers("t1"))
	require.False(t, p.Offers("t2"))

	p.Timezone = "Mars/Olympus"
	require.Error(t, p.Validate())

	p.Timezone = ""
	loc, err := p.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	p.Email = "not-an-email"
	require.Error(t, p.Validate())
}

func TestAppointmentOverlapIsHalfOpen(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := Appointment{StartTime: base, EndTime: base.Add(30 * time.Minute), Status: StatusScheduled}

	require.True(t, a.Overlaps(base.Add(15*time.Minute), base.Add(45*time.Minute)))
	require.False(t, a.Overlaps(base.Add(30*time.Minute), base.Add(time.Hour)))
	require.False(t, a.Overlaps(base.Add(-30*time.Minute), base))
	require.True(t, a.Blocks())

	a.Status = StatusCancelled
	require.False(t, a.Blocks())
	require.False(t, a.CanTransition(StatusScheduled))
}

func TestAppointmentTypeValidate(t *testing.T) {
	require.NoError(t, AppointmentType{Name: "Checkup", DurationMinutes: 30}.Validate())
	require.Error(t, AppointmentType{Name: "Checkup"}.Validate())
	require.Error(t, AppointmentType{Name: "Checkup", DurationMinutes: 30, Price: -1}.Validate())
	require.Error(t, AppointmentType{DurationMinutes: 30}.Validate())
}
