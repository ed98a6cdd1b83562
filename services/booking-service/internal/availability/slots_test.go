package availability

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

func TestSlots_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	free := Subtract(
		[]Interval{{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}},
		[]Interval{{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)}},
	)

	slots := slices.Collect(Slots(free, 15*time.Minute, 15*time.Minute, time.Time{}))
	require.Equal(t, []time.Time{day.Add(9 * time.Hour), day.Add(9*time.Hour + 45*time.Minute)}, slots)
}

func TestSlots_SkipsPast(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	free := []Interval{{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}}

	// 09:00, 09:15 and 09:30 start before 09:31.
	slots := slices.Collect(Slots(free, 15*time.Minute, 15*time.Minute, day.Add(9*time.Hour+31*time.Minute)))
	require.Equal(t, []time.Time{day.Add(9*time.Hour + 45*time.Minute)}, slots)
}

func TestSlots_Restartable(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	free := []Interval{{Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)}}
	seq := Slots(free, 30*time.Minute, 30*time.Minute, time.Time{})

	// Mutating the input after building the sequence must not leak into it.
	free[0].End = day.Add(9*time.Hour + 30*time.Minute)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.Len(t, first, 4)
	require.Equal(t, first, second)

	var taken []time.Time
	for s := range seq {
		taken = append(taken, s)
		if len(taken) == 2 {
			break
		}
	}
	require.Equal(t, first[:2], taken)
}

func TestSlots_PartialTailDropped(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	free := []Interval{{Start: day.Add(9 * time.Hour), End: day.Add(10*time.Hour + 20*time.Minute)}}
	slots := slices.Collect(Slots(free, 30*time.Minute, 30*time.Minute, time.Time{}))
	require.Len(t, slots, 2)
	require.Empty(t, slices.Collect(Slots(free, 0, 30*time.Minute, time.Time{})))
}

func TestSubtract(t *testing.T) {
	base := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	free := []Interval{{Start: at(0), End: at(180)}}
	busy := []Interval{
		{Start: at(120), End: at(150)},
		{Start: at(-30), End: at(30)},
		{Start: at(60), End: at(90)},
		{Start: at(170), End: at(240)},
	}
	got := Subtract(free, busy)
	require.Equal(t, []Interval{
		{Start: at(30), End: at(60)},
		{Start: at(90), End: at(120)},
		{Start: at(150), End: at(170)},
	}, got)

	// Back-to-back busy intervals do not shrink their neighbours.
	got = Subtract([]Interval{{Start: at(0), End: at(60)}}, []Interval{{Start: at(60), End: at(90)}})
	require.Equal(t, []Interval{{Start: at(0), End: at(60)}}, got)

	require.Empty(t, Subtract([]Interval{{Start: at(0), End: at(60)}}, []Interval{{Start: at(-10), End: at(70)}}))
}

func TestExpand_MondayScenario(t *testing.T) {
	windows := []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}}
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	free, err := Expand(windows, nil, time.UTC, monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, []Interval{{Start: monday.Add(9 * time.Hour), End: monday.Add(12 * time.Hour)}}, free)

	slots := slices.Collect(Slots(free, 30*time.Minute, 30*time.Minute, time.Time{}))
	require.Len(t, slots, 6)
	require.Equal(t, monday.Add(9*time.Hour), slots[0])
	require.Equal(t, monday.Add(11*time.Hour+30*time.Minute), slots[5])

	booked := []Interval{{Start: monday.Add(10 * time.Hour), End: monday.Add(10*time.Hour + 30*time.Minute)}}
	after := slices.Collect(Slots(Subtract(free, booked), 30*time.Minute, 30*time.Minute, time.Time{}))
	require.Len(t, after, 5)
	require.NotContains(t, after, monday.Add(10*time.Hour))
}

func TestExpand_DateOverridesAndUnavailable(t *testing.T) {
	windows := []model.AvailabilityWindow{
		{Day: "monday", Start: "09:00", End: "12:00"},
		{Date: "2026-03-09", Start: "14:00", End: "15:00"},
	}
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 21)

	free, err := Expand(windows, []string{"2026-03-16"}, time.UTC, from, to)
	require.NoError(t, err)
	require.Equal(t, []Interval{
		{Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
		{Start: time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)},
	}, free)
}

func TestExpand_ClipsAndTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	windows := []model.AvailabilityWindow{{Day: "monday", Start: "09:00", End: "12:00"}}

	// 09:00 New York on 2026-03-02 is 14:00 UTC.
	from := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	free, err := Expand(windows, nil, loc, from, to)
	require.NoError(t, err)
	require.Len(t, free, 1)
	require.True(t, free[0].Start.Equal(from))
	require.True(t, free[0].End.Equal(time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)))

	empty, err := Expand(windows, nil, loc, to, from)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestWithin(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	windows := []Interval{{Start: base, End: base.Add(3 * time.Hour)}}
	require.True(t, Within(windows, Interval{Start: base.Add(150 * time.Minute), End: base.Add(3 * time.Hour)}))
	require.False(t, Within(windows, Interval{Start: base.Add(170 * time.Minute), End: base.Add(200 * time.Minute)}))
}
