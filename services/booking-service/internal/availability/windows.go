package availability

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Expand turns a provider's declared windows into concrete intervals intersecting [from, to).
// Wall-clock times are read in loc. A date with date-specific windows ignores the recurring ones,
// and unavailable dates yield nothing. Intervals come back in chronological order; windows that
// would start together keep their declared order.
func Expand(windows []model.AvailabilityWindow, unavailable []string, loc *time.Location, from, to time.Time) ([]Interval, error) {
	if !from.Before(to) {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	blocked := make(map[string]struct{}, len(unavailable))
	for _, d := range unavailable {
		blocked[d] = struct{}{}
	}

	type bounds struct{ start, end time.Duration }
	recurring := make(map[time.Weekday][]bounds)
	dated := make(map[string][]bounds)
	for _, w := range windows {
		start, end, err := w.Bounds()
		if err != nil {
			return nil, err
		}
		if w.Date != "" {
			dated[w.Date] = append(dated[w.Date], bounds{start, end})
			continue
		}
		if wd, ok := w.Weekday(); ok {
			recurring[wd] = append(recurring[wd], bounds{start, end})
		}
	}

	var out []Interval
	// Start a day early so a window of the previous local day that runs into the range is kept.
	first := from.In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day()-1, 0, 0, 0, 0, loc)
	for ; day.Before(to); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc) {
		key := day.Format(model.DateLayout)
		if _, ok := blocked[key]; ok {
			continue
		}
		spans, ok := dated[key]
		if !ok {
			spans = recurring[day.Weekday()]
		}
		for _, b := range spans {
			iv := Interval{Start: atClock(day, b.start, loc), End: atClock(day, b.end, loc)}
			if iv.Start.Before(from) {
				iv.Start = from
			}
			if iv.End.After(to) {
				iv.End = to
			}
			if !iv.Empty() {
				out = append(out, iv)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Interval) int { return a.Start.Compare(b.Start) })
	return out, nil
}

// Within reports whether iv lies entirely inside one of the windows.
func Within(windows []Interval, iv Interval) bool {
	for _, w := range windows {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}

func atClock(day time.Time, offset time.Duration, loc *time.Location) time.Time {
	h := int(offset / time.Hour)
	m := int(offset % time.Hour / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
}
