package availability

import (
	"iter"
	"slices"
	"time"
)

// Interval is the half-open span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Empty() bool { return !i.Start.Before(i.End) }

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Subtract removes every busy interval from the free intervals. Free intervals keep their order;
// pieces of one interval stay in chronological order.
func Subtract(free, busy []Interval) []Interval {
	sorted := slices.Clone(busy)
	slices.SortFunc(sorted, func(a, b Interval) int { return a.Start.Compare(b.Start) })

	var out []Interval
	for _, f := range free {
		cur := f
		for _, b := range sorted {
			if cur.Empty() {
				break
			}
			if !b.Overlaps(cur) {
				continue
			}
			if b.Start.After(cur.Start) {
				out = append(out, Interval{Start: cur.Start, End: b.Start})
			}
			if b.End.After(cur.Start) {
				cur.Start = b.End
			}
		}
		if !cur.Empty() {
			out = append(out, cur)
		}
	}
	return out
}

// Slots returns the start times of back-to-back bookings of length duration, advancing by step,
// inside each free interval. Starts before notBefore are skipped; a zero notBefore keeps all.
//
// The sequence reads a private copy of free, so it can be ranged over any number of times and
// always yields the same starts.
func Slots(free []Interval, duration, step time.Duration, notBefore time.Time) iter.Seq[time.Time] {
	snapshot := slices.Clone(free)
	return func(yield func(time.Time) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		for _, f := range snapshot {
			for t := f.Start; !t.Add(duration).After(f.End); t = t.Add(step) {
				if !notBefore.IsZero() && t.Before(notBefore) {
					continue
				}
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Busy builds the intervals to subtract from a list of start/end pairs.
func Busy[T any](items []T, span func(T) (time.Time, time.Time)) []Interval {
	out := make([]Interval, 0, len(items))
	for _, it := range items {
		s, e := span(it)
		out = append(out, Interval{Start: s, End: e})
	}
	return out
}
