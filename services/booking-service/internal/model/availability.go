package model

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
)

const DateLayout = "2006-01-02"

// AvailabilityWindow is a bookable span of wall-clock time. Day makes it recur weekly (monday ..
// sunday); Date pins it to one calendar date. Exactly one of them is set.
type AvailabilityWindow struct {
	Day   string `json:"day,omitempty" bson:"day,omitempty" firestore:"day,omitempty"`
	Date  string `json:"date,omitempty" bson:"date,omitempty" firestore:"date,omitempty"`
	Start string `json:"start" bson:"start" firestore:"start"`
	End   string `json:"end" bson:"end" firestore:"end"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekday returns the recurring day of the window, false for date-specific windows.
func (w AvailabilityWindow) Weekday() (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(w.Day)]
	return d, ok && w.Date == ""
}

// Bounds returns the window's start and end as offsets from midnight.
func (w AvailabilityWindow) Bounds() (start, end time.Duration, err error) {
	if start, err = ParseClock(w.Start); err != nil {
		return 0, 0, err
	}
	if end, err = ParseClock(w.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (w AvailabilityWindow) key() string {
	if w.Date != "" {
		return "date:" + w.Date
	}
	return "day:" + strings.ToLower(w.Day)
}

func (w AvailabilityWindow) Validate() error {
	switch {
	case w.Day == "" && w.Date == "":
		return apperr.Validation("availability window needs a day or a date")
	case w.Day != "" && w.Date != "":
		return apperr.Validation("availability window cannot have both day and date")
	case w.Day != "":
		if _, ok := weekdays[strings.ToLower(w.Day)]; !ok {
			return apperr.Validation("unknown day %q", w.Day)
		}
	default:
		if _, err := time.Parse(DateLayout, w.Date); err != nil {
			return apperr.Validation("date %q must be YYYY-MM-DD", w.Date)
		}
	}
	start, end, err := w.Bounds()
	if err != nil {
		return err
	}
	if start >= end {
		return apperr.Validation("window %s-%s: start must be before end", w.Start, w.End)
	}
	return nil
}

// ValidateWindows validates each window and rejects overlapping windows on the same day or date.
func ValidateWindows(windows []AvailabilityWindow) error {
	type span struct {
		start, end time.Duration
		label      string
	}
	byKey := make(map[string][]span)
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return err
		}
		start, end, _ := w.Bounds()
		byKey[w.key()] = append(byKey[w.key()], span{start: start, end: end, label: w.Start + "-" + w.End})
	}
	for key, spans := range byKey {
		slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				return apperr.Validation("windows %s and %s overlap on %s", spans[i-1].label, spans[i].label, strings.SplitN(key, ":", 2)[1])
			}
		}
	}
	return nil
}

// ParseClock parses HH:MM into an offset from midnight. 24:00 is accepted as end of day.
func ParseClock(s string) (time.Duration, error) {
	if len(s) != 5 || s[2] != ':' || !digits(s[:2]) || !digits(s[3:]) {
		return 0, apperr.Validation("time %q must be HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, apperr.Validation("time %q is out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func digits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
