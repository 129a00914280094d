// Package timeutil anchors all civil-time handling. Appointments are stored
// as absolute instants; every business-rule comparison converts to the
// owner's timezone through this package, never inline.
package timeutil

import (
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// LoadLocation resolves an IANA zone id. An unknown zone is a configuration
// error, not something the engine can recover from.
func LoadLocation(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", model.ErrInvalidInput, tz)
	}
	return loc, nil
}

// At converts a civil (date, time-of-day) in loc to an absolute instant.
func At(d model.Date, t model.TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(t)/60, int(t)%60, 0, 0, loc)
}

// MinuteOfDay returns the civil time of day of an instant in loc.
func MinuteOfDay(at time.Time, loc *time.Location) model.TimeOfDay {
	local := at.In(loc)
	return model.TimeOfDay(local.Hour()*60 + local.Minute())
}

// LocalDate returns the calendar date of an instant in loc.
func LocalDate(at time.Time, loc *time.Location) model.Date {
	return model.DateOf(at.In(loc))
}

// DayBounds returns the [start, end) instants covering a civil date in loc.
func DayBounds(d model.Date, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// InQuietHours reports whether an instant falls inside the owner's quiet
// window. A window with start > end wraps past midnight (e.g. 22:00-08:00).
func InQuietHours(at time.Time, start, end *model.TimeOfDay, loc *time.Location) bool {
	if start == nil || end == nil {
		return false
	}
	m := MinuteOfDay(at, loc)
	if *start <= *end {
		return m >= *start && m < *end
	}
	return m >= *start || m < *end
}

// NextQuietEnd returns the first instant at or after now when quiet hours
// stop. If now is outside quiet hours it returns now unchanged.
func NextQuietEnd(now time.Time, start, end *model.TimeOfDay, loc *time.Location) time.Time {
	if !InQuietHours(now, start, end, loc) {
		return now
	}
	d := LocalDate(now, loc)
	candidate := At(d, *end, loc)
	if !candidate.After(now) {
		candidate = At(d.Next(), *end, loc)
	}
	return candidate
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
