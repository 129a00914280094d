package timeutil

import (
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

func tod(h, m int) *model.TimeOfDay {
	t := model.TimeOfDay(h*60 + m)
	return &t
}

func TestAtRoundTrip(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	d := model.Date{Year: 2026, Month: time.March, Day: 2}
	at := At(d, model.TimeOfDay(9*60+30), loc)

	if got := MinuteOfDay(at, loc); got != model.TimeOfDay(9*60+30) {
		t.Fatalf("expected 09:30, got %s", got)
	}
	if got := LocalDate(at, loc); got != d {
		t.Fatalf("expected %s, got %s", d, got)
	}
	// The instant is absolute: in UTC the same moment is 14:30.
	if got := at.UTC().Hour(); got != 14 {
		t.Fatalf("expected 14:00 UTC, got %d", got)
	}
}

func TestLoadLocationUnknownZone(t *testing.T) {
	if _, err := LoadLocation("Mars/Olympus_Mons"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

func TestInQuietHoursSameDay(t *testing.T) {
	loc := time.UTC
	start, end := tod(12, 0), tod(14, 0)

	at := time.Date(2026, 1, 28, 13, 0, 0, 0, loc)
	if !InQuietHours(at, start, end, loc) {
		t.Fatal("13:00 should be inside 12:00-14:00")
	}
	at = time.Date(2026, 1, 28, 14, 0, 0, 0, loc)
	if InQuietHours(at, start, end, loc) {
		t.Fatal("14:00 should be outside half-open 12:00-14:00")
	}
}

func TestInQuietHoursOvernightWraparound(t *testing.T) {
	loc := time.UTC
	start, end := tod(22, 0), tod(8, 0)

	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{2, true},
		{7, true},
		{8, false},
		{12, false},
		{21, false},
	}
	for _, c := range cases {
		at := time.Date(2026, 1, 28, c.hour, 0, 0, 0, loc)
		if got := InQuietHours(at, start, end, loc); got != c.want {
			t.Fatalf("hour %d: expected %v, got %v", c.hour, c.want, got)
		}
	}
}

func TestInQuietHoursUnconfigured(t *testing.T) {
	at := time.Date(2026, 1, 28, 3, 0, 0, 0, time.UTC)
	if InQuietHours(at, nil, nil, time.UTC) {
		t.Fatal("no quiet hours configured should never match")
	}
}

func TestNextQuietEnd(t *testing.T) {
	loc := time.UTC
	start, end := tod(22, 0), tod(8, 0)

	// 23:00 -> quiet until 08:00 the next day.
	now := time.Date(2026, 1, 28, 23, 0, 0, 0, loc)
	got := NextQuietEnd(now, start, end, loc)
	want := time.Date(2026, 1, 29, 8, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// 03:00 -> quiet until 08:00 the same day.
	now = time.Date(2026, 1, 29, 3, 0, 0, 0, loc)
	got = NextQuietEnd(now, start, end, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// Outside quiet hours the instant passes through unchanged.
	now = time.Date(2026, 1, 29, 12, 0, 0, 0, loc)
	if got := NextQuietEnd(now, start, end, loc); !got.Equal(now) {
		t.Fatalf("expected now unchanged, got %s", got)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	a0, a1 := base, base.Add(30*time.Minute)

	if Overlaps(a0, a1, a1, a1.Add(time.Hour)) {
		t.Fatal("touching intervals must not overlap")
	}
	if !Overlaps(a0, a1, a0.Add(15*time.Minute), a1.Add(time.Hour)) {
		t.Fatal("intersecting intervals must overlap")
	}
}
