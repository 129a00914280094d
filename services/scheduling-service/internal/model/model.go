package model

import (
	"fmt"
	"time"
)

type IntentMode string

const (
	IntentProfit   IntentMode = "profit"
	IntentBalanced IntentMode = "balanced"
	IntentFreeTime IntentMode = "free_time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type Actor string

const (
	ActorOwner  Actor = "owner"
	ActorClient Actor = "client"
	ActorSystem Actor = "system"
)

// TimeOfDay is a civil time of day expressed as minutes since local midnight.
type TimeOfDay int

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

type Settings struct {
	LeadTimeMin        int
	CancelWindowHr     int
	ReminderOffsetsMin []int
	MaxOutreachPerGap  int
}

// DefaultSettings are applied when an owner has no settings row.
func DefaultSettings() Settings {
	return Settings{
		LeadTimeMin:        60,
		CancelWindowHr:     24,
		ReminderOffsetsMin: []int{1440, 120},
		MaxOutreachPerGap:  5,
	}
}

type Owner struct {
	ID              string
	Phone           string
	Name            string
	Timezone        string
	DefaultIntent   IntentMode
	QuietHoursStart *TimeOfDay
	QuietHoursEnd   *TimeOfDay
	Settings        Settings
	CreatedAt       time.Time
}

type Service struct {
	ID          string
	OwnerID     string
	Name        string
	DurationMin int
	BufferMin   int
	PriceCents  int
	Active      bool
}

// SlotSpanMin is the schedule footprint of one booking: the client-visible
// duration plus the dead time that follows it.
func (s Service) SlotSpanMin() int {
	return s.DurationMin + s.BufferMin
}

type Availability struct {
	ID      string
	OwnerID string
	Weekday time.Weekday
	Start   TimeOfDay
	End     TimeOfDay
	Active  bool
}

type Block struct {
	ID      string
	OwnerID string
	Date    Date
	Start   TimeOfDay
	End     TimeOfDay
	Reason  string
}

type Client struct {
	ID               string
	OwnerID          string
	Phone            string
	Name             string
	OptInMoveEarlier bool
	CreatedAt        time.Time
}

type Appointment struct {
	ID        string
	OwnerID   string
	ClientID  string
	ServiceID string
	StartAt   time.Time
	EndAt     time.Time
	Status    AppointmentStatus
	Notes     string
	CreatedAt time.Time
}

func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

type WaitlistEntry struct {
	ID             string
	OwnerID        string
	ClientID       string
	ServiceID      string
	WindowStart    time.Time
	WindowEnd      time.Time
	Priority       int
	NotifyCount    int
	LastNotifiedAt *time.Time
	CreatedAt      time.Time
}

// Gap is a vacated schedule interval handed to the gap-fill cascade.
type Gap struct {
	OwnerID   string
	ServiceID string
	Start     time.Time
	End       time.Time
}

func (g Gap) DurationMin() int {
	return int(g.End.Sub(g.Start) / time.Minute)
}

// Date is a civil calendar date, timezone-free.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Next() Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1))
}

// After reports whether d is a later calendar day than other.
func (d Date) After(other Date) bool {
	if d.Year != other.Year {
		return d.Year > other.Year
	}
	if d.Month != other.Month {
		return d.Month > other.Month
	}
	return d.Day > other.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return DateOf(t), nil
}
