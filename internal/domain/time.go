package domain

import (
	"errors"
	"fmt"
	"time"
)

// MinuteOfDay is a civil time of day expressed as minutes from midnight.
// Slot arithmetic works on these instead of instants so it cannot be skewed
// by the host clock's timezone.
type MinuteOfDay int

const MinutesPerDay = 24 * 60

const DateLayout = "2006-01-02"

var ErrInvalidInstant = errors.New("invalid instant")

func (m MinuteOfDay) Valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseMinuteOfDay parses an "HH:MM" time-of-day string.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

// DateOf normalizes a local civil date to its canonical storage form:
// midnight UTC of the same year/month/day.
func DateOf(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return d, nil
}

// Clock anchors every date/time computation to one fixed business timezone:
// a configured UTC offset with no daylight-saving adjustment. All other
// packages consume (date, MinuteOfDay) pairs, never raw instants.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(utcOffsetMinutes int) *Clock {
	name := fmt.Sprintf("UTC%+03d:%02d", utcOffsetMinutes/60, abs(utcOffsetMinutes%60))
	return &Clock{
		loc: time.FixedZone(name, utcOffsetMinutes*60),
		now: time.Now,
	}
}

// NewClockAt is NewClock with an injectable time source, for tests.
func NewClockAt(utcOffsetMinutes int, now func() time.Time) *Clock {
	c := NewClock(utcOffsetMinutes)
	c.now = now
	return c
}

// ToLocal converts an instant to the business-timezone (date, time-of-day)
// pair. The zero instant is rejected as malformed input.
func (c *Clock) ToLocal(instant time.Time) (time.Time, MinuteOfDay, error) {
	if instant.IsZero() {
		return time.Time{}, 0, ErrInvalidInstant
	}
	local := instant.In(c.loc)
	date := DateOf(local.Year(), local.Month(), local.Day())
	return date, MinuteOfDay(local.Hour()*60 + local.Minute()), nil
}

// ToInstant is the inverse of ToLocal for a valid (date, time-of-day) pair.
func (c *Clock) ToInstant(date time.Time, tod MinuteOfDay) (time.Time, error) {
	if date.IsZero() || !tod.Valid() {
		return time.Time{}, ErrInvalidInstant
	}
	return time.Date(date.Year(), date.Month(), date.Day(), int(tod)/60, int(tod)%60, 0, 0, c.loc), nil
}

// Now returns the current business-timezone date and time of day.
func (c *Clock) Now() (time.Time, MinuteOfDay) {
	date, tod, _ := c.ToLocal(c.now())
	return date, tod
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
