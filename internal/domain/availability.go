package domain

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a candidate or confirmed bookable window. Slots are derived
// values; they are never persisted on their own.
type Slot struct {
	ProviderID      string
	Date            time.Time
	StartMinute     MinuteOfDay
	DurationMinutes int
}

func (s Slot) EndMinute() MinuteOfDay {
	return s.StartMinute + MinuteOfDay(s.DurationMinutes)
}

type ConflictKind string

const (
	ConflictKindAppointment ConflictKind = "appointment"
	ConflictKindBlockedTime ConflictKind = "blocked_time"
)

// Exclusion is an interval a candidate slot must not overlap, normalized
// from either an existing appointment or a blocked interval.
type Exclusion struct {
	Kind        ConflictKind
	ID          uuid.UUID
	StartMinute MinuteOfDay
	EndMinute   MinuteOfDay
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Half-open semantics make back-to-back bookings
// non-overlapping by definition.
func Overlaps(aStart, aEnd, bStart, bEnd MinuteOfDay) bool {
	return aStart < bEnd && bStart < aEnd
}

// GenerateSlots produces the ordered candidate grid for one day: starts at
// OpenMinute, steps by granularityMinutes, and never emits a start whose
// end would pass CloseMinute. A nil rule or a closed day yields no
// candidates; a closed day is not an error.
func GenerateSlots(rule *WorkingHoursRule, date time.Time, durationMinutes, granularityMinutes int) []Slot {
	if rule == nil || !rule.IsOpen {
		return nil
	}
	if durationMinutes <= 0 || granularityMinutes <= 0 {
		return nil
	}

	lastStart := rule.CloseMinute - MinuteOfDay(durationMinutes)
	if lastStart < rule.OpenMinute {
		return nil
	}

	out := make([]Slot, 0, int(lastStart-rule.OpenMinute)/granularityMinutes+1)
	for start := rule.OpenMinute; start <= lastStart; start += MinuteOfDay(granularityMinutes) {
		out = append(out, Slot{
			ProviderID:      rule.ProviderID,
			Date:            date,
			StartMinute:     start,
			DurationMinutes: durationMinutes,
		})
	}
	return out
}

// ExclusionsFor flattens a day's blocked intervals and appointments into
// one exclusion list for conflict resolution.
func ExclusionsFor(blocked []BlockedInterval, appts []Appointment) []Exclusion {
	out := make([]Exclusion, 0, len(blocked)+len(appts))
	for _, b := range blocked {
		out = append(out, Exclusion{
			Kind:        ConflictKindBlockedTime,
			ID:          b.ID,
			StartMinute: b.StartMinute,
			EndMinute:   b.EndMinute,
		})
	}
	for _, a := range appts {
		out = append(out, Exclusion{
			Kind:        ConflictKindAppointment,
			ID:          a.ID,
			StartMinute: a.StartMinute,
			EndMinute:   a.EndMinute(),
		})
	}
	return out
}

// FirstConflict returns the first exclusion overlapping [start, end).
func FirstConflict(start, end MinuteOfDay, exclusions []Exclusion) (Exclusion, bool) {
	for _, ex := range exclusions {
		if Overlaps(start, end, ex.StartMinute, ex.EndMinute) {
			return ex, true
		}
	}
	return Exclusion{}, false
}

// ResolveConflicts filters the candidate grid against the exclusion list.
// Exclusions only remove candidates, so the generator's ascending order is
// preserved without re-sorting.
func ResolveConflicts(candidates []Slot, exclusions []Exclusion) []Slot {
	if len(exclusions) == 0 {
		return candidates
	}
	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		if _, hit := FirstConflict(c.StartMinute, c.EndMinute(), exclusions); hit {
			continue
		}
		out = append(out, c)
	}
	return out
}
