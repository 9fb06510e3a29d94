// Package availability generates and filters bookable time slots. Everything
// here is pure computation over time values; no state, no I/O.
package availability

import "time"

// Business hours applied when laying out candidate slots. Fixed for now;
// per-service hours would require a schedule model the provider side of the
// integration does not carry.
const (
	businessStartHour = 9
	businessEndHour   = 17
)

// Interval is a half-open [Start, End) busy period reported by a provider.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is one candidate booking of exactly the requested duration.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Generate lays out slots within business hours (09:00-17:00) for every
// calendar day from windowStart's date through windowEnd's date, stepping
// duration+buffer minutes. The first day's walk starts at the later of the
// day's opening time and windowStart; each day emits [t, t+duration] while
// the slot still fits before closing. All times are treated in windowStart's
// location.
func Generate(windowStart, windowEnd time.Time, durationMinutes, bufferMinutes int) []Slot {
	if durationMinutes <= 0 || !windowEnd.After(windowStart) {
		return nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	step := duration + time.Duration(bufferMinutes)*time.Minute

	var slots []Slot
	loc := windowStart.Location()
	day := dateOf(windowStart, loc)
	lastDay := dateOf(windowEnd, loc)

	for !day.After(lastDay) {
		dayStart := day.Add(businessStartHour * time.Hour)
		dayEnd := day.Add(businessEndHour * time.Hour)
		if dayStart.Before(windowStart) {
			dayStart = windowStart
		}

		for t := dayStart; !t.Add(duration).After(dayEnd); t = t.Add(step) {
			slots = append(slots, Slot{Start: t, End: t.Add(duration)})
		}

		day = day.AddDate(0, 0, 1)
	}
	return slots
}

// FilterBusy drops every slot that overlaps any busy interval. Overlap uses
// half-open semantics: touching endpoints do not conflict. Quadratic over
// slots x busy, fine for day/week windows.
func FilterBusy(slots []Slot, busy []Interval) []Slot {
	if len(busy) == 0 {
		return slots
	}
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !overlapsAny(s, busy) {
			out = append(out, s)
		}
	}
	return out
}

func overlapsAny(s Slot, busy []Interval) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
