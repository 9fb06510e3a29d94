package availability

import (
	"testing"
	"time"
)

func day(t *testing.T, h, m int) time.Time {
	t.Helper()
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestGenerate_SlotLengthAndSpacing(t *testing.T) {
	slots := Generate(day(t, 0, 0), day(t, 23, 59), 60, 15)
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	for i, s := range slots {
		if got := s.End.Sub(s.Start); got != 60*time.Minute {
			t.Fatalf("slot %d has length %s, want 1h", i, got)
		}
		if i > 0 {
			if got := s.Start.Sub(slots[i-1].Start); got != 75*time.Minute {
				t.Fatalf("slots %d,%d spaced %s apart, want 75m", i-1, i, got)
			}
		}
	}
}

func TestGenerate_BusinessHourLadder(t *testing.T) {
	// duration=60 buffer=15 within 09:00-17:00 gives starts
	// 09:00, 10:15, 11:30, 12:45, 14:00, 15:15; a 16:30 slot would end past 17:00.
	slots := Generate(day(t, 0, 0), day(t, 23, 0), 60, 15)
	want := []time.Time{
		day(t, 9, 0), day(t, 10, 15), day(t, 11, 30),
		day(t, 12, 45), day(t, 14, 0), day(t, 15, 15),
	}
	if len(slots) != len(want) {
		t.Fatalf("got %d slots, want %d", len(slots), len(want))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) {
			t.Fatalf("slot %d starts %s, want %s", i, slots[i].Start, w)
		}
	}
	if last := slots[len(slots)-1]; last.End.After(day(t, 17, 0)) {
		t.Fatalf("last slot ends %s, past closing", last.End)
	}
}

func TestGenerate_FirstDayStartsAtWindowStart(t *testing.T) {
	slots := Generate(day(t, 11, 0), day(t, 23, 0), 30, 0)
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	if !slots[0].Start.Equal(day(t, 11, 0)) {
		t.Fatalf("first slot starts %s, want 11:00", slots[0].Start)
	}
}

func TestGenerate_MultiDay(t *testing.T) {
	start := day(t, 10, 0)
	end := start.AddDate(0, 0, 2)
	slots := Generate(start, end, 60, 0)

	days := map[string]bool{}
	for _, s := range slots {
		days[s.Start.Format("2006-01-02")] = true
	}
	if len(days) != 3 {
		t.Fatalf("slots span %d days, want 3", len(days))
	}
}

func TestGenerate_DegenerateInputs(t *testing.T) {
	if got := Generate(day(t, 9, 0), day(t, 9, 0), 60, 15); got != nil {
		t.Fatalf("zero-length window: got %d slots, want none", len(got))
	}
	if got := Generate(day(t, 9, 0), day(t, 17, 0), 0, 15); got != nil {
		t.Fatal("non-positive duration must yield no slots")
	}
}

func TestFilterBusy_Boundary(t *testing.T) {
	slot := Slot{Start: day(t, 10, 0), End: day(t, 11, 0)}

	// Touching endpoints do not overlap.
	kept := FilterBusy([]Slot{slot}, []Interval{{Start: day(t, 11, 0), End: day(t, 12, 0)}})
	if len(kept) != 1 {
		t.Fatal("slot touching busy start must be retained")
	}

	// Any true overlap removes the slot.
	kept = FilterBusy([]Slot{slot}, []Interval{{Start: day(t, 10, 59), End: day(t, 11, 1)}})
	if len(kept) != 0 {
		t.Fatal("overlapping slot must be removed")
	}
}

func TestFilterBusy_Idempotent(t *testing.T) {
	slots := Generate(day(t, 0, 0), day(t, 23, 0), 30, 0)
	busy := []Interval{
		{Start: day(t, 9, 30), End: day(t, 10, 30)},
		{Start: day(t, 13, 0), End: day(t, 13, 1)},
	}
	once := FilterBusy(slots, busy)
	twice := FilterBusy(once, busy)
	if len(once) != len(twice) {
		t.Fatalf("second filter changed result: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Fatalf("slot %d changed on refilter", i)
		}
	}
}
