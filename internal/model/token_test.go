package model

import (
	"testing"
	"time"
)

func TestTokenIsExpired(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"already expired", now.Add(-time.Hour), true},
		{"inside safety buffer", now.Add(2 * time.Minute), true},
		{"exactly at buffer edge", now.Add(5 * time.Minute), true},
		{"outside buffer", now.Add(10 * time.Minute), false},
		{"no recorded expiry", time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := Token{ExpiresAt: tc.expiresAt}
			if got := tok.IsExpired(now); got != tc.want {
				t.Fatalf("IsExpired(%v at %v) = %v, want %v", tc.expiresAt, now, got, tc.want)
			}
		})
	}
}

func TestServiceValidateLeadTimeBounds(t *testing.T) {
	svc := ServiceDefinition{
		Name:            "Consultation",
		DurationMinutes: 30,
		Capacity:        1,
		MinLeadHours:    49,
		MaxLeadDays:     2,
	}
	if err := svc.Validate(); err == nil {
		t.Fatal("expected min lead beyond horizon to be rejected")
	}
	svc.MinLeadHours = 48
	if err := svc.Validate(); err != nil {
		t.Fatalf("expected 48h lead within 2 day horizon to pass, got %v", err)
	}
}

func TestPrepareEventData(t *testing.T) {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	appt := Appointment{
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		Notes:         "first visit",
		Start:         start,
		End:           start.Add(30 * time.Minute),
	}
	data := appt.PrepareEventData("Consultation")
	if data.Summary != "Consultation - Ada Lovelace" {
		t.Errorf("unexpected summary %q", data.Summary)
	}
	if data.Description != "first visit" {
		t.Errorf("unexpected description %q", data.Description)
	}
	if len(data.Attendees) != 1 || data.Attendees[0] != "ada@example.com" {
		t.Errorf("unexpected attendees %v", data.Attendees)
	}

	anon := Appointment{Start: start, End: start.Add(time.Hour)}
	if got := anon.PrepareEventData("Consultation").Summary; got != "Consultation" {
		t.Errorf("expected bare service name without customer, got %q", got)
	}
}
