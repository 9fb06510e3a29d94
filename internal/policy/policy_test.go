package policy

import (
	"testing"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
)

var testService = model.ServiceDefinition{
	Name:              "Consultation",
	DurationMinutes:   60,
	Capacity:          1,
	MinLeadHours:      24,
	MaxLeadDays:       90,
	CancellationHours: 24,
	AllowReschedule:   true,
}

func TestValidate_LeadTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		start    time.Time
		wantCode string
	}{
		{"too soon", now.Add(12 * time.Hour), apperr.CodeLeadTimeTooShort},
		{"just inside min lead", now.Add(25 * time.Hour), ""},
		{"too far out", now.Add(100 * 24 * time.Hour), apperr.CodeLeadTimeTooLong},
		{"inside horizon", now.Add(80 * 24 * time.Hour), ""},
	}
	for _, tc := range cases {
		err := Validate(testService, tc.start, tc.start.Add(time.Hour), now)
		if tc.wantCode == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if apperr.CodeOf(err) != tc.wantCode {
			t.Fatalf("%s: got %v, want code %s", tc.name, err, tc.wantCode)
		}
	}
}

func TestValidate_EndBeforeStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)
	err := Validate(testService, start, start, now)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}
}

func TestCanCancel(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := testService

	appt := model.Appointment{Status: model.StatusConfirmed, Start: now.Add(48 * time.Hour)}
	if !CanCancel(appt, &svc, now) {
		t.Fatal("confirmed appointment 48h out should be cancellable")
	}

	appt.Start = now.Add(2 * time.Hour)
	if CanCancel(appt, &svc, now) {
		t.Fatal("inside the cancellation notice window, cancel must be denied")
	}

	for _, st := range []model.AppointmentStatus{model.StatusCancelled, model.StatusCompleted, model.StatusNoShow} {
		appt := model.Appointment{Status: st, Start: now.Add(48 * time.Hour)}
		if CanCancel(appt, &svc, now) {
			t.Fatalf("terminal status %s must not be cancellable", st)
		}
	}

	if CanCancel(model.Appointment{Status: model.StatusConfirmed, Start: now.Add(48 * time.Hour)}, nil, now) {
		t.Fatal("appointment without a service must not be cancellable")
	}
}

func TestCanCancelAppliesNoticeToAllLiveStatuses(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := testService

	for _, st := range []model.AppointmentStatus{model.StatusDraft, model.StatusConfirmed, model.StatusCheckedIn} {
		appt := model.Appointment{Status: st, Start: now.Add(48 * time.Hour)}
		if !CanCancel(appt, &svc, now) {
			t.Errorf("%s appointment outside the notice window should be cancellable", st)
		}
		appt.Start = now.Add(2 * time.Hour)
		if CanCancel(appt, &svc, now) {
			t.Errorf("%s appointment inside the notice window must be denied", st)
		}
	}
}

func TestCanReschedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	appt := model.Appointment{Status: model.StatusConfirmed, Start: now.Add(48 * time.Hour)}

	svc := testService
	if !CanReschedule(appt, &svc, now) {
		t.Fatal("expected reschedule allowed")
	}

	svc.AllowReschedule = false
	if CanReschedule(appt, &svc, now) {
		t.Fatal("service disallows reschedule")
	}
}
