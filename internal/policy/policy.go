// Package policy enforces the booking-window rules attached to a service.
// It is independent of any provider and safe to call with in-memory records.
package policy

import (
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
)

// Validate checks a requested appointment window against the service's
// lead-time rules. All rules must pass.
func Validate(svc model.ServiceDefinition, start, end, now time.Time) error {
	if !end.After(start) {
		return apperr.New(apperr.CodeValidation, "end time must be after start time")
	}

	lead := start.Sub(now)
	if lead.Hours() < float64(svc.MinLeadHours) {
		return apperr.New(apperr.CodeLeadTimeTooShort,
			"appointments must be booked at least %d hours in advance", svc.MinLeadHours)
	}
	if lead.Hours()/24 > float64(svc.MaxLeadDays) {
		return apperr.New(apperr.CodeLeadTimeTooLong,
			"appointments can only be booked up to %d days in advance", svc.MaxLeadDays)
	}
	return nil
}

// CanCancel reports whether the appointment may still be cancelled: never from
// a terminal status, and only with at least the service's cancellation notice
// remaining before the start.
func CanCancel(appt model.Appointment, svc *model.ServiceDefinition, now time.Time) bool {
	if appt.Status.IsTerminal() || svc == nil {
		return false
	}
	hoursUntil := appt.Start.Sub(now).Hours()
	return hoursUntil >= float64(svc.CancellationHours)
}

// CanReschedule is CanCancel plus the service-level reschedule switch.
func CanReschedule(appt model.Appointment, svc *model.ServiceDefinition, now time.Time) bool {
	if svc == nil || !svc.AllowReschedule {
		return false
	}
	return CanCancel(appt, svc, now)
}
