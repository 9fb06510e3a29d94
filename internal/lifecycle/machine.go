package lifecycle

import (
	"apptsync/internal/apperr"
	"apptsync/internal/model"
)

// transitions is the full appointment state machine. Terminal statuses have no
// outgoing edges; confirmed may fall back to draft when a booking is undone.
var transitions = map[model.AppointmentStatus][]model.AppointmentStatus{
	model.StatusDraft:     {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCheckedIn, model.StatusCompleted, model.StatusNoShow, model.StatusCancelled, model.StatusDraft},
	model.StatusCheckedIn: {model.StatusCompleted, model.StatusCancelled},
}

func canTransition(from, to model.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to model.AppointmentStatus) error {
	if !canTransition(from, to) {
		return apperr.New(apperr.CodeInvalidTransition, "cannot move appointment from %s to %s", from, to)
	}
	return nil
}
