package lifecycle

import (
	"testing"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to model.AppointmentStatus }{
		{model.StatusDraft, model.StatusConfirmed},
		{model.StatusDraft, model.StatusCancelled},
		{model.StatusConfirmed, model.StatusCheckedIn},
		{model.StatusConfirmed, model.StatusCompleted},
		{model.StatusConfirmed, model.StatusNoShow},
		{model.StatusConfirmed, model.StatusCancelled},
		{model.StatusConfirmed, model.StatusDraft},
		{model.StatusCheckedIn, model.StatusCompleted},
		{model.StatusCheckedIn, model.StatusCancelled},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to model.AppointmentStatus }{
		{model.StatusConfirmed, model.StatusConfirmed},
		{model.StatusDraft, model.StatusCheckedIn},
		{model.StatusDraft, model.StatusCompleted},
		{model.StatusCheckedIn, model.StatusNoShow},
		{model.StatusCompleted, model.StatusConfirmed},
		{model.StatusCompleted, model.StatusCancelled},
		{model.StatusCancelled, model.StatusConfirmed},
		{model.StatusNoShow, model.StatusCompleted},
	}
	for _, tc := range denied {
		if canTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestCheckTransitionErrorCode(t *testing.T) {
	err := checkTransition(model.StatusCompleted, model.StatusCancelled)
	if err == nil {
		t.Fatal("expected error for terminal status")
	}
	if !apperr.Is(err, apperr.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	if err := checkTransition(model.StatusDraft, model.StatusConfirmed); err != nil {
		t.Fatalf("expected legal transition, got %v", err)
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, s := range []model.AppointmentStatus{model.StatusCancelled, model.StatusCompleted, model.StatusNoShow} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if edges := transitions[s]; len(edges) != 0 {
			t.Errorf("terminal status %s has outgoing edges %v", s, edges)
		}
	}
}
