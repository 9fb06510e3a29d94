// Package notify emits customer-facing notification events. Events go through
// the transactional outbox, so a notification is only published if the state
// change that triggered it commits.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"apptsync/internal/model"
	"apptsync/internal/outbox"

	"github.com/jackc/pgx/v5"
)

const (
	EventConfirmed   = "appointment.confirmed.v1"
	EventCancelled   = "appointment.cancelled.v1"
	EventRescheduled = "appointment.rescheduled.v1"
	EventReminderDue = "appointment.reminder.due.v1"
)

type Notifier struct {
	outbox *outbox.Repository
}

func NewNotifier(repo *outbox.Repository) *Notifier {
	return &Notifier{outbox: repo}
}

func payload(appt model.Appointment, serviceName string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"reference":      appt.Reference,
		"customer_name":  appt.CustomerName,
		"customer_email": appt.CustomerEmail,
		"customer_phone": appt.CustomerPhone,
		"service_name":   serviceName,
		"start_at":       appt.Start.UTC().Format(time.RFC3339),
		"end_at":         appt.End.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	})
}

// Emit writes one notification event inside the caller's transaction.
func (n *Notifier) Emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment, serviceName string) error {
	raw, err := payload(appt, serviceName)
	if err != nil {
		return err
	}
	return n.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}

// EmitStandalone writes a notification with no surrounding transaction, used
// by background jobs like the reminder dispatcher.
func (n *Notifier) EmitStandalone(ctx context.Context, eventType string, appt model.Appointment, serviceName string) error {
	raw, err := payload(appt, serviceName)
	if err != nil {
		return err
	}
	return n.outbox.InsertStandalone(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       raw,
	})
}
