package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"apptsync/internal/storage"
	"apptsync/libs/kafkax"

	"github.com/segmentio/kafka-go"
)

// Deliverer turns appointment events back into customer email. It is the
// consuming end of the outbox: the lifecycle manager records what happened,
// the deliverer decides what the customer hears about it.
type Deliverer struct {
	sender     Sender
	deliveries DeliveryLog
	logger     *slog.Logger
}

// DeliveryLog persists the audit trail of dispatched messages.
type DeliveryLog interface {
	Insert(ctx context.Context, d storage.Delivery) error
}

func NewDeliverer(sender Sender, deliveries DeliveryLog, logger *slog.Logger) *Deliverer {
	return &Deliverer{sender: sender, deliveries: deliveries, logger: logger}
}

type eventPayload struct {
	AppointmentID string `json:"appointment_id"`
	Reference     string `json:"reference"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	ServiceName   string `json:"service_name"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	Status        string `json:"status"`
}

// Handle processes one appointment event. Malformed payloads and events with
// no recipient are dropped with a log line rather than retried.
func (d *Deliverer) Handle(ctx context.Context, msg kafka.Message) error {
	eventType := kafkax.HeaderValue(msg.Headers, "event_type")
	if eventType == "" {
		eventType = msg.Topic
	}

	var p eventPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		d.logger.Error("invalid event payload", "err", err, "event_type", eventType)
		return nil
	}
	if p.CustomerEmail == "" {
		d.logger.Debug("event has no recipient, skipping", "event_type", eventType, "appointment_id", p.AppointmentID)
		return nil
	}

	subject, body, ok := render(eventType, p)
	if !ok {
		d.logger.Debug("no template for event", "event_type", eventType)
		return nil
	}

	status := "sent"
	sendErr := d.sender.Send(p.CustomerEmail, subject, body)
	if sendErr != nil {
		status = "failed"
		d.logger.Error("email send failed", "err", sendErr, "appointment_id", p.AppointmentID)
	}

	if err := d.deliveries.Insert(ctx, storage.Delivery{
		AppointmentID: p.AppointmentID,
		EventType:     eventType,
		Channel:       "email",
		Recipient:     p.CustomerEmail,
		Subject:       subject,
		Status:        status,
		Error:         errString(sendErr),
	}); err != nil {
		return err
	}
	return sendErr
}

func render(eventType string, p eventPayload) (subject string, body string, ok bool) {
	when := p.StartAt
	if t, err := time.Parse(time.RFC3339, p.StartAt); err == nil {
		when = t.Format("Mon, 2 Jan 2006 at 15:04 MST")
	}

	greeting := "Hello"
	if p.CustomerName != "" {
		greeting = "Hello " + p.CustomerName
	}

	switch eventType {
	case EventConfirmed:
		subject = fmt.Sprintf("Appointment confirmed: %s", p.Reference)
		body = fmt.Sprintf("%s,\n\nYour %s appointment is confirmed for %s.\nReference: %s\n", greeting, p.ServiceName, when, p.Reference)
	case EventCancelled:
		subject = fmt.Sprintf("Appointment cancelled: %s", p.Reference)
		body = fmt.Sprintf("%s,\n\nYour %s appointment scheduled for %s has been cancelled.\nReference: %s\n", greeting, p.ServiceName, when, p.Reference)
	case EventRescheduled:
		subject = fmt.Sprintf("Appointment rescheduled: %s", p.Reference)
		body = fmt.Sprintf("%s,\n\nYour %s appointment has been moved to %s.\nReference: %s\n", greeting, p.ServiceName, when, p.Reference)
	case EventReminderDue:
		subject = fmt.Sprintf("Reminder: upcoming appointment %s", p.Reference)
		body = fmt.Sprintf("%s,\n\nThis is a reminder of your %s appointment on %s.\nReference: %s\n", greeting, p.ServiceName, when, p.Reference)
	default:
		return "", "", false
	}
	return subject, body, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
