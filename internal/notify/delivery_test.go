package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"apptsync/internal/storage"

	"github.com/segmentio/kafka-go"
)

type fakeSender struct {
	sent []struct{ to, subject, body string }
	fail bool
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.fail {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, struct{ to, subject, body string }{to, subject, body})
	return nil
}

type fakeLog struct {
	rows []storage.Delivery
}

func (f *fakeLog) Insert(_ context.Context, d storage.Delivery) error {
	f.rows = append(f.rows, d)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(eventType string, payload map[string]any) kafka.Message {
	raw, _ := json.Marshal(payload)
	return kafka.Message{
		Topic: eventType,
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
}

func TestDeliverConfirmation(t *testing.T) {
	sender := &fakeSender{}
	log := &fakeLog{}
	d := NewDeliverer(sender, log, testLogger())

	msg := message(EventConfirmed, map[string]any{
		"appointment_id": "a1",
		"reference":      "APT-00042",
		"customer_name":  "Ada Lovelace",
		"customer_email": "ada@example.com",
		"service_name":   "Consultation",
		"start_at":       "2026-09-01T10:00:00Z",
		"end_at":         "2026-09-01T10:30:00Z",
		"status":         "confirmed",
	})
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	m := sender.sent[0]
	if m.to != "ada@example.com" {
		t.Fatalf("wrong recipient: %s", m.to)
	}
	if !strings.Contains(m.subject, "APT-00042") {
		t.Fatalf("subject missing reference: %q", m.subject)
	}
	if !strings.Contains(m.body, "Hello Ada Lovelace") || !strings.Contains(m.body, "Consultation") {
		t.Fatalf("body missing customer or service: %q", m.body)
	}

	if len(log.rows) != 1 {
		t.Fatalf("expected 1 delivery row, got %d", len(log.rows))
	}
	row := log.rows[0]
	if row.Status != "sent" || row.EventType != EventConfirmed || row.AppointmentID != "a1" {
		t.Fatalf("unexpected delivery row: %+v", row)
	}
}

func TestDeliverNoRecipientSkipped(t *testing.T) {
	sender := &fakeSender{}
	log := &fakeLog{}
	d := NewDeliverer(sender, log, testLogger())

	msg := message(EventReminderDue, map[string]any{
		"appointment_id": "a2",
		"reference":      "APT-00043",
	})
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.sent) != 0 || len(log.rows) != 0 {
		t.Fatalf("expected no delivery for event without recipient")
	}
}

func TestDeliverUnknownEventIgnored(t *testing.T) {
	sender := &fakeSender{}
	log := &fakeLog{}
	d := NewDeliverer(sender, log, testLogger())

	msg := message("appointment.unknown.v1", map[string]any{
		"appointment_id": "a3",
		"customer_email": "ada@example.com",
	})
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.sent) != 0 || len(log.rows) != 0 {
		t.Fatalf("unknown events should not produce deliveries")
	}
}

func TestDeliverFailureRecorded(t *testing.T) {
	sender := &fakeSender{fail: true}
	log := &fakeLog{}
	d := NewDeliverer(sender, log, testLogger())

	msg := message(EventCancelled, map[string]any{
		"appointment_id": "a4",
		"reference":      "APT-00044",
		"customer_email": "ada@example.com",
		"service_name":   "Consultation",
		"start_at":       "2026-09-01T10:00:00Z",
	})
	if err := d.Handle(context.Background(), msg); err == nil {
		t.Fatalf("expected send error to propagate")
	}
	if len(log.rows) != 1 {
		t.Fatalf("expected failed delivery to be recorded")
	}
	if log.rows[0].Status != "failed" || log.rows[0].Error == "" {
		t.Fatalf("unexpected delivery row: %+v", log.rows[0])
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	sender := &fakeSender{}
	log := &fakeLog{}
	d := NewDeliverer(sender, log, testLogger())

	msg := kafka.Message{
		Topic:   EventConfirmed,
		Value:   []byte("{not json"),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(EventConfirmed)}},
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no email expected for malformed payload")
	}
}
