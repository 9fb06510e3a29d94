package storage

import (
	"context"

	"apptsync/libs/db"
)

// Delivery is one customer-facing message dispatched for an appointment.
type Delivery struct {
	AppointmentID string
	EventType     string
	Channel       string
	Recipient     string
	Subject       string
	Status        string
	Error         string
}

type Deliveries struct {
	pool *db.Pool
}

func NewDeliveries(pool *db.Pool) *Deliveries {
	return &Deliveries{pool: pool}
}

func (r *Deliveries) Insert(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (appointment_id, event_type, channel, recipient, subject, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, d.AppointmentID, d.EventType, d.Channel, d.Recipient, d.Subject, d.Status, d.Error)
	return err
}
