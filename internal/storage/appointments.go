package storage

import (
	"context"
	"time"

	"apptsync/internal/availability"
	"apptsync/internal/model"
	"apptsync/libs/db"

	"github.com/jackc/pgx/v5"
)

type Appointments struct {
	pool *db.Pool
}

func NewAppointments(pool *db.Pool) *Appointments {
	return &Appointments{pool: pool}
}

const appointmentColumns = `
	id, reference,
	customer_name, COALESCE(customer_email, ''), COALESCE(customer_phone, ''), COALESCE(portal_user_id, ''),
	service_id, start_at, end_at,
	status, created_via, COALESCE(notes, ''),
	COALESCE(provider, ''), COALESCE(provider_event_id, ''), COALESCE(config_id::text, ''),
	reminder_sent, created_at
`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID, &a.Reference,
		&a.CustomerName, &a.CustomerEmail, &a.CustomerPhone, &a.PortalUserID,
		&a.ServiceID, &a.Start, &a.End,
		&a.Status, &a.CreatedVia, &a.Notes,
		&a.Provider, &a.ProviderEventID, &a.ConfigID,
		&a.ReminderSent, &a.CreatedAt,
	)
	return a, err
}

// Create inserts a draft appointment. The human-facing reference is taken from
// a dedicated sequence so it survives deletions without reuse.
func (r *Appointments) Create(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	if a.Status == "" {
		a.Status = model.StatusDraft
	}
	if a.CreatedVia == "" {
		a.CreatedVia = model.ViaAPI
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(reference, customer_name, customer_email, customer_phone, portal_user_id,
			 service_id, start_at, end_at, status, created_via, notes,
			 provider, config_id)
		VALUES ('APT-' || lpad(nextval('appointment_reference_seq')::text, 5, '0'),
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, '')::uuid)
		RETURNING id, reference, created_at
	`, a.CustomerName, a.CustomerEmail, a.CustomerPhone, a.PortalUserID,
		a.ServiceID, a.Start, a.End, a.Status, a.CreatedVia, a.Notes,
		string(a.Provider), a.ConfigID)
	err := row.Scan(&a.ID, &a.Reference, &a.CreatedAt)
	return a, err
}

func (r *Appointments) Get(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

// GetForUpdate locks the appointment row for the duration of tx. Lifecycle
// transitions take this lock so a status check and its update are atomic.
func (r *Appointments) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *Appointments) Update(ctx context.Context, tx pgx.Tx, a model.Appointment) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET customer_name = $2, customer_email = $3, customer_phone = $4, portal_user_id = $5,
			service_id = $6, start_at = $7, end_at = $8, status = $9, notes = $10,
			provider = NULLIF($11, ''), provider_event_id = NULLIF($12, ''),
			config_id = NULLIF($13, '')::uuid, reminder_sent = $14
		WHERE id = $1
	`, a.ID, a.CustomerName, a.CustomerEmail, a.CustomerPhone, a.PortalUserID,
		a.ServiceID, a.Start, a.End, a.Status, a.Notes,
		string(a.Provider), a.ProviderEventID, a.ConfigID, a.ReminderSent)
	return err
}

// SetTimes rewrites an appointment's window, used by the webhook reconciler
// when the remote event moved.
func (r *Appointments) SetTimes(ctx context.Context, id string, start, end time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE appointments SET start_at = $2, end_at = $3, reminder_sent = false WHERE id = $1`,
		id, start, end)
	return err
}

func (r *Appointments) SetStatus(ctx context.Context, id string, status model.AppointmentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE appointments SET status = $2 WHERE id = $1`, id, status)
	return err
}

// ListSyncedForConfig returns appointments mirrored through a config that still
// have a remote event to reconcile against.
func (r *Appointments) ListSyncedForConfig(ctx context.Context, configID string, kind model.ProviderKind) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider = $1
		  AND provider_event_id IS NOT NULL
		  AND (config_id = $2::uuid
			   OR (config_id IS NULL AND service_id IN (SELECT id FROM services WHERE config_id = $2::uuid)))
	`, kind, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Overlapping counts confirmed or checked-in appointments for a service that
// intersect the half-open interval [start, end).
func (r *Appointments) Overlapping(ctx context.Context, serviceID string, start, end time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE service_id = $1
		  AND status IN ('confirmed', 'checked_in')
		  AND start_at < $3 AND end_at > $2
	`, serviceID, start, end).Scan(&n)
	return n, err
}

// BusyIntervals returns the occupied windows for a service inside [start, end),
// fed to the availability engine alongside the provider's free/busy data.
func (r *Appointments) BusyIntervals(ctx context.Context, serviceID string, start, end time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_at, end_at
		FROM appointments
		WHERE service_id = $1
		  AND status IN ('draft', 'confirmed', 'checked_in')
		  AND start_at < $3 AND end_at > $2
	`, serviceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// DueReminders lists confirmed appointments starting within the window that
// have not been reminded yet.
func (r *Appointments) DueReminders(ctx context.Context, from, until time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND NOT reminder_sent
		  AND start_at >= $1 AND start_at < $2
		ORDER BY start_at
	`, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Appointments) MarkReminderSent(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE appointments SET reminder_sent = true WHERE id = $1`, id)
	return err
}

func (r *Appointments) ListForPortalUser(ctx context.Context, portalUserID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE portal_user_id = $1
		ORDER BY start_at DESC
	`, portalUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Appointments) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return err
}
