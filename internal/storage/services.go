package storage

import (
	"context"

	"apptsync/internal/model"
	"apptsync/libs/db"

	"github.com/jackc/pgx/v5"
)

type Services struct {
	pool *db.Pool
}

func NewServices(pool *db.Pool) *Services {
	return &Services{pool: pool}
}

const serviceColumns = `
	id, name, COALESCE(description, ''), active,
	duration_minutes, buffer_minutes, capacity, price, COALESCE(currency, 'USD'),
	min_lead_hours, max_lead_days, allow_cancellation, cancellation_hours, allow_reschedule,
	COALESCE(calendar_id, ''), COALESCE(config_id::text, ''), created_at
`

func scanService(row pgx.Row) (model.ServiceDefinition, error) {
	var s model.ServiceDefinition
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.Active,
		&s.DurationMinutes, &s.BufferMinutes, &s.Capacity, &s.Price, &s.Currency,
		&s.MinLeadHours, &s.MaxLeadDays, &s.AllowCancellation, &s.CancellationHours, &s.AllowReschedule,
		&s.CalendarID, &s.ConfigID, &s.CreatedAt,
	)
	return s, err
}

func (r *Services) Create(ctx context.Context, s model.ServiceDefinition) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services
			(name, description, active, duration_minutes, buffer_minutes, capacity, price, currency,
			 min_lead_hours, max_lead_days, allow_cancellation, cancellation_hours, allow_reschedule,
			 calendar_id, config_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, '')::uuid)
		RETURNING id
	`, s.Name, s.Description, s.Active, s.DurationMinutes, s.BufferMinutes, s.Capacity, s.Price, s.Currency,
		s.MinLeadHours, s.MaxLeadDays, s.AllowCancellation, s.CancellationHours, s.AllowReschedule,
		s.CalendarID, s.ConfigID).Scan(&id)
	return id, err
}

func (r *Services) Update(ctx context.Context, s model.ServiceDefinition) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $2, description = $3, active = $4,
			duration_minutes = $5, buffer_minutes = $6, capacity = $7, price = $8, currency = $9,
			min_lead_hours = $10, max_lead_days = $11, allow_cancellation = $12,
			cancellation_hours = $13, allow_reschedule = $14,
			calendar_id = $15, config_id = NULLIF($16, '')::uuid
		WHERE id = $1
	`, s.ID, s.Name, s.Description, s.Active, s.DurationMinutes, s.BufferMinutes, s.Capacity, s.Price,
		s.Currency, s.MinLeadHours, s.MaxLeadDays, s.AllowCancellation, s.CancellationHours,
		s.AllowReschedule, s.CalendarID, s.ConfigID)
	return err
}

func (r *Services) Get(ctx context.Context, id string) (model.ServiceDefinition, error) {
	return scanService(r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
}

func (r *Services) ListActive(ctx context.Context) ([]model.ServiceDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ServiceDefinition
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
