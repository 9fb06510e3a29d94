package storage

import (
	"context"
	"time"

	"apptsync/internal/model"
	"apptsync/libs/db"

	"github.com/jackc/pgx/v5"
)

type Configs struct {
	pool *db.Pool
}

func NewConfigs(pool *db.Pool) *Configs {
	return &Configs{pool: pool}
}

const configColumns = `
	id, name, provider, COALESCE(client_id, ''), COALESCE(client_secret, ''), COALESCE(api_key, ''),
	active, is_active,
	COALESCE(webhook_secret, ''), COALESCE(webhook_channel_id, ''), COALESCE(webhook_resource_id, ''),
	webhook_expiration,
	COALESCE(default_calendar_id, ''),
	last_sync_at, COALESCE(sync_status, 'pending'), COALESCE(sync_message, ''),
	created_at
`

func scanConfig(row pgx.Row) (model.ProviderConfig, error) {
	var c model.ProviderConfig
	err := row.Scan(
		&c.ID, &c.Name, &c.Provider, &c.ClientID, &c.ClientSecret, &c.APIKey,
		&c.Active, &c.IsActive,
		&c.WebhookSecret, &c.WebhookChannelID, &c.WebhookResourceID,
		&c.WebhookExpiration,
		&c.DefaultCalendarID,
		&c.LastSyncAt, &c.SyncStatus, &c.SyncMessage,
		&c.CreatedAt,
	)
	return c, err
}

func (r *Configs) Create(ctx context.Context, c model.ProviderConfig) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO calendar_configs
			(name, provider, client_id, client_secret, api_key, active, is_active,
			 webhook_secret, default_calendar_id, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8, 'pending')
		RETURNING id
	`, c.Name, c.Provider, c.ClientID, c.ClientSecret, c.APIKey, c.Active,
		c.WebhookSecret, c.DefaultCalendarID).Scan(&id)
	return id, err
}

func (r *Configs) Get(ctx context.Context, id string) (model.ProviderConfig, error) {
	return scanConfig(r.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM calendar_configs WHERE id = $1`, id))
}

// ActiveForProvider returns the single is_active config for a provider kind.
func (r *Configs) ActiveForProvider(ctx context.Context, kind model.ProviderKind) (model.ProviderConfig, error) {
	return scanConfig(r.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM calendar_configs WHERE provider = $1 AND is_active`, kind))
}

// ByChannelID locates the config a webhook notification belongs to when the
// path id does not resolve; providers echo the channel id in their headers.
func (r *Configs) ByChannelID(ctx context.Context, channelID string) (model.ProviderConfig, error) {
	return scanConfig(r.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM calendar_configs WHERE webhook_channel_id = $1`, channelID))
}

func (r *Configs) List(ctx context.Context) ([]model.ProviderConfig, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+configColumns+` FROM calendar_configs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Activate makes one config the live connection for its provider kind.
// All configs of the kind are locked and deactivated in the same transaction,
// so two concurrent activations cannot leave two live configs behind.
func (r *Configs) Activate(ctx context.Context, id string) (model.ProviderConfig, error) {
	var cfg model.ProviderConfig
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		cfg, err = scanConfig(tx.QueryRow(ctx,
			`SELECT `+configColumns+` FROM calendar_configs WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`SELECT id FROM calendar_configs WHERE provider = $1 AND id <> $2 FOR UPDATE`,
			cfg.Provider, id)
		if err != nil {
			return err
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE calendar_configs SET is_active = false WHERE provider = $1 AND id <> $2`,
			cfg.Provider, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE calendar_configs SET is_active = true, active = true WHERE id = $1`, id)
		cfg.IsActive = true
		cfg.Active = true
		return err
	})
	return cfg, err
}

func (r *Configs) Deactivate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE calendar_configs SET is_active = false WHERE id = $1`, id)
	return err
}

// SetWebhook records the provider-side push channel registered for the config.
func (r *Configs) SetWebhook(ctx context.Context, id, channelID, resourceID string, expiration *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_configs
		SET webhook_channel_id = $2, webhook_resource_id = $3, webhook_expiration = $4
		WHERE id = $1
	`, id, channelID, resourceID, expiration)
	return err
}

func (r *Configs) ClearWebhook(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_configs
		SET webhook_channel_id = NULL, webhook_resource_id = NULL, webhook_expiration = NULL
		WHERE id = $1
	`, id)
	return err
}

// ExpiringWebhooks lists active configs whose push channel lapses before the
// cutoff (or was never registered at all).
func (r *Configs) ExpiringWebhooks(ctx context.Context, cutoff time.Time) ([]model.ProviderConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+configColumns+`
		FROM calendar_configs
		WHERE is_active AND (webhook_expiration IS NULL OR webhook_expiration < $1)
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordSync updates the last sync outcome for operator visibility.
func (r *Configs) RecordSync(ctx context.Context, id string, status model.SyncStatus, message string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE calendar_configs
		SET last_sync_at = $2, sync_status = $3, sync_message = $4
		WHERE id = $1
	`, id, at, status, message)
	return err
}
