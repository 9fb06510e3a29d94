package storage

import (
	"context"
	"time"

	"apptsync/internal/model"
	"apptsync/libs/db"

	"github.com/jackc/pgx/v5"
)

type Tokens struct {
	pool *db.Pool
}

func NewTokens(pool *db.Pool) *Tokens {
	return &Tokens{pool: pool}
}

const tokenColumns = `
	id, config_id, access_token, COALESCE(refresh_token, ''),
	COALESCE(token_type, 'Bearer'), COALESCE(scope, ''), expires_at, created_at
`

func scanToken(row pgx.Row) (model.Token, error) {
	var t model.Token
	err := row.Scan(
		&t.ID, &t.ConfigID, &t.AccessToken, &t.RefreshToken,
		&t.TokenType, &t.Scope, &t.ExpiresAt, &t.CreatedAt,
	)
	return t, err
}

// Replace stores a freshly issued token for a config, deleting any prior rows
// so the config always holds at most one live credential.
func (r *Tokens) Replace(ctx context.Context, t model.Token) (model.Token, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM calendar_tokens WHERE config_id = $1`, t.ConfigID); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO calendar_tokens
				(config_id, access_token, refresh_token, token_type, scope, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`, t.ConfigID, t.AccessToken, t.RefreshToken, t.TokenType, t.Scope, t.ExpiresAt)
		return row.Scan(&t.ID, &t.CreatedAt)
	})
	return t, err
}

func (r *Tokens) Current(ctx context.Context, configID string) (model.Token, error) {
	return scanToken(r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM calendar_tokens
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, configID))
}

// CurrentForUpdate locks the config's token row inside tx so concurrent
// refreshes serialize instead of racing the provider's token endpoint.
func (r *Tokens) CurrentForUpdate(ctx context.Context, tx pgx.Tx, configID string) (model.Token, error) {
	return scanToken(tx.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM calendar_tokens
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, configID))
}

// UpdateAccess rewrites the access token in place after a refresh. The refresh
// token is only overwritten when the provider issued a new one.
func (r *Tokens) UpdateAccess(ctx context.Context, tx pgx.Tx, id, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE calendar_tokens
		SET access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			expires_at = $4
		WHERE id = $1
	`, id, accessToken, refreshToken, expiresAt)
	return err
}

func (r *Tokens) DeleteForConfig(ctx context.Context, configID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM calendar_tokens WHERE config_id = $1`, configID)
	return err
}

// ExpiringSoon lists tokens whose access credential lapses before the cutoff
// and that carry a refresh token to renew with.
func (r *Tokens) ExpiringSoon(ctx context.Context, cutoff time.Time) ([]model.Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM calendar_tokens
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND COALESCE(refresh_token, '') <> ''
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
