package consumer

import (
	"context"
	"errors"

	"apptsync/libs/db"

	"github.com/jackc/pgx/v5/pgconn"
)

// Inbox records processed event ids so redelivered messages are dropped.
type Inbox struct {
	pool *db.Pool
}

func NewInbox(pool *db.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// Record inserts the event id and reports whether it was seen for the first
// time. A duplicate insert returns (false, nil).
func (i *Inbox) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}
