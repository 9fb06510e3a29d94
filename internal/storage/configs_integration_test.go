package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"apptsync/internal/model"
	"apptsync/libs/db"
)

// openTestPool connects to DATABASE_URL or skips. The schema from
// migrations/001_init.up.sql must already be applied.
func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, url, 4)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestActivateSingletonUnderConcurrency(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	configs := NewConfigs(pool)

	var ids []string
	for _, name := range []string{"primary calendar", "secondary calendar"} {
		id, err := configs.Create(ctx, model.ProviderConfig{
			Name:     name,
			Provider: model.ProviderGoogle,
			Active:   true,
		})
		if err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
		ids = append(ids, id)
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), `DELETE FROM calendar_configs WHERE id = $1`, id)
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = configs.Activate(ctx, id)
		}(i, id)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Activate(%s): %v", ids[i], err)
		}
	}

	var active int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM calendar_configs
		WHERE provider = $1 AND is_active AND id::text = ANY($2)
	`, model.ProviderGoogle, ids).Scan(&active)
	if err != nil {
		t.Fatalf("counting active configs: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active config after racing activations, got %d", active)
	}

	// The winner must also round-trip as the provider's active config.
	cfg, err := configs.ActiveForProvider(ctx, model.ProviderGoogle)
	if err != nil {
		t.Fatalf("ActiveForProvider: %v", err)
	}
	if cfg.ID != ids[0] && cfg.ID != ids[1] {
		t.Fatalf("active config %s is not one of the contenders", cfg.ID)
	}
}
