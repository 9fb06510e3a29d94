// Package jobs runs the periodic maintenance work: proactive token refresh,
// webhook channel renewal, and reminder dispatch. A Postgres advisory lock
// elects one leader across instances; the rest wait and take over if the
// leader's connection drops.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"apptsync/internal/model"
	"apptsync/internal/notify"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/internal/token"
	"apptsync/libs/db"
)

const (
	tokenRefreshLead   = 30 * time.Minute
	webhookRenewalLead = 24 * time.Hour
	reminderLead       = 24 * time.Hour
)

type Runner struct {
	pool        *db.Pool
	configs     *storage.Configs
	services    *storage.Services
	appts       *storage.Appointments
	tokens      *token.Store
	registry    *provider.Registry
	notifier    *notify.Notifier
	logger      *slog.Logger
	baseURL     string
	interval    time.Duration
	advisoryKey int64
}

type RunnerConfig struct {
	BaseURL     string
	Interval    time.Duration
	AdvisoryKey int64
}

func NewRunner(pool *db.Pool, configs *storage.Configs, services *storage.Services, appts *storage.Appointments, tokens *token.Store, registry *provider.Registry, notifier *notify.Notifier, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.AdvisoryKey == 0 {
		cfg.AdvisoryKey = 7340021
	}
	return &Runner{
		pool:        pool,
		configs:     configs,
		services:    services,
		appts:       appts,
		tokens:      tokens,
		registry:    registry,
		notifier:    notifier,
		logger:      logger,
		baseURL:     cfg.BaseURL,
		interval:    cfg.Interval,
		advisoryKey: cfg.AdvisoryKey,
	}
}

func (r *Runner) Run(ctx context.Context) {
	// Best-effort leader election for multi-instance deployments. Only the
	// instance holding the advisory lock runs maintenance.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("jobs: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("jobs: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("jobs: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	r.refreshTokens(ctx)
	r.renewWebhooks(ctx)
	r.dispatchReminders(ctx)
}

func (r *Runner) refreshTokens(ctx context.Context) {
	r.tokens.RefreshExpiring(ctx, r.configs, time.Now().Add(tokenRefreshLead))
}

// renewWebhooks re-registers push channels that lapse within the lead window.
// Failures are per-config: one dead connection does not stop the rest.
func (r *Runner) renewWebhooks(ctx context.Context) {
	configs, err := r.configs.ExpiringWebhooks(ctx, time.Now().Add(webhookRenewalLead))
	if err != nil {
		r.logger.Error("jobs: listing expiring webhooks failed", "err", err)
		return
	}
	for _, cfg := range configs {
		if err := r.renewWebhook(ctx, cfg); err != nil {
			r.logger.Warn("jobs: webhook renewal failed", "config_id", cfg.ID, "err", err)
		}
	}
}

func (r *Runner) renewWebhook(ctx context.Context, cfg model.ProviderConfig) error {
	adapter, err := r.registry.Get(cfg.Provider)
	if err != nil {
		return err
	}
	hooks, ok := adapter.(provider.WebhookCapable)
	if !ok {
		r.logger.Debug("jobs: provider has no webhook support, skipping renewal", "provider", cfg.Provider)
		return nil
	}
	tok, err := r.tokens.ValidToken(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.WebhookChannelID != "" {
		if err := hooks.StopWebhook(ctx, cfg, tok.AccessToken); err != nil {
			r.logger.Warn("jobs: stopping stale webhook channel failed", "config_id", cfg.ID, "err", err)
		}
	}
	ch, err := hooks.SetupWebhook(ctx, cfg, tok.AccessToken, cfg.WebhookURL(r.baseURL))
	if err != nil {
		return err
	}
	if err := r.configs.SetWebhook(ctx, cfg.ID, ch.ChannelID, ch.ResourceID, ch.Expiration); err != nil {
		return err
	}
	r.logger.Info("jobs: webhook channel renewed",
		"config_id", cfg.ID, "channel_id", ch.ChannelID, "expiration", ch.Expiration)
	return nil
}

// dispatchReminders emits reminder events for confirmed appointments starting
// within the lead window, at most once per appointment.
func (r *Runner) dispatchReminders(ctx context.Context) {
	now := time.Now()
	due, err := r.appts.DueReminders(ctx, now, now.Add(reminderLead))
	if err != nil {
		r.logger.Error("jobs: listing due reminders failed", "err", err)
		return
	}
	for _, appt := range due {
		serviceName := ""
		if svc, err := r.services.Get(ctx, appt.ServiceID); err == nil {
			serviceName = svc.Name
		}
		if err := r.notifier.EmitStandalone(ctx, notify.EventReminderDue, appt, serviceName); err != nil {
			r.logger.Warn("jobs: reminder emit failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		if err := r.appts.MarkReminderSent(ctx, appt.ID); err != nil {
			r.logger.Warn("jobs: marking reminder sent failed", "appointment_id", appt.ID, "err", err)
		}
	}
	if len(due) > 0 {
		r.logger.Info("jobs: reminders dispatched", "count", len(due))
	}
}
