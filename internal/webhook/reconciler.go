// Package webhook processes push notifications from calendar providers and
// reconciles local appointments against remote event state. Notifications
// carry no payload, only a hint that something changed, so reconciliation
// re-reads every synced event and is idempotent by construction.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"apptsync/internal/model"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
)

// ErrBadToken means the notification's channel token did not match the
// config's stored secret. The HTTP layer answers 401 for it; every other
// handled condition is acknowledged.
var ErrBadToken = errors.New("webhook channel token mismatch")

type ConfigStore interface {
	Get(ctx context.Context, id string) (model.ProviderConfig, error)
	ByChannelID(ctx context.Context, channelID string) (model.ProviderConfig, error)
	RecordSync(ctx context.Context, id string, status model.SyncStatus, message string, at time.Time) error
}

type AppointmentStore interface {
	ListSyncedForConfig(ctx context.Context, configID string, kind model.ProviderKind) ([]model.Appointment, error)
	SetStatus(ctx context.Context, id string, status model.AppointmentStatus) error
	SetTimes(ctx context.Context, id string, start, end time.Time) error
}

type TokenSource interface {
	ValidToken(ctx context.Context, cfg model.ProviderConfig) (model.Token, error)
}

type Reconciler struct {
	configs  ConfigStore
	appts    AppointmentStore
	tokens   TokenSource
	registry *provider.Registry
	logger   *slog.Logger
}

func NewReconciler(configs ConfigStore, appts AppointmentStore, tokens TokenSource, registry *provider.Registry, logger *slog.Logger) *Reconciler {
	return &Reconciler{configs: configs, appts: appts, tokens: tokens, registry: registry, logger: logger}
}

// Handle processes one notification addressed to /webhook/calendar/{kind}/{id}.
// Unresolvable notifications are acknowledged with a log line; a provider
// retrying them would never succeed.
func (r *Reconciler) Handle(ctx context.Context, kindRaw, configID string, n provider.Notification) error {
	kind, err := model.ParseProviderKind(kindRaw)
	if err != nil {
		r.logger.Warn("webhook for unknown provider kind", "kind", kindRaw)
		return nil
	}

	cfg, err := r.resolveConfig(ctx, configID, n.ChannelID)
	if err != nil {
		if storage.IsNotFound(err) {
			r.logger.Warn("webhook config not found", "config_id", configID, "channel_id", n.ChannelID)
			return nil
		}
		return err
	}
	if cfg.Provider != kind {
		r.logger.Warn("webhook kind does not match config", "kind", kind, "config_provider", cfg.Provider)
		return nil
	}

	adapter, err := r.registry.Get(cfg.Provider)
	if err != nil {
		r.logger.Warn("webhook for provider without adapter", "provider", cfg.Provider)
		return nil
	}
	hooks, ok := adapter.(provider.WebhookCapable)
	if !ok {
		r.logger.Warn("provider does not support webhooks", "provider", cfg.Provider)
		return nil
	}
	if !hooks.ValidateWebhookToken(cfg, n) {
		return ErrBadToken
	}

	// The provider sends a handshake notification when a channel is created.
	// There is nothing to reconcile yet.
	if n.State == "sync" {
		r.logger.Debug("webhook channel handshake", "config_id", cfg.ID, "channel_id", n.ChannelID)
		return nil
	}

	if err := r.reconcile(ctx, adapter, cfg); err != nil {
		if rerr := r.configs.RecordSync(ctx, cfg.ID, model.SyncError, err.Error(), time.Now().UTC()); rerr != nil {
			r.logger.Error("recording sync failure failed", "config_id", cfg.ID, "err", rerr)
		}
		return err
	}
	return r.configs.RecordSync(ctx, cfg.ID, model.SyncSuccess, "", time.Now().UTC())
}

func (r *Reconciler) resolveConfig(ctx context.Context, configID, channelID string) (model.ProviderConfig, error) {
	if configID != "" {
		cfg, err := r.configs.Get(ctx, configID)
		if err == nil || !storage.IsNotFound(err) {
			return cfg, err
		}
	}
	if channelID == "" {
		return model.ProviderConfig{}, storage.ErrNotFound
	}
	return r.configs.ByChannelID(ctx, channelID)
}

// reconcile re-reads every synced appointment's remote event and folds remote
// changes back into local state. Running it twice in a row is a no-op.
func (r *Reconciler) reconcile(ctx context.Context, adapter provider.Adapter, cfg model.ProviderConfig) error {
	tok, err := r.tokens.ValidToken(ctx, cfg)
	if err != nil {
		return err
	}
	appts, err := r.appts.ListSyncedForConfig(ctx, cfg.ID, cfg.Provider)
	if err != nil {
		return err
	}

	for _, appt := range appts {
		ev, err := adapter.GetEvent(ctx, cfg, tok.AccessToken, appt.ProviderEventID)
		if err != nil {
			r.logger.Warn("remote event lookup failed during reconcile",
				"appointment_id", appt.ID, "event_id", appt.ProviderEventID, "err", err)
			continue
		}

		switch {
		case ev.Cancelled:
			if appt.Status.IsTerminal() {
				continue
			}
			if err := r.appts.SetStatus(ctx, appt.ID, model.StatusCancelled); err != nil {
				return err
			}
			r.logger.Info("appointment cancelled from remote calendar",
				"appointment_id", appt.ID, "reference", appt.Reference)

		case !ev.Start.IsZero() && (!ev.Start.Equal(appt.Start) || !ev.End.Equal(appt.End)):
			if err := r.appts.SetTimes(ctx, appt.ID, ev.Start, ev.End); err != nil {
				return err
			}
			r.logger.Info("appointment moved from remote calendar",
				"appointment_id", appt.ID, "reference", appt.Reference,
				"start", ev.Start, "end", ev.End)
		}
	}
	return nil
}
