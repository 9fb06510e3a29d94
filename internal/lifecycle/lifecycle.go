// Package lifecycle drives appointment state transitions and mirrors them to
// the remote calendar. Every transition locks the appointment row for the
// duration of its transaction, so a concurrent transition sees the committed
// status, not the one it raced against.
//
// Remote calendar sync is best effort on every path: a provider outage must
// never block a front-desk status change. Failures are logged and recorded on
// the config's sync status for operator follow-up.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
	"apptsync/internal/notify"
	"apptsync/internal/policy"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/internal/token"
	"apptsync/libs/db"

	"github.com/jackc/pgx/v5"
)

type Manager struct {
	pool     *db.Pool
	appts    *storage.Appointments
	services *storage.Services
	configs  *storage.Configs
	tokens   *token.Store
	registry *provider.Registry
	notifier *notify.Notifier
	logger   *slog.Logger
}

func NewManager(pool *db.Pool, appts *storage.Appointments, services *storage.Services, configs *storage.Configs, tokens *token.Store, registry *provider.Registry, notifier *notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		pool:     pool,
		appts:    appts,
		services: services,
		configs:  configs,
		tokens:   tokens,
		registry: registry,
		notifier: notifier,
		logger:   logger,
	}
}

// BookingRequest is one booking attempt from the portal or API.
type BookingRequest struct {
	ServiceID     string
	Start         time.Time
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	PortalUserID  string
	Notes         string
	CreatedVia    model.CreatedVia
}

// Book creates and confirms an appointment in one step. The slot is validated
// against the service's lead-time policy and remaining capacity before the
// draft is written.
func (m *Manager) Book(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	if req.CustomerName == "" {
		return model.Appointment{}, apperr.New(apperr.CodeValidation, "customer name is required")
	}
	svc, err := m.services.Get(ctx, req.ServiceID)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.New(apperr.CodeNotFound, "service %s not found", req.ServiceID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !svc.Active {
		return model.Appointment{}, apperr.New(apperr.CodeValidation, "service %s is not bookable", svc.Name)
	}

	end := req.Start.Add(svc.Duration())
	if err := policy.Validate(svc, req.Start, end, time.Now()); err != nil {
		return model.Appointment{}, err
	}

	taken, err := m.appts.Overlapping(ctx, svc.ID, req.Start, end)
	if err != nil {
		return model.Appointment{}, err
	}
	if taken >= svc.Capacity {
		return model.Appointment{}, apperr.New(apperr.CodeValidation, "slot at %s is fully booked", req.Start.Format(time.RFC3339))
	}

	appt, err := m.appts.Create(ctx, model.Appointment{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		PortalUserID:  req.PortalUserID,
		ServiceID:     svc.ID,
		Start:         req.Start,
		End:           end,
		Status:        model.StatusDraft,
		Notes:         req.Notes,
		CreatedVia:    req.CreatedVia,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return m.Confirm(ctx, appt.ID)
}

// Confirm moves a draft to confirmed, emits the confirmation notification, and
// mirrors the appointment to the remote calendar.
func (m *Manager) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusConfirmed, func(ctx context.Context, tx pgx.Tx, appt *model.Appointment, svc model.ServiceDefinition) error {
		if err := m.notifier.Emit(ctx, tx, notify.EventConfirmed, *appt, svc.Name); err != nil {
			return err
		}
		m.syncCreate(ctx, appt, svc)
		return nil
	})
}

// Cancel moves an appointment to cancelled after checking the service's
// cancellation window, removes the remote event, and notifies the customer.
func (m *Manager) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusCancelled, func(ctx context.Context, tx pgx.Tx, appt *model.Appointment, svc model.ServiceDefinition) error {
		if !policy.CanCancel(*appt, &svc, time.Now()) {
			return apperr.New(apperr.CodeCannotCancel, "appointment %s can no longer be cancelled", appt.Reference)
		}
		if err := m.notifier.Emit(ctx, tx, notify.EventCancelled, *appt, svc.Name); err != nil {
			return err
		}
		m.syncCancel(ctx, appt, svc)
		return nil
	})
}

// Reschedule moves a confirmed appointment to a new start time, re-validating
// the lead-time policy for the new slot and patching the remote event.
func (m *Manager) Reschedule(ctx context.Context, id string, newStart time.Time) (model.Appointment, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := m.appts.GetForUpdate(ctx, tx, id)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.New(apperr.CodeNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	svc, err := m.services.Get(ctx, appt.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !policy.CanReschedule(appt, &svc, time.Now()) {
		return model.Appointment{}, apperr.New(apperr.CodeCannotReschedule, "appointment %s can no longer be rescheduled", appt.Reference)
	}

	newEnd := newStart.Add(svc.Duration())
	if err := policy.Validate(svc, newStart, newEnd, time.Now()); err != nil {
		return model.Appointment{}, err
	}

	appt.Start = newStart
	appt.End = newEnd
	appt.ReminderSent = false
	m.syncUpdate(ctx, &appt, svc)
	if err := m.appts.Update(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := m.notifier.Emit(ctx, tx, notify.EventRescheduled, appt, svc.Name); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (m *Manager) CheckIn(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusCheckedIn, nil)
}

func (m *Manager) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusCompleted, nil)
}

func (m *Manager) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusNoShow, nil)
}

// ResetToDraft undoes a confirmation. The remote mirror is removed since only
// confirmed appointments live on the calendar.
func (m *Manager) ResetToDraft(ctx context.Context, id string) (model.Appointment, error) {
	return m.transition(ctx, id, model.StatusDraft, func(ctx context.Context, tx pgx.Tx, appt *model.Appointment, svc model.ServiceDefinition) error {
		m.syncCancel(ctx, appt, svc)
		return nil
	})
}

// Delete removes an appointment entirely, cancelling its remote event first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := m.appts.GetForUpdate(ctx, tx, id)
	if storage.IsNotFound(err) {
		return apperr.New(apperr.CodeNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return err
	}
	svc, err := m.services.Get(ctx, appt.ServiceID)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	m.syncCancel(ctx, &appt, svc)
	if err := m.appts.Delete(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// transition applies one status change under the appointment's row lock.
// extra runs inside the transaction after the legality check, with the locked
// appointment; it may mutate the appointment (e.g. set the remote event id)
// before the final write.
func (m *Manager) transition(ctx context.Context, id string, to model.AppointmentStatus, extra func(context.Context, pgx.Tx, *model.Appointment, model.ServiceDefinition) error) (model.Appointment, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := m.appts.GetForUpdate(ctx, tx, id)
	if storage.IsNotFound(err) {
		return model.Appointment{}, apperr.New(apperr.CodeNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if err := checkTransition(appt.Status, to); err != nil {
		return model.Appointment{}, err
	}

	svc, err := m.services.Get(ctx, appt.ServiceID)
	if err != nil && !storage.IsNotFound(err) {
		return model.Appointment{}, err
	}

	from := appt.Status
	appt.Status = to
	if extra != nil {
		if err := extra(ctx, tx, &appt, svc); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := m.appts.Update(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	m.logger.Info("appointment transition",
		"appointment_id", appt.ID, "reference", appt.Reference, "from", from, "to", to)
	return appt, nil
}

// configFor resolves the provider config an appointment syncs through:
// an explicit override on the appointment wins, then the service's default,
// then the globally active connection.
func (m *Manager) configFor(ctx context.Context, appt model.Appointment, svc model.ServiceDefinition) (model.ProviderConfig, bool) {
	for _, id := range []string{appt.ConfigID, svc.ConfigID} {
		if id == "" {
			continue
		}
		cfg, err := m.configs.Get(ctx, id)
		if err == nil {
			return cfg, true
		}
		if !storage.IsNotFound(err) {
			m.logger.Warn("provider config lookup failed", "config_id", id, "err", err)
		}
	}
	kind := appt.Provider
	if kind == "" {
		kind = model.ProviderGoogle
	}
	cfg, err := m.configs.ActiveForProvider(ctx, kind)
	if err != nil {
		if !storage.IsNotFound(err) {
			m.logger.Warn("active provider config lookup failed", "provider", kind, "err", err)
		}
		return model.ProviderConfig{}, false
	}
	return cfg, true
}

func (m *Manager) syncCreate(ctx context.Context, appt *model.Appointment, svc model.ServiceDefinition) {
	cfg, ok := m.configFor(ctx, *appt, svc)
	if !ok || !cfg.HasCredentials() {
		m.logger.Debug("remote sync skipped, no usable provider config", "appointment_id", appt.ID)
		return
	}
	adapter, tok, ok := m.syncPrereqs(ctx, cfg, appt.ID)
	if !ok {
		return
	}
	eventID, err := adapter.CreateEvent(ctx, cfg, tok.AccessToken, appt.PrepareEventData(svc.Name))
	if err != nil {
		m.recordSyncFailure(ctx, cfg, appt.ID, "event create failed", err)
		return
	}
	appt.Provider = cfg.Provider
	appt.ProviderEventID = eventID
	m.recordSyncSuccess(ctx, cfg)
}

func (m *Manager) syncUpdate(ctx context.Context, appt *model.Appointment, svc model.ServiceDefinition) {
	if appt.ProviderEventID == "" {
		m.syncCreate(ctx, appt, svc)
		return
	}
	cfg, ok := m.configFor(ctx, *appt, svc)
	if !ok || !cfg.HasCredentials() {
		return
	}
	adapter, tok, ok := m.syncPrereqs(ctx, cfg, appt.ID)
	if !ok {
		return
	}
	if err := adapter.UpdateEvent(ctx, cfg, tok.AccessToken, appt.ProviderEventID, appt.PrepareEventData(svc.Name)); err != nil {
		m.recordSyncFailure(ctx, cfg, appt.ID, "event update failed", err)
		return
	}
	m.recordSyncSuccess(ctx, cfg)
}

func (m *Manager) syncCancel(ctx context.Context, appt *model.Appointment, svc model.ServiceDefinition) {
	if appt.ProviderEventID == "" {
		return
	}
	cfg, ok := m.configFor(ctx, *appt, svc)
	if !ok || !cfg.HasCredentials() {
		return
	}
	adapter, tok, ok := m.syncPrereqs(ctx, cfg, appt.ID)
	if !ok {
		return
	}
	if err := adapter.CancelEvent(ctx, cfg, tok.AccessToken, appt.ProviderEventID); err != nil {
		m.recordSyncFailure(ctx, cfg, appt.ID, "event cancel failed", err)
		return
	}
	appt.ProviderEventID = ""
	m.recordSyncSuccess(ctx, cfg)
}

func (m *Manager) syncPrereqs(ctx context.Context, cfg model.ProviderConfig, apptID string) (provider.Adapter, model.Token, bool) {
	adapter, err := m.registry.Get(cfg.Provider)
	if err != nil {
		m.logger.Warn("remote sync skipped", "appointment_id", apptID, "err", err)
		return nil, model.Token{}, false
	}
	tok, err := m.tokens.ValidToken(ctx, cfg)
	if err != nil {
		m.recordSyncFailure(ctx, cfg, apptID, "no valid access token", err)
		return nil, model.Token{}, false
	}
	return adapter, tok, true
}

func (m *Manager) recordSyncFailure(ctx context.Context, cfg model.ProviderConfig, apptID, msg string, err error) {
	m.logger.Warn("remote calendar sync failed",
		"appointment_id", apptID, "config_id", cfg.ID, "detail", msg, "err", err)
	if rerr := m.configs.RecordSync(ctx, cfg.ID, model.SyncError, msg+": "+err.Error(), time.Now().UTC()); rerr != nil {
		m.logger.Error("recording sync failure failed", "config_id", cfg.ID, "err", rerr)
	}
}

func (m *Manager) recordSyncSuccess(ctx context.Context, cfg model.ProviderConfig) {
	if err := m.configs.RecordSync(ctx, cfg.ID, model.SyncSuccess, "", time.Now().UTC()); err != nil {
		m.logger.Error("recording sync success failed", "config_id", cfg.ID, "err", err)
	}
}
