package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"apptsync/internal/availability"
	"apptsync/internal/model"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
)

type fakeConfigs struct {
	byID      map[string]model.ProviderConfig
	byChannel map[string]model.ProviderConfig
	synced    []model.SyncStatus
}

func (f *fakeConfigs) Get(_ context.Context, id string) (model.ProviderConfig, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return model.ProviderConfig{}, storage.ErrNotFound
}

func (f *fakeConfigs) ByChannelID(_ context.Context, ch string) (model.ProviderConfig, error) {
	if c, ok := f.byChannel[ch]; ok {
		return c, nil
	}
	return model.ProviderConfig{}, storage.ErrNotFound
}

func (f *fakeConfigs) RecordSync(_ context.Context, _ string, status model.SyncStatus, _ string, _ time.Time) error {
	f.synced = append(f.synced, status)
	return nil
}

type fakeAppts struct {
	appts    []model.Appointment
	statuses map[string]model.AppointmentStatus
	times    map[string][2]time.Time
}

func (f *fakeAppts) ListSyncedForConfig(_ context.Context, _ string, _ model.ProviderKind) ([]model.Appointment, error) {
	return f.appts, nil
}

func (f *fakeAppts) SetStatus(_ context.Context, id string, s model.AppointmentStatus) error {
	if f.statuses == nil {
		f.statuses = map[string]model.AppointmentStatus{}
	}
	f.statuses[id] = s
	return nil
}

func (f *fakeAppts) SetTimes(_ context.Context, id string, start, end time.Time) error {
	if f.times == nil {
		f.times = map[string][2]time.Time{}
	}
	f.times[id] = [2]time.Time{start, end}
	return nil
}

type fakeTokens struct{}

func (fakeTokens) ValidToken(_ context.Context, _ model.ProviderConfig) (model.Token, error) {
	return model.Token{AccessToken: "tok"}, nil
}

// fakeAdapter is a webhook-capable adapter serving canned events.
type fakeAdapter struct {
	events map[string]provider.Event
}

func (fakeAdapter) Kind() model.ProviderKind { return model.ProviderGoogle }

func (fakeAdapter) AuthorizationURL(model.ProviderConfig, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (fakeAdapter) ExchangeCode(context.Context, model.ProviderConfig, string, string) (provider.TokenData, error) {
	return provider.TokenData{}, errors.New("not implemented")
}

func (fakeAdapter) RefreshAccessToken(context.Context, model.ProviderConfig, string) (provider.TokenData, error) {
	return provider.TokenData{}, errors.New("not implemented")
}

func (fakeAdapter) RevokeToken(context.Context, model.ProviderConfig, string) error { return nil }

func (fakeAdapter) TestConnection(context.Context, model.ProviderConfig, string) (provider.ConnectionResult, error) {
	return provider.ConnectionResult{OK: true}, nil
}

func (fakeAdapter) FreeBusy(context.Context, model.ProviderConfig, string, time.Time, time.Time) ([]availability.Interval, error) {
	return nil, nil
}

func (fakeAdapter) CreateEvent(context.Context, model.ProviderConfig, string, model.EventData) (string, error) {
	return "", errors.New("not implemented")
}

func (fakeAdapter) UpdateEvent(context.Context, model.ProviderConfig, string, string, model.EventData) error {
	return nil
}

func (fakeAdapter) CancelEvent(context.Context, model.ProviderConfig, string, string) error {
	return nil
}

func (f fakeAdapter) GetEvent(_ context.Context, _ model.ProviderConfig, _ string, eventID string) (provider.Event, error) {
	ev, ok := f.events[eventID]
	if !ok {
		return provider.Event{ID: eventID, Status: "cancelled", Cancelled: true}, nil
	}
	return ev, nil
}

func (fakeAdapter) SetupWebhook(context.Context, model.ProviderConfig, string, string) (provider.WebhookChannel, error) {
	return provider.WebhookChannel{}, errors.New("not implemented")
}

func (fakeAdapter) StopWebhook(context.Context, model.ProviderConfig, string) error { return nil }

func (fakeAdapter) ValidateWebhookToken(cfg model.ProviderConfig, n provider.Notification) bool {
	return cfg.WebhookSecret != "" && cfg.WebhookSecret == n.Token
}

func testReconciler(t *testing.T, configs *fakeConfigs, appts *fakeAppts, adapter provider.Adapter) *Reconciler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconciler(configs, appts, fakeTokens{}, provider.NewRegistry(adapter), logger)
}

func testConfig() model.ProviderConfig {
	return model.ProviderConfig{
		ID:            "cfg-1",
		Provider:      model.ProviderGoogle,
		WebhookSecret: "s3cret",
	}
}

func TestHandleRejectsBadToken(t *testing.T) {
	configs := &fakeConfigs{byID: map[string]model.ProviderConfig{"cfg-1": testConfig()}}
	r := testReconciler(t, configs, &fakeAppts{}, fakeAdapter{})

	err := r.Handle(context.Background(), "google", "cfg-1", provider.Notification{Token: "wrong"})
	if !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken, got %v", err)
	}
}

func TestHandleAcksUnknownConfig(t *testing.T) {
	r := testReconciler(t, &fakeConfigs{}, &fakeAppts{}, fakeAdapter{})

	if err := r.Handle(context.Background(), "google", "missing", provider.Notification{}); err != nil {
		t.Fatalf("unknown config must be acknowledged, got %v", err)
	}
}

func TestHandleResolvesByChannelID(t *testing.T) {
	cfg := testConfig()
	configs := &fakeConfigs{byChannel: map[string]model.ProviderConfig{"chan-1": cfg}}
	r := testReconciler(t, configs, &fakeAppts{}, fakeAdapter{})

	err := r.Handle(context.Background(), "google", "", provider.Notification{
		ChannelID: "chan-1", Token: "s3cret", State: "sync",
	})
	if err != nil {
		t.Fatalf("channel-id fallback failed: %v", err)
	}
}

func TestHandleSyncHandshakeDoesNotReconcile(t *testing.T) {
	configs := &fakeConfigs{byID: map[string]model.ProviderConfig{"cfg-1": testConfig()}}
	appts := &fakeAppts{appts: []model.Appointment{{ID: "a1", ProviderEventID: "evt-1", Status: model.StatusConfirmed}}}
	r := testReconciler(t, configs, appts, fakeAdapter{})

	err := r.Handle(context.Background(), "google", "cfg-1", provider.Notification{Token: "s3cret", State: "sync"})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if len(appts.statuses) != 0 {
		t.Fatalf("handshake must not touch appointments, got %v", appts.statuses)
	}
	if len(configs.synced) != 0 {
		t.Fatalf("handshake must not record a sync, got %v", configs.synced)
	}
}

func TestReconcileCancelsRemovedEvents(t *testing.T) {
	start := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	configs := &fakeConfigs{byID: map[string]model.ProviderConfig{"cfg-1": testConfig()}}
	appts := &fakeAppts{appts: []model.Appointment{
		{ID: "a1", ProviderEventID: "evt-gone", Status: model.StatusConfirmed, Start: start, End: start.Add(time.Hour)},
		{ID: "a2", ProviderEventID: "evt-live", Status: model.StatusConfirmed, Start: start, End: start.Add(time.Hour)},
	}}
	adapter := fakeAdapter{events: map[string]provider.Event{
		"evt-live": {ID: "evt-live", Start: start, End: start.Add(time.Hour)},
	}}
	r := testReconciler(t, configs, appts, adapter)

	err := r.Handle(context.Background(), "google", "cfg-1", provider.Notification{Token: "s3cret", State: "exists"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if appts.statuses["a1"] != model.StatusCancelled {
		t.Fatalf("expected a1 cancelled, got %v", appts.statuses["a1"])
	}
	if _, touched := appts.statuses["a2"]; touched {
		t.Fatal("unchanged appointment must not be touched")
	}
	if len(configs.synced) != 1 || configs.synced[0] != model.SyncSuccess {
		t.Fatalf("expected one success sync record, got %v", configs.synced)
	}
}

func TestReconcileAppliesRemoteMove(t *testing.T) {
	start := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	moved := start.Add(2 * time.Hour)
	configs := &fakeConfigs{byID: map[string]model.ProviderConfig{"cfg-1": testConfig()}}
	appts := &fakeAppts{appts: []model.Appointment{
		{ID: "a1", ProviderEventID: "evt-1", Status: model.StatusConfirmed, Start: start, End: start.Add(time.Hour)},
	}}
	adapter := fakeAdapter{events: map[string]provider.Event{
		"evt-1": {ID: "evt-1", Start: moved, End: moved.Add(time.Hour)},
	}}
	r := testReconciler(t, configs, appts, adapter)

	if err := r.Handle(context.Background(), "google", "cfg-1", provider.Notification{Token: "s3cret", State: "exists"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, ok := appts.times["a1"]
	if !ok {
		t.Fatal("expected times to be rewritten")
	}
	if !got[0].Equal(moved) || !got[1].Equal(moved.Add(time.Hour)) {
		t.Fatalf("unexpected times %v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	start := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	configs := &fakeConfigs{byID: map[string]model.ProviderConfig{"cfg-1": testConfig()}}
	appts := &fakeAppts{appts: []model.Appointment{
		{ID: "a1", ProviderEventID: "evt-gone", Status: model.StatusCancelled, Start: start, End: start.Add(time.Hour)},
	}}
	r := testReconciler(t, configs, appts, fakeAdapter{})

	n := provider.Notification{Token: "s3cret", State: "exists"}
	for i := 0; i < 2; i++ {
		if err := r.Handle(context.Background(), "google", "cfg-1", n); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if len(appts.statuses) != 0 {
		t.Fatalf("already-cancelled appointment must not be rewritten, got %v", appts.statuses)
	}
}
