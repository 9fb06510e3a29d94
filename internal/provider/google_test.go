package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
)

func testGoogle(t *testing.T, handler http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGoogle()
	g.apiBase = srv.URL
	g.revokeURL = srv.URL + "/revoke"
	return g
}

func TestGoogleFreeBusy(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/freeBusy" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req struct {
			Items []map[string]string `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Items) != 1 || req.Items[0]["id"] != "work" {
			t.Errorf("unexpected items %v", req.Items)
		}
		_, _ = w.Write([]byte(`{
			"calendars": {
				"work": {
					"busy": [
						{"start": "2026-09-01T10:00:00Z", "end": "2026-09-01T11:00:00Z"},
						{"start": "2026-09-01T14:00:00Z", "end": "2026-09-01T15:30:00Z"}
					]
				}
			}
		}`))
	})

	cfg := model.ProviderConfig{DefaultCalendarID: "work"}
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	busy, err := g.FreeBusy(context.Background(), cfg, "tok-1", from, from.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FreeBusy: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("expected 2 busy intervals, got %d", len(busy))
	}
	if !busy[0].Start.Equal(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first interval start %v", busy[0].Start)
	}
	if !busy[1].End.Equal(time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected second interval end %v", busy[1].End)
	}
}

func TestGoogleCreateEventRemindersAndAttendees(t *testing.T) {
	var got googleEvent
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"id": "evt-42"}`))
	})

	start := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	id, err := g.CreateEvent(context.Background(), model.ProviderConfig{}, "tok", model.EventData{
		Summary:     "Consultation - Ada",
		Description: "first visit",
		Start:       start,
		End:         start.Add(time.Hour),
		Attendees:   []string{"ada@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "evt-42" {
		t.Fatalf("expected event id evt-42, got %q", id)
	}

	if got.Reminders == nil || got.Reminders.UseDefault {
		t.Fatal("expected reminder overrides, got defaults")
	}
	if len(got.Reminders.Overrides) != 2 {
		t.Fatalf("expected 2 reminder overrides, got %d", len(got.Reminders.Overrides))
	}
	if got.Reminders.Overrides[0].Method != "email" || got.Reminders.Overrides[0].Minutes != 1440 {
		t.Errorf("unexpected email reminder %+v", got.Reminders.Overrides[0])
	}
	if got.Reminders.Overrides[1].Method != "popup" || got.Reminders.Overrides[1].Minutes != 60 {
		t.Errorf("unexpected popup reminder %+v", got.Reminders.Overrides[1])
	}
	if len(got.Attendees) != 1 || got.Attendees[0].Email != "ada@example.com" {
		t.Errorf("unexpected attendees %+v", got.Attendees)
	}
}

func TestGoogleCancelEventGoneIsSuccess(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := g.CancelEvent(context.Background(), model.ProviderConfig{}, "tok", "evt-1"); err != nil {
		t.Fatalf("expected deleted-remotely to be a no-op, got %v", err)
	}
}

func TestGoogleGetEventCancelledStatus(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "evt-9",
			"status": "cancelled",
			"start": {"dateTime": "2026-09-03T10:00:00Z"},
			"end": {"dateTime": "2026-09-03T11:00:00Z"}
		}`))
	})
	ev, err := g.GetEvent(context.Background(), model.ProviderConfig{}, "tok", "evt-9")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !ev.Cancelled {
		t.Fatal("expected cancelled event")
	}
	if !ev.Start.Equal(time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", ev.Start)
	}
}

func TestGoogleAuthErrorDetection(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := g.GetEvent(context.Background(), model.ProviderConfig{}, "stale", "evt-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestValidateWebhookToken(t *testing.T) {
	g := NewGoogle()
	cfg := model.ProviderConfig{WebhookSecret: "s3cret"}

	if !g.ValidateWebhookToken(cfg, Notification{Token: "s3cret"}) {
		t.Fatal("matching token rejected")
	}
	if g.ValidateWebhookToken(cfg, Notification{Token: "wrong"}) {
		t.Fatal("wrong token accepted")
	}
	if g.ValidateWebhookToken(model.ProviderConfig{}, Notification{Token: ""}) {
		t.Fatal("empty secret must reject everything")
	}
}

func TestParseNotification(t *testing.T) {
	h := http.Header{}
	h.Set("X-Goog-Channel-ID", "chan-1")
	h.Set("X-Goog-Resource-ID", "res-1")
	h.Set("X-Goog-Channel-Token", "tok-1")
	h.Set("X-Goog-Resource-State", "exists")

	n := ParseNotification(h)
	if n.ChannelID != "chan-1" || n.ResourceID != "res-1" || n.Token != "tok-1" || n.State != "exists" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	reg := NewRegistry(NewGoogle())

	if _, err := reg.Get(model.ProviderGoogle); err != nil {
		t.Fatalf("expected google adapter, got %v", err)
	}
	_, err := reg.Get(model.ProviderCalendly)
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	if !apperr.Is(err, apperr.CodeUnsupportedProvider) {
		t.Fatalf("expected UNSUPPORTED_PROVIDER, got %v", err)
	}
}

func TestGoogleSetupWebhookParsesExpiration(t *testing.T) {
	g := testGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events/watch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["token"] != "hook-secret" {
			t.Errorf("expected channel token to carry the webhook secret, got %v", req["token"])
		}
		_, _ = w.Write([]byte(`{"id": "chan-7", "resourceId": "res-7", "expiration": "1793491200000"}`))
	})

	ch, err := g.SetupWebhook(context.Background(), model.ProviderConfig{WebhookSecret: "hook-secret"}, "tok", "https://example.com/webhook/calendar/google/x")
	if err != nil {
		t.Fatalf("SetupWebhook: %v", err)
	}
	if ch.ChannelID != "chan-7" || ch.ResourceID != "res-7" {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if ch.Expiration == nil {
		t.Fatal("expected parsed expiration")
	}
	if got := ch.Expiration.Unix(); got != 1793491200 {
		t.Errorf("unexpected expiration %d", got)
	}
}
