package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"apptsync/internal/provider"
	"apptsync/internal/webhook"
)

type stubProcessor struct {
	err  error
	last provider.Notification
}

func (s *stubProcessor) Handle(_ context.Context, _, _ string, n provider.Notification) error {
	s.last = n
	return s.err
}

func webhookRequest(t *testing.T, h *WebhookHandler) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/calendar/{provider}/{config_id}", h.Receive)

	req := httptest.NewRequest(http.MethodPost, "/webhook/calendar/google/cfg-1", nil)
	req.Header.Set("X-Goog-Channel-Token", "tok")
	req.Header.Set("X-Goog-Resource-State", "exists")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAckContract(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("handled notifications are acked", func(t *testing.T) {
		proc := &stubProcessor{}
		rec := webhookRequest(t, NewWebhookHandler(proc, logger))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Body.String() != "OK" {
			t.Fatalf("expected OK body, got %q", rec.Body.String())
		}
		if proc.last.Token != "tok" || proc.last.State != "exists" {
			t.Fatalf("notification headers not forwarded: %+v", proc.last)
		}
	})

	t.Run("bad token is 401", func(t *testing.T) {
		rec := webhookRequest(t, NewWebhookHandler(&stubProcessor{err: webhook.ErrBadToken}, logger))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("unexpected failure is 500", func(t *testing.T) {
		rec := webhookRequest(t, NewWebhookHandler(&stubProcessor{err: errors.New("db down")}, logger))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
	})
}
