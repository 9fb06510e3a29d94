package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"apptsync/internal/provider"
	"apptsync/internal/webhook"
)

// NotificationProcessor is what the endpoint needs from the reconciler.
type NotificationProcessor interface {
	Handle(ctx context.Context, kind, configID string, n provider.Notification) error
}

type WebhookHandler struct {
	reconciler NotificationProcessor
	logger     *slog.Logger
}

func NewWebhookHandler(reconciler NotificationProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// Receive handles POST /webhook/calendar/{provider}/{config_id}. The contract
// with providers is strict: 200 for anything handled (including notifications
// that map to nothing), 401 for a bad channel token, 500 only for unexpected
// failures the provider should retry.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("provider")
	configID := r.PathValue("config_id")
	n := provider.ParseNotification(r.Header)

	err := h.reconciler.Handle(r.Context(), kind, configID, n)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case errors.Is(err, webhook.ErrBadToken):
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
	default:
		h.logger.Error("webhook processing failed", "provider", kind, "config_id", configID, "err", err)
		http.Error(w, "webhook processing failed", http.StatusInternalServerError)
	}
}
