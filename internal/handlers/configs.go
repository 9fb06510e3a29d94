package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/internal/token"
)

// ConfigsHandler is the admin surface for provider connections: create,
// activate, connect via OAuth, test, and disconnect.
type ConfigsHandler struct {
	configs  *storage.Configs
	tokens   *token.Store
	registry *provider.Registry
	states   *provider.StateStore
	baseURL  string
	logger   *slog.Logger
}

func NewConfigsHandler(configs *storage.Configs, tokens *token.Store, registry *provider.Registry, states *provider.StateStore, baseURL string, logger *slog.Logger) *ConfigsHandler {
	return &ConfigsHandler{
		configs:  configs,
		tokens:   tokens,
		registry: registry,
		states:   states,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

type createConfigRequest struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	APIKey            string `json:"api_key"`
	DefaultCalendarID string `json:"default_calendar_id"`
}

type configItem struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	Active            bool   `json:"active"`
	IsActive          bool   `json:"is_active"`
	DefaultCalendarID string `json:"default_calendar_id,omitempty"`
	WebhookChannelID  string `json:"webhook_channel_id,omitempty"`
	WebhookExpiration string `json:"webhook_expiration,omitempty"`
	LastSyncAt        string `json:"last_sync_at,omitempty"`
	SyncStatus        string `json:"sync_status"`
	SyncMessage       string `json:"sync_message,omitempty"`
}

func toConfigItem(c model.ProviderConfig) configItem {
	item := configItem{
		ID:                c.ID,
		Name:              c.Name,
		Provider:          string(c.Provider),
		Active:            c.Active,
		IsActive:          c.IsActive,
		DefaultCalendarID: c.DefaultCalendarID,
		WebhookChannelID:  c.WebhookChannelID,
		SyncStatus:        string(c.SyncStatus),
		SyncMessage:       c.SyncMessage,
	}
	if c.WebhookExpiration != nil {
		item.WebhookExpiration = c.WebhookExpiration.UTC().Format(time.RFC3339)
	}
	if c.LastSyncAt != nil {
		item.LastSyncAt = c.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return item
}

// Create registers a provider connection. The webhook secret is minted here,
// once, and never rotated implicitly.
func (h *ConfigsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "name is required")
		return
	}
	kind, err := model.ParseProviderKind(strings.TrimSpace(req.Provider))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeUnsupportedProvider, err.Error())
		return
	}
	if _, err := h.registry.Get(kind); err != nil {
		writeError(w, h.logger, err)
		return
	}

	secret, err := randomSecret()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := h.configs.Create(r.Context(), model.ProviderConfig{
		Name:              req.Name,
		Provider:          kind,
		ClientID:          strings.TrimSpace(req.ClientID),
		ClientSecret:      strings.TrimSpace(req.ClientSecret),
		APIKey:            strings.TrimSpace(req.APIKey),
		Active:            true,
		WebhookSecret:     secret,
		DefaultCalendarID: strings.TrimSpace(req.DefaultCalendarID),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	cfg, err := h.configs.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfigItem(cfg))
}

func (h *ConfigsHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]configItem, 0, len(configs))
	for _, c := range configs {
		items = append(items, toConfigItem(c))
	}
	writeJSON(w, http.StatusOK, items)
}

// Activate makes this config the live connection for its provider kind and
// tries to bring its webhook channel up. Remote failures do not undo the
// activation; they land in the sync status.
func (h *ConfigsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.configs.Activate(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.ensureWebhook(ctx, cfg)
	if cfg, err = h.configs.Get(ctx, cfg.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigItem(cfg))
}

func (h *ConfigsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.configs.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.stopWebhook(ctx, cfg)
	if err := h.configs.Deactivate(ctx, cfg.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connect starts the OAuth flow: issues a single-use state and returns the
// provider's consent URL for the admin to follow.
func (h *ConfigsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.configs.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !cfg.HasCredentials() {
		writeErrorCode(w, http.StatusConflict, apperr.CodeConfiguration, "config has no client credentials")
		return
	}
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	state, err := h.states.Issue(ctx, cfg.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	authURL, err := adapter.AuthorizationURL(cfg, h.callbackURL(), state)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// Callback finishes the OAuth flow: validates the single-use state, exchanges
// the code, stores the credential, and brings the webhook channel up.
func (h *ConfigsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeAuthRequired, "provider denied authorization: "+provErr)
		return
	}
	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "code and state are required")
		return
	}

	configID, err := h.states.Consume(ctx, state)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid or expired state")
		return
	}
	cfg, err := h.configs.Get(ctx, configID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	td, err := adapter.ExchangeCode(ctx, cfg, h.callbackURL(), code)
	if err != nil {
		h.recordSync(ctx, cfg.ID, model.SyncError, "code exchange failed: "+err.Error())
		writeErrorCode(w, http.StatusBadGateway, apperr.CodeAuthRequired, "authorization code exchange failed")
		return
	}
	if _, err := h.tokens.Save(ctx, cfg.ID, td); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if res, err := adapter.TestConnection(ctx, cfg, td.AccessToken); err != nil {
		h.recordSync(ctx, cfg.ID, model.SyncError, "connection test failed: "+err.Error())
	} else {
		h.recordSync(ctx, cfg.ID, model.SyncSuccess, res.Detail)
	}
	h.ensureWebhook(ctx, cfg)

	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"config_id": cfg.ID,
		"provider":  cfg.Provider,
	})
}

// Test verifies the stored credential against the provider.
func (h *ConfigsHandler) Test(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.configs.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	tok, err := h.tokens.ValidToken(ctx, cfg)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := adapter.TestConnection(ctx, cfg, tok.AccessToken)
	if err != nil {
		h.recordSync(ctx, cfg.ID, model.SyncError, "connection test failed: "+err.Error())
		writeErrorCode(w, http.StatusBadGateway, apperr.CodeRemoteSync, "connection test failed")
		return
	}
	h.recordSync(ctx, cfg.ID, model.SyncSuccess, res.Detail)

	calendars := make([]map[string]any, 0, len(res.Calendars))
	for _, c := range res.Calendars {
		calendars = append(calendars, map[string]any{"id": c.ID, "summary": c.Summary, "primary": c.Primary})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": res.OK, "detail": res.Detail, "calendars": calendars})
}

// Disconnect tears a connection down: webhook channel stopped, tokens revoked
// and deleted, config deactivated.
func (h *ConfigsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.configs.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.stopWebhook(ctx, cfg)
	if err := h.tokens.RevokeAll(ctx, cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.configs.Deactivate(ctx, cfg.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConfigsHandler) callbackURL() string {
	return h.baseURL + "/calendar/oauth/callback"
}

// ensureWebhook registers the push channel for the config. Best effort:
// failures land in the log and sync status, never in the response.
func (h *ConfigsHandler) ensureWebhook(ctx context.Context, cfg model.ProviderConfig) {
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		return
	}
	hooks, ok := adapter.(provider.WebhookCapable)
	if !ok {
		h.logger.Warn("provider does not support webhooks, skipping channel setup", "provider", cfg.Provider)
		return
	}
	tok, err := h.tokens.ValidToken(ctx, cfg)
	if err != nil {
		h.logger.Warn("webhook setup skipped, no valid token", "config_id", cfg.ID, "err", err)
		return
	}
	ch, err := hooks.SetupWebhook(ctx, cfg, tok.AccessToken, cfg.WebhookURL(h.baseURL))
	if err != nil {
		h.logger.Warn("webhook setup failed", "config_id", cfg.ID, "err", err)
		h.recordSync(ctx, cfg.ID, model.SyncError, "webhook setup failed: "+err.Error())
		return
	}
	if err := h.configs.SetWebhook(ctx, cfg.ID, ch.ChannelID, ch.ResourceID, ch.Expiration); err != nil {
		h.logger.Error("persisting webhook channel failed", "config_id", cfg.ID, "err", err)
	}
}

func (h *ConfigsHandler) stopWebhook(ctx context.Context, cfg model.ProviderConfig) {
	if cfg.WebhookChannelID == "" {
		return
	}
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		return
	}
	hooks, ok := adapter.(provider.WebhookCapable)
	if !ok {
		return
	}
	tok, err := h.tokens.ValidToken(ctx, cfg)
	if err != nil {
		h.logger.Warn("webhook stop skipped, no valid token", "config_id", cfg.ID, "err", err)
		return
	}
	if err := hooks.StopWebhook(ctx, cfg, tok.AccessToken); err != nil {
		h.logger.Warn("webhook stop failed", "config_id", cfg.ID, "err", err)
	}
	if err := h.configs.ClearWebhook(ctx, cfg.ID); err != nil {
		h.logger.Error("clearing webhook channel failed", "config_id", cfg.ID, "err", err)
	}
}

func (h *ConfigsHandler) recordSync(ctx context.Context, configID string, status model.SyncStatus, message string) {
	if err := h.configs.RecordSync(ctx, configID, status, message, time.Now().UTC()); err != nil {
		h.logger.Error("recording sync status failed", "config_id", configID, "err", err)
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
