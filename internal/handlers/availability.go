package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/availability"
	"apptsync/internal/model"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/internal/token"
)

const defaultAvailabilityWindow = 7 * 24 * time.Hour

type AvailabilityHandler struct {
	services *storage.Services
	appts    *storage.Appointments
	configs  *storage.Configs
	tokens   *token.Store
	registry *provider.Registry
	logger   *slog.Logger
}

func NewAvailabilityHandler(services *storage.Services, appts *storage.Appointments, configs *storage.Configs, tokens *token.Store, registry *provider.Registry, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		services: services,
		appts:    appts,
		configs:  configs,
		tokens:   tokens,
		registry: registry,
		logger:   logger,
	}
}

type availabilityRequest struct {
	ServiceID string `json:"service_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type slotItem struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	Capacity  int    `json:"capacity"`
}

type serviceSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Duration int     `json:"duration"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

type availabilityResponse struct {
	Slots   []slotItem     `json:"slots"`
	Service serviceSummary `json:"service"`
}

// Slots answers GET (query params) and POST (JSON body) with the bookable
// slots for one service. The window defaults to the next seven days.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = availabilityRequest{
			ServiceID: strings.TrimSpace(q.Get("service_id")),
			From:      strings.TrimSpace(q.Get("from")),
			To:        strings.TrimSpace(q.Get("to")),
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid json body")
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if req.ServiceID == "" {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "service_id is required")
		return
	}

	now := time.Now().UTC()
	from, to := now, now.Add(defaultAvailabilityWindow)
	if req.From != "" {
		t, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid from timestamp")
			return
		}
		from = t
	}
	if req.To != "" {
		t, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid to timestamp")
			return
		}
		to = t
	}
	if !to.After(from) {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "to must be after from")
		return
	}

	ctx := r.Context()
	svc, err := h.services.Get(ctx, req.ServiceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !svc.Active {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "service is not bookable")
		return
	}

	busy, err := h.appts.BusyIntervals(ctx, svc.ID, from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Remote free/busy is best effort. A provider outage degrades to local
	// availability rather than failing the lookup.
	if remote, ok := h.remoteBusy(ctx, svc, from, to); ok {
		busy = append(busy, remote...)
	}

	slots := availability.FilterBusy(
		availability.Generate(from, to, svc.DurationMinutes, svc.BufferMinutes), busy)

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			Start:     s.Start.UTC().Format(time.RFC3339),
			End:       s.End.UTC().Format(time.RFC3339),
			Available: true,
			Capacity:  svc.Capacity,
		})
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		Slots: items,
		Service: serviceSummary{
			ID:       svc.ID,
			Name:     svc.Name,
			Duration: svc.DurationMinutes,
			Price:    svc.Price,
			Currency: svc.Currency,
		},
	})
}

// remoteBusy fetches the provider's busy windows for the service's calendar.
// Returns ok=false when no connected provider applies or the lookup failed.
func (h *AvailabilityHandler) remoteBusy(ctx context.Context, svc model.ServiceDefinition, from, to time.Time) ([]availability.Interval, bool) {
	var cfg model.ProviderConfig
	var err error
	if svc.ConfigID != "" {
		cfg, err = h.configs.Get(ctx, svc.ConfigID)
	} else {
		cfg, err = h.configs.ActiveForProvider(ctx, model.ProviderGoogle)
	}
	if err != nil {
		if !storage.IsNotFound(err) {
			h.logger.Warn("availability: config lookup failed", "service_id", svc.ID, "err", err)
		}
		return nil, false
	}
	if !cfg.HasCredentials() {
		return nil, false
	}
	adapter, err := h.registry.Get(cfg.Provider)
	if err != nil {
		return nil, false
	}
	tok, err := h.tokens.ValidToken(ctx, cfg)
	if err != nil {
		h.logger.Warn("availability: no valid token, using local busy only", "config_id", cfg.ID, "err", err)
		return nil, false
	}
	if svc.CalendarID != "" {
		cfg.DefaultCalendarID = svc.CalendarID
	}
	busy, err := adapter.FreeBusy(ctx, cfg, tok.AccessToken, from, to)
	if err != nil {
		h.logger.Warn("availability: free/busy lookup failed, using local busy only", "config_id", cfg.ID, "err", err)
		return nil, false
	}
	return busy, true
}
