package handlers

import (
	"log/slog"
	"net/http"

	"apptsync/internal/storage"
)

type ServicesHandler struct {
	services *storage.Services
	logger   *slog.Logger
}

func NewServicesHandler(services *storage.Services, logger *slog.Logger) *ServicesHandler {
	return &ServicesHandler{services: services, logger: logger}
}

type serviceItem struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Duration          int     `json:"duration"`
	Buffer            int     `json:"buffer"`
	Capacity          int     `json:"capacity"`
	Price             float64 `json:"price"`
	Currency          string  `json:"currency"`
	MinLeadHours      int     `json:"min_lead_hours"`
	MaxLeadDays       int     `json:"max_lead_days"`
	AllowCancellation bool    `json:"allow_cancellation"`
	CancellationHours int     `json:"cancellation_hours"`
	AllowReschedule   bool    `json:"allow_reschedule"`
}

// List returns the bookable services.
func (h *ServicesHandler) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.services.ListActive(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ID:                s.ID,
			Name:              s.Name,
			Description:       s.Description,
			Duration:          s.DurationMinutes,
			Buffer:            s.BufferMinutes,
			Capacity:          s.Capacity,
			Price:             s.Price,
			Currency:          s.Currency,
			MinLeadHours:      s.MinLeadHours,
			MaxLeadDays:       s.MaxLeadDays,
			AllowCancellation: s.AllowCancellation,
			CancellationHours: s.CancellationHours,
			AllowReschedule:   s.AllowReschedule,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
