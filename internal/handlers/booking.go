package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/lifecycle"
	"apptsync/internal/model"
	"apptsync/internal/storage"
)

// PortalUserHeader carries the authenticated portal user's id, set by the
// auth collaborator in front of this service.
const PortalUserHeader = "X-Portal-User"

type BookingHandler struct {
	lifecycle *lifecycle.Manager
	appts     *storage.Appointments
	services  *storage.Services
	logger    *slog.Logger
}

func NewBookingHandler(lc *lifecycle.Manager, appts *storage.Appointments, services *storage.Services, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{lifecycle: lc, appts: appts, services: services, logger: logger}
}

type bookRequest struct {
	ServiceID     string `json:"service_id"`
	Start         string `json:"start"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	Notes         string `json:"notes"`
}

type appointmentResponse struct {
	ID              string `json:"id"`
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	ServiceID       string `json:"service_id"`
	Start           string `json:"start"`
	End             string `json:"end"`
	ProviderEventID string `json:"provider_event_id,omitempty"`
}

func toResponse(appt model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              appt.ID,
		Reference:       appt.Reference,
		Status:          string(appt.Status),
		ServiceID:       appt.ServiceID,
		Start:           appt.Start.UTC().Format(time.RFC3339),
		End:             appt.End.UTC().Format(time.RFC3339),
		ProviderEventID: appt.ProviderEventID,
	}
}

// Book creates and confirms an appointment for the calling portal user.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid json body")
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.ServiceID == "" || req.CustomerName == "" || req.Start == "" {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "service_id, customer_name and start are required")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid start timestamp")
		return
	}

	createdVia := model.ViaAPI
	portalUser := strings.TrimSpace(r.Header.Get(PortalUserHeader))
	if portalUser != "" {
		createdVia = model.ViaPortal
	}

	appt, err := h.lifecycle.Book(r.Context(), lifecycle.BookingRequest{
		ServiceID:     req.ServiceID,
		Start:         start,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		PortalUserID:  portalUser,
		Notes:         req.Notes,
		CreatedVia:    createdVia,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

// List returns the calling portal user's appointments.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	portalUser := strings.TrimSpace(r.Header.Get(PortalUserHeader))
	if portalUser == "" {
		writeErrorCode(w, http.StatusForbidden, apperr.CodeAccessDenied, "portal user identity required")
		return
	}
	appts, err := h.appts.ListForPortalUser(r.Context(), portalUser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

// Cancel cancels the caller's appointment, subject to the service's
// cancellation window.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.authorize(w, r)
	if !ok {
		return
	}
	out, err := h.lifecycle.Cancel(r.Context(), appt.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(out))
}

type rescheduleRequest struct {
	Start string `json:"start"`
}

// Reschedule moves the caller's appointment to a new start time.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid start timestamp")
		return
	}
	out, err := h.lifecycle.Reschedule(r.Context(), appt.ID, start)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(out))
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus drives the staff-side transitions: confirm, check_in, complete,
// no_show, reset to draft.
func (h *BookingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "invalid json body")
		return
	}

	var (
		out model.Appointment
		err error
	)
	ctx := r.Context()
	switch model.AppointmentStatus(req.Status) {
	case model.StatusConfirmed:
		out, err = h.lifecycle.Confirm(ctx, id)
	case model.StatusCheckedIn:
		out, err = h.lifecycle.CheckIn(ctx, id)
	case model.StatusCompleted:
		out, err = h.lifecycle.Complete(ctx, id)
	case model.StatusNoShow:
		out, err = h.lifecycle.MarkNoShow(ctx, id)
	case model.StatusCancelled:
		out, err = h.lifecycle.Cancel(ctx, id)
	case model.StatusDraft:
		out, err = h.lifecycle.ResetToDraft(ctx, id)
	default:
		writeErrorCode(w, http.StatusBadRequest, apperr.CodeValidation, "unknown status "+req.Status)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(out))
}

// Delete removes an appointment entirely (staff-side).
func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize loads the appointment from the path id and checks the portal
// user owns it. Appointments without an owner are staff-managed and not
// reachable through the portal surface.
func (h *BookingHandler) authorize(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	appt, err := h.appts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return model.Appointment{}, false
	}
	portalUser := strings.TrimSpace(r.Header.Get(PortalUserHeader))
	if appt.PortalUserID == "" || portalUser == "" || appt.PortalUserID != portalUser {
		writeErrorCode(w, http.StatusForbidden, apperr.CodeAccessDenied, "appointment does not belong to caller")
		return model.Appointment{}, false
	}
	return appt, true
}
