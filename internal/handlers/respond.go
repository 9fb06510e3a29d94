// Package handlers exposes the HTTP surface: availability lookup, booking,
// appointment lifecycle, provider config administration, the OAuth callback,
// and the provider webhook endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"apptsync/internal/apperr"
	"apptsync/internal/storage"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// statusFor maps domain error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeValidation, apperr.CodeUnsupportedProvider:
		return http.StatusBadRequest
	case apperr.CodeAccessDenied:
		return http.StatusForbidden
	case apperr.CodeLeadTimeTooShort, apperr.CodeLeadTimeTooLong,
		apperr.CodeInvalidTransition, apperr.CodeCannotCancel, apperr.CodeCannotReschedule:
		return http.StatusUnprocessableEntity
	case apperr.CodeAuthRequired, apperr.CodeConfiguration:
		return http.StatusConflict
	case apperr.CodeRefreshFailure, apperr.CodeRemoteSync:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders a domain error as the stable JSON error payload.
// Errors without a code are internal and are not echoed to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var e *apperr.Error
	if errors.As(err, &e) {
		writeErrorCode(w, statusFor(e.Code), e.Code, e.Message)
		return
	}
	if storage.IsNotFound(err) {
		writeErrorCode(w, http.StatusNotFound, apperr.CodeNotFound, "not found")
		return
	}
	if storage.IsConflict(err) {
		writeErrorCode(w, http.StatusConflict, "CONFLICT", "conflicting state change")
		return
	}
	logger.Error("request failed", "err", err)
	writeErrorCode(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
