package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"apptsync/internal/apperr"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		code   string
		status int
	}{
		{apperr.CodeNotFound, http.StatusNotFound},
		{apperr.CodeValidation, http.StatusBadRequest},
		{apperr.CodeUnsupportedProvider, http.StatusBadRequest},
		{apperr.CodeAccessDenied, http.StatusForbidden},
		{apperr.CodeLeadTimeTooShort, http.StatusUnprocessableEntity},
		{apperr.CodeLeadTimeTooLong, http.StatusUnprocessableEntity},
		{apperr.CodeInvalidTransition, http.StatusUnprocessableEntity},
		{apperr.CodeCannotCancel, http.StatusUnprocessableEntity},
		{apperr.CodeAuthRequired, http.StatusConflict},
		{apperr.CodeRefreshFailure, http.StatusBadGateway},
		{apperr.CodeRemoteSync, http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, logger, apperr.New(tc.code, "boom"))
		if rec.Code != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.code, tc.status, rec.Code)
		}
		var body errorBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.code, err)
		}
		if body.Error.Code != tc.code {
			t.Errorf("%s: payload code %q", tc.code, body.Error.Code)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	writeError(rec, logger, errors.New("password=hunter2 leaked into error"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message != "internal error" {
		t.Fatalf("internal detail echoed to client: %q", body.Error.Message)
	}
}
