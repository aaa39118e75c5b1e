package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/notely/notely-go/internal/middleware"
	"github.com/notely/notely-go/internal/service"
)

const maxBodyBytes = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// decodeJSON reads a size-capped JSON body into dst, writing the error
// response itself when it returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeError maps a service error onto its HTTP status and body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		body := errorResponse(service.ErrValidation.Error())
		body["fields"] = verr.Fields
		writeJSON(w, http.StatusBadRequest, body)
		return
	}

	switch {
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrSessionConflict),
		errors.Is(err, service.ErrOTPNotFound),
		errors.Is(err, service.ErrOTPExpired),
		errors.Is(err, service.ErrOTPMismatch),
		errors.Is(err, service.ErrRegistrationExpired),
		errors.Is(err, service.ErrNoPendingRegistration),
		errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrNoteNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrDelivery):
		slog.Error("delivery failed", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse(service.ErrDelivery.Error()))
	case errors.Is(err, service.ErrConfiguration):
		slog.Error("misconfiguration", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse(service.ErrConfiguration.Error()))
	default:
		slog.Error("request failed", "request_id", middleware.RequestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}
