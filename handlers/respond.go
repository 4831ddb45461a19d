// Package handlers exposes the seal tracking services over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"sealtrack/auth"
	"sealtrack/db"
	"sealtrack/export"
	"sealtrack/images"
	"sealtrack/lifecycle"
	"sealtrack/middleware"
	"sealtrack/portal"
	"sealtrack/settings"
	"sealtrack/validation"
)

// maxBodyBytes bounds JSON bodies; multipart uploads use their own limit.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps service errors to HTTP statuses. Unexpected errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "Invalid email or password",
			"redirect": portal.AuthEntryPoint,
		})
	case errors.Is(err, portal.ErrForbidden):
		writeError(w, "Insufficient permissions", http.StatusForbidden)
	case errors.Is(err, db.ErrNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrCapacity),
		errors.Is(err, db.ErrConflict),
		errors.Is(err, auth.ErrEmailExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, images.ErrTooLarge),
		errors.Is(err, images.ErrUnsupported),
		errors.Is(err, images.ErrCompression):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, settings.ErrUnknownField),
		errors.Is(err, export.ErrFormat):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrUnsupported):
		writeError(w, err.Error(), http.StatusNotImplemented)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func sessionFrom(w http.ResponseWriter, r *http.Request) (*portal.Session, bool) {
	s, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "Authentication required",
			"redirect": portal.AuthEntryPoint,
		})
	}
	return s, ok
}
