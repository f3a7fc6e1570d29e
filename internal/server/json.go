package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, turtlesoup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, turtlesoup.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, turtlesoup.ErrInvalidState), errors.Is(err, turtlesoup.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, turtlesoup.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, turtlesoup.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err to the client. Unclassified errors are logged
// and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
