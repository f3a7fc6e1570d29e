package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/sweeper"
)

type CleanupScheduleRequest struct {
	IntervalHours int `json:"intervalHours"`
}

// CleanupStopResponse reports whether a schedule was running alongside the
// resulting status.
type CleanupStopResponse struct {
	Stopped bool `json:"stopped"`
	sweeper.Status
}

func handleCleanupRun(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.RunCleanupTask(r.Context())
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCleanupExpired(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.ExpiredCounts(r.Context())
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleCleanupStatus(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.GetCleanupScheduleStatus())
	}
}

// handleCleanupStart (re)starts the schedule. An empty body uses the
// default interval.
func handleCleanupStart(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := CleanupScheduleRequest{IntervalHours: sweeper.DefaultIntervalHours}
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.StartCleanupSchedule(req.IntervalHours); err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		logger.Info("cleanup schedule started", "interval_hours", req.IntervalHours)
		writeJSON(w, http.StatusOK, svc.GetCleanupScheduleStatus())
	}
}

func handleCleanupStop(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped := svc.StopCleanupSchedule()
		writeJSON(w, http.StatusOK, CleanupStopResponse{Stopped: stopped, Status: svc.GetCleanupScheduleStatus()})
	}
}
