package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/turtlesoup/internal/service"
)

func handleJoinRoom(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.JoinRoom(r.Context(), userFrom(r), chi.URLParam(r, "roomID"))
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleLeaveRoom(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.LeaveRoom(r.Context(), userFrom(r).ID, chi.URLParam(r, "roomID")); err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListParticipants(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListParticipants(r.Context(), chi.URLParam(r, "roomID"))
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
