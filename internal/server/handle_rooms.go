package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type CreateRoomRequest = service.NewRoom

type UpdateStatusRequest struct {
	Status turtlesoup.RoomStatus `json:"status"`
}

type InviteResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

func handleCreateRoom(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		room, err := svc.CreateRoom(r.Context(), userFrom(r), req)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, room)
	}
}

func handleGetRoom(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := svc.GetRoom(r.Context(), userFrom(r).ID, chi.URLParam(r, "roomID"))
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func handleUpdateRoomStatus(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		room, err := svc.UpdateRoomStatus(r.Context(), userFrom(r).ID, chi.URLParam(r, "roomID"), req.Status)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func handleEndRoom(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.EndRoom(r.Context(), userFrom(r).ID, chi.URLParam(r, "roomID")); err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleInviteCode(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		code, err := svc.InviteCode(r.Context(), roomID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, InviteResponse{RoomID: roomID, Code: code})
	}
}

func handleResolveInvite(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := svc.ResolveInvite(r.Context(), userFrom(r).ID, chi.URLParam(r, "code"))
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}
