package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/playperu/turtlesoup/internal/service"
	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type AnonymousLoginRequest struct {
	Nickname string `json:"nickname"`
}

type AnonymousLoginResponse struct {
	Token string          `json:"token"`
	User  turtlesoup.User `json:"user"`
}

func handleAnonymousLogin(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnonymousLoginRequest
		// An empty body is a login with the default nickname.
		if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, token, err := svc.LoginAnonymously(r.Context(), req.Nickname)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, AnonymousLoginResponse{Token: token, User: user})
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, userFrom(r))
	}
}
