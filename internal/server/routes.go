package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/turtlesoup/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	svc := d.Service

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Turtle Soup API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, d.Health).Routes())
	r.Get("/images/{name}", handleImage(d.Images))

	r.Post("/api/auth/anonymous", handleAnonymousLogin(logger, svc))

	// Player routes, bearer token required.
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(svc))

		r.Get("/api/auth/me", handleMe())
		r.Post("/api/images", handleUploadImage(logger, svc))
		r.Get("/api/invites/{code}", handleResolveInvite(logger, svc))

		r.Post("/api/rooms", handleCreateRoom(logger, svc))
		r.Route("/api/rooms/{roomID}", func(r chi.Router) {
			r.Get("/", handleGetRoom(logger, svc))
			r.Put("/status", handleUpdateRoomStatus(logger, svc))
			r.Post("/end", handleEndRoom(logger, svc))
			r.Get("/invite", handleInviteCode(logger, svc))

			r.Post("/join", handleJoinRoom(logger, svc))
			r.Get("/participants", handleListParticipants(logger, svc))
			r.Delete("/participants/me", handleLeaveRoom(logger, svc))

			r.Get("/messages", handleListMessages(logger, svc))
			r.Post("/messages", handleSendMessage(logger, svc))

			r.Get("/events", handleEvents(logger, svc))
			r.Get("/ws", handleRoomWS(logger, svc))
		})
	})

	if d.AdminPasswordHash != "" {
		r.Route("/api/admin/cleanup", func(r chi.Router) {
			r.Use(adminAuthMiddleware(d.AdminPasswordHash))
			r.Post("/run", handleCleanupRun(logger, svc))
			r.Get("/expired", handleCleanupExpired(logger, svc))
			r.Get("/schedule", handleCleanupStatus(svc))
			r.Post("/schedule", handleCleanupStart(logger, svc))
			r.Delete("/schedule", handleCleanupStop(svc))
		})
	} else {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin routes disabled")
	}

	if d.SPADir != "" {
		if info, err := os.Stat(d.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", d.SPADir)
			r.NotFound(handleSPA(afero.NewBasePathFs(afero.NewOsFs(), d.SPADir)))
		}
	}
}
