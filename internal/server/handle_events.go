package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/turtlesoup/internal/service"
)

// ClosedEvent is the last frame of a stream the server ended. Clients
// reload history and the roster before reconnecting.
type ClosedEvent struct {
	Reason string `json:"reason"`
}

func closeReason(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}

func handleEvents(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		user := userFrom(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		sub, err := svc.Subscribe(r.Context(), user, roomID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					data, _ := json.Marshal(ClosedEvent{Reason: closeReason(sub.Err())})
					fmt.Fprintf(w, "event: closed\ndata: %s\n\n", data)
					flusher.Flush()
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.Error("encoding event", "room_id", roomID, "type", ev.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.Key, ev.Type, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
