package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playperu/turtlesoup/internal/service"
)

const wsWriteTimeout = 10 * time.Second

// WSStatusFrame is sent on the socket for send errors and, last, when the
// server ends the stream.
type WSStatusFrame struct {
	Type   string `json:"type"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// handleRoomWS streams room events over a WebSocket. Text frames from the
// client are decoded as messages and sent on the user's behalf.
func handleRoomWS(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		user := userFrom(r)

		sub, err := svc.Subscribe(r.Context(), user, roomID)
		if err != nil {
			writeServiceError(w, logger, r, err)
			return
		}
		defer sub.Close()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go func() {
			defer cancel()
			for {
				var in service.NewMessage
				if err := wsjson.Read(ctx, conn, &in); err != nil {
					logger.Debug("websocket read ended", "room_id", roomID, "error", err)
					return
				}
				if _, err := svc.SendMessage(ctx, user, roomID, in); err != nil {
					write(ctx, conn, WSStatusFrame{Type: "error", Error: err.Error()})
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					write(ctx, conn, WSStatusFrame{Type: "closed", Reason: closeReason(sub.Err())})
					conn.Close(websocket.StatusNormalClosure, "stream closed")
					return
				}
				if err := write(ctx, conn, ev); err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Debug("websocket write failed", "room_id", roomID, "error", err)
					}
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
