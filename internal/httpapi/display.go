package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"qms/branch-queue/internal/display"
	"qms/branch-queue/internal/hub"
	"qms/branch-queue/internal/metrics"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// DisplayHandler serves the public display channel under /display. Each
// connection gets the current board first, then every published event.
// Clients may narrow the stream with {"action":"subscribe","types":[...]}.
func DisplayHandler(h *hub.Hub, board BoardSource, logger *slog.Logger) http.Handler {
	return sockjs.NewHandler("/display", sockjs.DefaultOptions, func(session sockjs.Session) {
		done := metrics.DisplayConnected()
		defer done()

		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		if board != nil {
			current := board.Board()
			payload, err := json.Marshal(display.Event{Type: display.EventBoard, Board: &current})
			if err == nil {
				client.Send <- payload
			}
		}
		h.Register(client)
		defer h.Unregister(client)
		logger.Debug("display connected", "client", client.ID)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				logger.Debug("display disconnected", "client", client.ID)
				return
			}
			if parsed, ok := hub.ParseSubscribe([]byte(msg)); ok {
				h.UpdateSubscription(client, parsed.Subscription())
			}
		}
	})
}
