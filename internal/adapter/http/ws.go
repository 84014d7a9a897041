package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bnema/harvest/internal/infrastructure/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WSHandler streams the same events as SSEHandler over a websocket.
type WSHandler struct {
	events   EventSource
	jobs     JobService
	upgrader websocket.Upgrader
}

func NewWSHandler(events EventSource, jobs JobService) *WSHandler {
	return &WSHandler{
		events: events,
		jobs:   jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// API clients are authenticated by key, not by origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Stream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := h.jobs.GetJob(r.Context(), id)
		if err != nil {
			writeServiceError(w, "websocket", err)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn.Printf("websocket upgrade failed: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ch := h.events.Subscribe(id)
		defer h.events.Unsubscribe(id, ch)

		// The reader only serves control frames and notices the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(v any) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(v)
		}

		if err := write(snapshot(job)); err != nil {
			return
		}

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := write(event); err != nil {
					return
				}
			}
		}
	}
}
