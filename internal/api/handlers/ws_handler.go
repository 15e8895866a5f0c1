package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/session"
	"github.com/deployflow/engine/pkg/logger"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsBuffer       = 64
)

// WSHandler streams a flow's live session to the editor.
type WSHandler struct {
	flows    *FlowsHandler
	upgrader websocket.Upgrader
}

// NewWSHandler accepts upgrades from allowedOrigin; "*" accepts any origin.
func NewWSHandler(flows *FlowsHandler, allowedOrigin string) *WSHandler {
	return &WSHandler{
		flows: flows,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Stream sends a snapshot followed by every change to the session until
// either side closes.
func (h *WSHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.flows.open(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		logger.L().Warn("websocket upgrade failed", zap.String("flow_id", s.ID()), zap.Error(err))
		return
	}
	defer conn.Close()

	client, snapshot := s.Subscribe(wsBuffer)
	defer client.Leave()

	done := make(chan struct{})
	go readPump(conn, done)

	if err := writeMessage(conn, snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				// Dropped as a slow consumer or the session closed.
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := writeMessage(conn, msg); err != nil {
				logger.L().Debug("websocket write failed", zap.String("flow_id", s.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg session.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

// readPump drains client frames so pongs and close frames are processed.
// The stream is one-way: edits go through the REST endpoints.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
