package linerpc

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport carries one line per WebSocket text message.
type wsTransport struct {
	ws *websocket.Conn
}

// NewWebSocket wraps an established WebSocket connection as a transport.
func NewWebSocket(ws *websocket.Conn) Transport {
	return &wsTransport{ws: ws}
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	for {
		mt, data, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return bytes.TrimRight(data, "\r\n"), nil
	}
}

func (t *wsTransport) WriteLine(line []byte) error {
	return t.ws.WriteMessage(websocket.TextMessage, line)
}

func (t *wsTransport) Close() error {
	// Send a close frame so the peer sees an orderly shutdown.
	_ = t.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"),
		time.Now().Add(5*time.Second),
	)
	return t.ws.Close()
}

// WebSocketHandler returns an http.Handler that upgrades a request and
// serves it as the server's single peer. While a peer is connected, further
// upgrade attempts are answered with 409 Conflict.
func WebSocketHandler(s *Server) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	busy := make(chan struct{}, 1)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case busy <- struct{}{}:
			defer func() { <-busy }()
		default:
			http.Error(w, "a peer is already connected", http.StatusConflict)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := s.Serve(r.Context(), NewWebSocket(ws)); err != nil && !errors.Is(err, r.Context().Err()) {
			s.logger.Error("websocket session ended", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		}
	})
}
