package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ojage/lokkito-backend/internal/chat"
	"github.com/ojage/lokkito-backend/internal/llm"
)

// wsFrame is a server-to-client streaming frame.
// Types: "delta" (incremental text), "done" (turn committed), "error".
type wsFrame struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Error        string `json:"error,omitempty"`
	SessionID    string `json:"chatId,omitempty"`
	Response     string `json:"response,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
}

// wsConn serializes writes to one WebSocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// handleWebSocket upgrades the connection and serves streamed turns. The
// client sends one send-message request at a time; the server answers with
// delta frames followed by a done frame. Closing the connection cancels the
// in-flight provider stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")
	wc := &wsConn{conn: conn}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket closed")
			} else {
				s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket read error")
			}
			return
		}

		var req chat.SendRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			wc.send(wsFrame{Type: "error", Error: "invalid request: " + err.Error()})
			continue
		}

		s.streamTurn(r.Context(), wc, req)
	}
}

// streamTurn runs one streamed turn, forwarding deltas as they arrive.
// A write failure means the consumer is gone; the turn context is cancelled
// so the provider stream stops.
func (s *Server) streamTurn(parent context.Context, wc *wsConn, req chat.SendRequest) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	result, err := s.manager.SendMessageStream(ctx, req, func(ev llm.StreamEvent) {
		if ev.Type != "delta" {
			return
		}
		if err := wc.send(wsFrame{Type: "delta", Content: ev.Content}); err != nil {
			cancel()
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		wc.send(wsFrame{Type: "error", Error: err.Error(), SessionID: req.SessionID})
		return
	}

	wc.send(wsFrame{
		Type:         "done",
		SessionID:    result.SessionID,
		Response:     result.ReplyText,
		MessageCount: result.MessageCount,
	})
}
