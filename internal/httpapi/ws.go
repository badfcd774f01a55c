package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ragchat/internal/chat"
)

type wsRequest struct {
	Message string `json:"message"`
}

type wsFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ContextUsed    bool   `json:"context_used,omitempty"`
	RetrievalError string `json:"retrieval_error,omitempty"`
}

const (
	frameChunk    = "chunk"
	frameComplete = "complete"
	frameError    = "error"
)

// handleWebSocket runs one streamed turn per received message. Every turn is
// grounded on the whole knowledge base.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	coord, lookupErr := s.sessions.Get(r.PathValue("id"))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	if lookupErr != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Session not found")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}

	ctx := r.Context()
	for {
		var in wsRequest
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", "session_id", coord.SessionID(), "error", err)
			}
			return
		}
		if strings.TrimSpace(in.Message) == "" {
			if err := conn.WriteJSON(wsFrame{Type: frameError, Content: "message must not be empty"}); err != nil {
				return
			}
			continue
		}
		if err := s.wsTurn(ctx, conn, coord, in.Message); err != nil {
			s.log.Info("websocket closed during turn", "session_id", coord.SessionID(), "error", err)
			return
		}
	}
}

func (s *Server) wsTurn(ctx context.Context, conn *websocket.Conn, coord *chat.Coordinator, message string) error {
	g := s.ground(ctx, message, s.opts.WebSocketTopK, nil)
	ts, err := coord.Stream(ctx, g.turn)
	if err != nil {
		return conn.WriteJSON(wsFrame{Type: frameError, Content: err.Error()})
	}
	defer ts.Close()
	used := contextUsed(coord)
	for ts.Next() {
		if err := conn.WriteJSON(wsFrame{Type: frameChunk, Content: ts.Fragment()}); err != nil {
			return err
		}
	}
	if err := ts.Err(); err != nil {
		return conn.WriteJSON(wsFrame{Type: frameError, Content: err.Error()})
	}
	return conn.WriteJSON(wsFrame{
		Type:           frameComplete,
		Content:        ts.Response(),
		ContextUsed:    used,
		RetrievalError: g.errText(),
	})
}
