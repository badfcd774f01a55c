package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragchat/internal/chat"
	"ragchat/internal/domain"
	"ragchat/internal/service"
)

type chatRequest struct {
	Message           string   `json:"message"`
	SessionID         string   `json:"session_id"`
	UseKnowledgeBase  *bool    `json:"use_knowledge_base"`
	SelectedDocuments []string `json:"selected_documents"`
	Stream            bool     `json:"stream"`
}

type sourceRef struct {
	Filename   string  `json:"filename"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"sequence_index"`
	Score      float64 `json:"score"`
}

type chatResponse struct {
	SessionID      string      `json:"session_id"`
	Response       string      `json:"response"`
	ContextUsed    bool        `json:"context_used"`
	RetrievalError string      `json:"retrieval_error,omitempty"`
	Sources        []sourceRef `json:"sources,omitempty"`
}

// sseEvent is one frame of a streamed chat response.
type sseEvent struct {
	Content        string `json:"content,omitempty"`
	Done           bool   `json:"done,omitempty"`
	Error          string `json:"error,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ContextUsed    bool   `json:"context_used,omitempty"`
	RetrievalError string `json:"retrieval_error,omitempty"`
}

// grounding is the outcome of the retrieval step of a turn.
type grounding struct {
	turn    chat.Turn
	results []domain.RetrievalResult
	err     error
}

// contextUsed reports whether the session carries an active context, which
// every provider request of a turn includes. Call it once the turn has begun.
func contextUsed(coord *chat.Coordinator) bool { return coord.State().ActiveContext != "" }

func (g grounding) errText() string {
	if g.err == nil {
		return ""
	}
	return g.err.Error()
}

func (g grounding) sources() []sourceRef {
	refs := make([]sourceRef, 0, len(g.results))
	for _, r := range g.results {
		refs = append(refs, sourceRef{
			Filename:   r.Metadata.Filename,
			SourcePath: r.Metadata.SourcePath,
			ChunkIndex: r.Metadata.ChunkIndex,
			Score:      r.Score,
		})
	}
	return refs
}

// ground retrieves context for message. A failed or empty retrieval leaves
// the session's active context untouched.
func (s *Server) ground(ctx context.Context, message string, topK int, sources []string) grounding {
	g := grounding{turn: chat.Turn{Message: message}}
	results, err := s.retrieval.Retrieve(ctx, message, topK, sources)
	if err != nil {
		s.log.Warn("retrieval failed, answering without new context", "error", err)
		g.err = err
		return g
	}
	if len(results) > 0 {
		g.results = results
		g.turn = chat.WithContext(message, service.BuildContext(results))
	}
	return g
}

func (s *Server) groundSelected(ctx context.Context, req chatRequest) grounding {
	useKB := req.UseKnowledgeBase == nil || *req.UseKnowledgeBase
	if !useKB || len(req.SelectedDocuments) == 0 {
		return grounding{turn: chat.Turn{Message: req.Message}}
	}
	paths, err := s.pipeline.SourcePaths(ctx, req.SelectedDocuments)
	if err != nil {
		s.log.Warn("selected documents could not be resolved", "error", err)
		return grounding{turn: chat.Turn{Message: req.Message}, err: err}
	}
	return s.ground(ctx, req.Message, s.opts.TopK, paths)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "message must not be empty")
		return
	}
	var coord *chat.Coordinator
	if req.SessionID != "" {
		c, err := s.sessions.Get(req.SessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		coord = c
	} else {
		coord = s.sessions.Create()
	}

	g := s.groundSelected(r.Context(), req)
	if req.Stream {
		s.streamMessage(w, r, coord, g)
		return
	}
	text, err := coord.Complete(r.Context(), g.turn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:      coord.SessionID(),
		Response:       text,
		ContextUsed:    contextUsed(coord),
		RetrievalError: g.errText(),
		Sources:        g.sources(),
	})
}

// streamMessage relays the turn as server-sent events. Returning before the
// stream is exhausted abandons the turn.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, coord *chat.Coordinator, g grounding) {
	ts, err := coord.Stream(r.Context(), g.turn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer ts.Close()
	used := contextUsed(coord)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Session-ID", coord.SessionID())
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for ts.Next() {
		if err := writeEvent(w, rc, sseEvent{Content: ts.Fragment()}); err != nil {
			s.log.Info("client went away during stream", "session_id", coord.SessionID(), "error", err)
			return
		}
	}
	if err := ts.Err(); err != nil {
		if r.Context().Err() != nil {
			return
		}
		_ = writeEvent(w, rc, sseEvent{Error: err.Error()})
		return
	}
	_ = writeEvent(w, rc, sseEvent{
		Done:           true,
		SessionID:      coord.SessionID(),
		ContextUsed:    used,
		RetrievalError: g.errText(),
	})
}

func writeEvent(w io.Writer, rc *http.ResponseController, ev sseEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	return rc.Flush()
}

type sessionInfo struct {
	ID           string              `json:"id"`
	Phase        domain.SessionPhase `json:"phase"`
	MessageCount int                 `json:"message_count"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st := s.sessions.Create().State()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": st.SessionID,
		"created_at": st.CreatedAt,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	states := s.sessions.List()
	out := make([]sessionInfo, 0, len(states))
	for _, st := range states {
		out = append(out, sessionInfo{
			ID:           st.SessionID,
			Phase:        st.Phase,
			MessageCount: len(st.History),
			CreatedAt:    st.CreatedAt,
			UpdatedAt:    st.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r, 50)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	id := r.PathValue("id")
	coord, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs := coord.History(0)
	msgs = msgs[min(skip, len(msgs)):]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	coord, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	coord.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session history cleared"})
}
