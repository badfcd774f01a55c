// Package httpapi exposes documents, chat sessions and the knowledge base
// over HTTP, SSE and WebSocket.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"ragchat/internal/chat"
	"ragchat/internal/domain"
	"ragchat/internal/service"
)

const llmHealthTimeout = 15 * time.Second

type Options struct {
	TopK          int
	WebSocketTopK int
	Provider      string
	Model         string
}

type Server struct {
	pipeline  *service.DocumentPipeline
	retrieval *service.RetrievalService
	sessions  *chat.SessionStore
	opts      Options
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewServer(pipeline *service.DocumentPipeline, retrieval *service.RetrievalService, sessions *chat.SessionStore, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.WebSocketTopK <= 0 {
		opts.WebSocketTopK = 3
	}
	return &Server{
		pipeline:  pipeline,
		retrieval: retrieval,
		sessions:  sessions,
		opts:      opts,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed API with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/llm", s.handleLLMHealth)
	mux.HandleFunc("GET /health/vector-store", s.handleVectorStoreHealth)

	mux.HandleFunc("POST /api/v1/documents/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/v1/documents/list", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/v1/documents/{id}/process", s.handleProcessDocument)

	mux.HandleFunc("POST /api/v1/chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/chat/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/chat/sessions/{id}/clear", s.handleClearSession)
	mux.HandleFunc("GET /api/v1/chat/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/v1/chat/message", s.handleMessage)
	mux.HandleFunc("GET /api/v1/chat/ws/{id}", s.handleWebSocket)

	mux.HandleFunc("POST /api/v1/knowledge-base/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/knowledge-base/statistics", s.handleStatistics)
	mux.HandleFunc("DELETE /api/v1/knowledge-base/clear", s.handleClear)
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "ragchat",
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), llmHealthTimeout)
	defer cancel()
	body := map[string]any{"status": "healthy", "provider": s.opts.Provider, "model": s.opts.Model}
	if err := s.sessions.Provider().Health(ctx); err != nil {
		s.log.Warn("llm health check failed", "provider", s.opts.Provider, "error", err)
		body["status"] = "unhealthy"
		body["detail"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleVectorStoreHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.retrieval.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "statistics": st})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func statusFor(err error) int {
	var (
		ce *domain.ConfigurationError
		ee *domain.ExtractionError
	)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnsupportedFileType), errors.As(err, &ce), errors.As(err, &ee):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsRetryable(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": msg})
}

// page reads skip and limit query parameters.
func page(r *http.Request, defaultLimit int) (skip, limit int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("invalid skip %q", v)
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	return skip, limit, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", status, "duration", time.Since(start))
	})
}
