package httpapi

import (
	"net/http"
	"strings"

	"ragchat/internal/domain"
)

type searchRequest struct {
	Query    string `json:"query"`
	NResults int    `json:"n_results"`
	FileType string `json:"file_type"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "query must not be empty")
		return
	}
	if req.NResults <= 0 {
		req.NResults = s.opts.TopK
	}
	var filter *domain.Filter
	if req.FileType != "" {
		ft, err := domain.ParseFileType(req.FileType)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter = domain.Eq(domain.FieldSourceType, string(ft))
	}
	results, err := s.retrieval.Search(r.Context(), req.Query, req.NResults, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.retrieval.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.retrieval.Clear(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Knowledge base cleared successfully"})
}
