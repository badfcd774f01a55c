package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"ragchat/internal/domain"
)

// handleUpload streams the "file" part of a multipart form into the
// pipeline and queues it for processing.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		badRequest(w, "expected multipart form with a file field")
		return
	}
	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			badRequest(w, "malformed multipart body: "+err.Error())
			return
		}
		if p.FormName() == "file" && p.FileName() != "" {
			part = p
			break
		}
		p.Close()
	}
	if part == nil {
		badRequest(w, "missing file field")
		return
	}
	defer part.Close()

	doc, err := s.pipeline.Upload(r.Context(), part.FileName(), part)
	if errors.Is(err, domain.ErrDuplicateDocument) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"detail":      err.Error(),
			"document_id": doc.ID,
			"processed":   doc.Processed,
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The record exists from here on, so the client always gets its id.
	if err := s.pipeline.ProcessAsync(doc.ID); err != nil {
		s.log.Warn("document not queued", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message":     "Document uploaded but not queued for processing",
			"document_id": doc.ID,
			"filename":    doc.Filename,
			"status":      "pending",
			"queued":      false,
			"detail":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Document uploaded successfully",
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"status":      "processing",
		"queued":      true,
	})
}

// handleProcessDocument queues an existing document for (re)processing.
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.pipeline.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.pipeline.ProcessAsync(doc.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"status":      "processing",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r, 10)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	docs, err := s.pipeline.List(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}
