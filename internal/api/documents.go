package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/firechair/knowledge-console/internal/extract"
)

// maxUploadBytes bounds document uploads.
const maxUploadBytes = 10 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.badRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	contentType := header.Header.Get("Content-Type")
	text, err := extract.Text(header.Filename, contentType, file)
	if err != nil {
		s.writeError(w, err)
		return
	}

	doc, err := s.docs.Ingest(r.Context(), header.Filename, contentType, text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":             doc.ID,
		"filename":       doc.Filename,
		"chunks_created": doc.ChunkCount,
		"status":         "success",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument accepts a document id or a filename. A filename
// removes every document uploaded under it.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		err = s.docs.Delete(r.Context(), id)
	} else {
		err = s.docs.DeleteByFilename(r.Context(), ref)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
