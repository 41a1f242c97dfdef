package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/catalog"
)

type filesResponse struct {
	catalog.Listing
	Error string `json:"error,omitempty"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	listing, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		s.logger.Warn("File listing failed", zap.Error(err))
		// Still 200 so the page can render the message.
		writeJSON(w, http.StatusOK, filesResponse{
			Listing: catalog.Listing{Files: []catalog.Entry{}},
			Error:   "storage not available",
		})
		return
	}
	writeJSON(w, http.StatusOK, filesResponse{Listing: listing})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	m, err := s.deps.Catalog.Read(r.Context(), name)
	switch {
	case errors.Is(err, catalog.ErrInvalidName):
		http.Error(w, "invalid name", http.StatusBadRequest)
		return
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, "file not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("Failed to open file", zap.String("name", name), zap.Error(err))
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer m.Body.Close()

	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": m.Name}))
	if m.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(m.Size, 10))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, m.Body); err != nil {
		s.logger.Warn("File transfer interrupted", zap.String("name", name), zap.Error(err))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodDelete, http.MethodPost) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeFail(w, http.StatusBadRequest, "missing file name")
		return
	}

	err := s.deps.Catalog.Delete(r.Context(), name)
	switch {
	case errors.Is(err, catalog.ErrInvalidName):
		writeFail(w, http.StatusBadRequest, "invalid name")
		return
	case errors.Is(err, catalog.ErrNotFound):
		writeFail(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		s.logger.Warn("Delete failed", zap.String("name", name), zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "could not delete file")
		return
	}
	s.forget(r.Context(), name)
	writeOK(w)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodDelete, http.MethodPost) {
		return
	}
	n, err := s.deps.Catalog.DeleteAll(r.Context())
	if err != nil {
		s.logger.Warn("Delete all failed", zap.Int("deleted", n), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, okResponse{OK: false, Deleted: &n, Error: "storage not available"})
		return
	}
	s.forget(r.Context(), "")
	writeJSON(w, http.StatusOK, okResponse{OK: true, Deleted: &n})
}

func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"mounted": s.deps.Catalog.Mounted(r.Context())})
}

// forget marks deleted files in the journal. An empty name means all.
func (s *Server) forget(ctx context.Context, name string) {
	if s.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.deps.Journal.Forget(ctx, name); err != nil {
		s.logger.Warn("Journal update failed", zap.String("name", name), zap.Error(err))
	}
}
