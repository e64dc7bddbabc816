package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weblinq/weblinq-go/internal/middleware"
	"github.com/weblinq/weblinq-go/internal/types"
	"github.com/weblinq/weblinq-go/internal/useractor"
	"github.com/weblinq/weblinq-go/pkg/version"
)

// RegistryFiles adapts the per-user actor registry to the Files interface.
type RegistryFiles struct {
	Registry *useractor.Registry
}

// Record persists an artifact for the user.
func (f RegistryFiles) Record(ctx context.Context, userID, kind, sourceURL string, data []byte, metadata json.RawMessage, format string) (*types.FileRecord, error) {
	return f.Registry.For(userID).Record(ctx, kind, sourceURL, data, metadata, format)
}

// Get looks up one file record.
func (f RegistryFiles) Get(ctx context.Context, userID, fileID string) (*types.FileRecord, error) {
	return f.Registry.For(userID).Get(ctx, fileID)
}

// List pages through the user's file records.
func (f RegistryFiles) List(ctx context.Context, userID string, q types.FileListQuery) (*types.FileListData, error) {
	return f.Registry.For(userID).List(ctx, q)
}

// Delete removes a file record and optionally its stored object.
func (f RegistryFiles) Delete(ctx context.Context, userID, fileID string, alsoFromStorage bool) (*types.DeleteFileData, error) {
	return f.Registry.For(userID).Delete(ctx, fileID, alsoFromStorage)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := types.FileListQuery{
		Kind:   r.URL.Query().Get("type"),
		SortBy: r.URL.Query().Get("sort_by"),
		Order:  r.URL.Query().Get("order"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}

	data, err := s.files.List(r.Context(), middleware.UserID(r.Context()), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SuccessEnvelope(data, 0))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	rec, err := s.files.Get(r.Context(), middleware.UserID(r.Context()), fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SuccessEnvelope(rec, 0))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	alsoFromStorage, _ := strconv.ParseBool(r.URL.Query().Get("also_from_storage"))

	data, err := s.files.Delete(r.Context(), middleware.UserID(r.Context()), fileID, alsoFromStorage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SuccessEnvelope(data, 0))
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: version.Full()})
}
