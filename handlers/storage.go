package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"showtime/internal/storage"
	"showtime/models"
	"showtime/services/connections"
)

type storageConnections interface {
	Adapter(ctx context.Context, id string, snapshot *models.StorageConfig) (storage.Adapter, error)
	Connect(ctx context.Context, cfg models.StorageConfig) (models.StorageConnection, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (models.StorageConnection, error)
	Remove(id string) error
	List(ctx context.Context) []models.StorageConnection
	InitializeFromConfig(ctx context.Context) (int, error)
}

var _ storageConnections = (*connections.Resolver)(nil)

type mediaRemover interface {
	RemoveStorage(ctx context.Context, storageID string) (int64, error)
}

// StorageHandler manages storage connections and browses their files.
type StorageHandler struct {
	Connections storageConnections
	Library     mediaRemover
}

func NewStorageHandler(conns storageConnections, library mediaRemover) *StorageHandler {
	return &StorageHandler{Connections: conns, Library: library}
}

// Browse lists one directory of a storage connection.
func (h *StorageHandler) Browse(w http.ResponseWriter, r *http.Request) {
	storageID := strings.TrimSpace(r.URL.Query().Get("storageId"))
	if storageID == "" {
		writeJSONError(w, "storageId is required", http.StatusBadRequest)
		return
	}
	snapshot, err := snapshotFromHeader(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dir := storage.CleanPath(r.URL.Query().Get("path"))
	adapter, err := h.Connections.Adapter(r.Context(), storageID, snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := adapter.ListFiles(r.Context(), dir)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []models.FileEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    dir,
		"files":   files,
	})
}

func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"connections": h.Connections.List(r.Context()),
	})
}

// Connect saves a connection and connects it when enabled.
func (h *StorageHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var cfg models.StorageConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.Connections.Connect(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	conn.StorageConfig = conn.Redacted()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Storage connected successfully",
		"connection": conn,
	})
}

// Disconnect removes a connection together with its indexed media.
func (h *StorageHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.Connections.Remove(id); err != nil {
		writeError(w, err)
		return
	}

	var removed int64
	if h.Library != nil {
		n, err := h.Library.RemoveStorage(r.Context(), id)
		if err != nil {
			writeError(w, fmt.Errorf("remove media for %s: %w", id, err))
			return
		}
		removed = n
	}
	log.Printf("[storage] disconnected %s, removed %d media entries", id, removed)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Storage disconnected",
		"removed": removed,
	})
}

type toggleRequest struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func (h *StorageHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}
	if _, err := h.Connections.SetEnabled(r.Context(), req.ID, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Init connects everything the YAML storage config declares.
func (h *StorageHandler) Init(w http.ResponseWriter, r *http.Request) {
	n, err := h.Connections.InitializeFromConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Storage initialized from configuration",
		"connected": n,
	})
}
