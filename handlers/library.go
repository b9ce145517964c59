package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"showtime/internal/storage"
	"showtime/models"
	"showtime/services/connections"
	"showtime/services/library"
)

type libraryService interface {
	Index(ctx context.Context, req library.IndexRequest) (library.IndexResult, error)
	Stats(ctx context.Context) (models.LibraryStats, error)
	List(ctx context.Context, q library.ListQuery) (models.MediaPage, error)
	Get(ctx context.Context, id string) (models.MediaDetail, error)
	Count(ctx context.Context, storageID string) (int64, error)
	Clear(ctx context.Context) (int64, error)
}

var _ libraryService = (*library.Service)(nil)

type indexTargets interface {
	Adapter(ctx context.Context, id string, snapshot *models.StorageConfig) (storage.Adapter, error)
	RecordIndexed(id string, stats connections.IndexStats)
}

var _ indexTargets = (*connections.Resolver)(nil)

// LibraryHandler runs index passes and serves the media catalog.
type LibraryHandler struct {
	Library     libraryService
	Connections indexTargets
	now         func() time.Time
}

func NewLibraryHandler(lib libraryService, conns indexTargets) *LibraryHandler {
	return &LibraryHandler{Library: lib, Connections: conns, now: time.Now}
}

type indexRequest struct {
	StorageID    string `json:"storageId"`
	ForceReindex bool   `json:"forceReindex"`
}

// Index performs one synchronous index pass over a storage connection.
func (h *LibraryHandler) Index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.StorageID = strings.TrimSpace(req.StorageID)
	if req.StorageID == "" {
		writeJSONError(w, "storageId is required", http.StatusBadRequest)
		return
	}
	snapshot, err := snapshotFromHeader(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	adapter, err := h.Connections.Adapter(r.Context(), req.StorageID, snapshot)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.Library.Index(r.Context(), library.IndexRequest{
		StorageID:    req.StorageID,
		StorageName:  adapter.Config().Name,
		Adapter:      adapter,
		ForceReindex: req.ForceReindex,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := h.Library.Count(r.Context(), req.StorageID)
	if err != nil {
		log.Printf("[indexer] count media for %s: %v", req.StorageID, err)
	} else {
		h.Connections.RecordIndexed(req.StorageID, connections.IndexStats{At: h.now(), MediaCount: int(count)})
	}

	message := fmt.Sprintf("Indexed %d new files", result.Indexed)
	if req.ForceReindex {
		message = fmt.Sprintf("Re-indexed %d files", result.Indexed)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"indexed": result.Indexed,
		"message": message,
		"result":  result,
	})
}

func (h *LibraryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Library.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// ListMedia pages the catalog; series are grouped with their episodes.
func (h *LibraryHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	page, err := h.Library.List(r.Context(), library.ListQuery{
		Type:   queryKind(r, ""),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  queryInt(r, "limit", 0),
		Skip:   queryInt(r, "skip", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if page.Media == nil {
		page.Media = []models.MediaGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"media":   page.Media,
		"total":   page.Total,
		"hasMore": page.HasMore,
	})
}

func (h *LibraryHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}
	detail, err := h.Library.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "media": detail})
}

func (h *LibraryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.Library.Clear(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("[indexer] cleared %d media entries", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": n,
		"message": fmt.Sprintf("Cleared %d media entries", n),
	})
}
