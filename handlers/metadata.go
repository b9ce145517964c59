package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"showtime/models"
	metadatapkg "showtime/services/metadata"
)

type metadataService interface {
	SearchTMDB(ctx context.Context, query string, kind models.MediaKind) ([]models.MetadataSearchResult, error)
	TMDBDetails(ctx context.Context, id int64, kind models.MediaKind) (*models.MediaMetadata, error)
}

var _ metadataService = (*metadatapkg.Service)(nil)

type MetadataHandler struct {
	Service metadataService
}

func NewMetadataHandler(s metadataService) *MetadataHandler {
	return &MetadataHandler{Service: s}
}

// Search proxies a TMDB title search.
func (h *MetadataHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSONError(w, "query is required", http.StatusBadRequest)
		return
	}
	results, err := h.Service.SearchTMDB(r.Context(), query, tmdbKind(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []models.MetadataSearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *MetadataHandler) Details(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("id"))
	if raw == "" {
		writeJSONError(w, "id is required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}
	md, err := h.Service.TMDBDetails(r.Context(), id, tmdbKind(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "metadata": md})
}

// tmdbKind defaults to movie; "all" is not a TMDB search type.
func tmdbKind(r *http.Request) models.MediaKind {
	if kind := queryKind(r, models.KindMovie); kind != "" {
		return kind
	}
	return models.KindMovie
}
