package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"showtime/config"
	"showtime/internal/storage"
	"showtime/models"
	"showtime/services/connections"
	"showtime/services/library"
	"showtime/services/metadata"
	"showtime/services/streaming"
)

// StorageConfigHeader carries a JSON connection snapshot so a request can
// reconnect an adapter the server no longer has.
const StorageConfigHeader = "X-Storage-Config"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps err onto the status taxonomy and writes it.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[api] request failed: %v", err)
	}
	writeJSONError(w, err.Error(), status)
}

func statusFor(err error) int {
	var (
		connErr        *storage.ConnectionError
		unsupportedErr *storage.UnsupportedTypeError
		mediaErr       *streaming.UnsupportedMediaError
		rangeErr       *streaming.RangeError
		providerErr    *metadata.StatusError
	)
	switch {
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	case errors.As(err, &unsupportedErr), isValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &mediaErr):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &rangeErr):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, connections.ErrUnknownStorage),
		errors.Is(err, connections.ErrNotFound),
		errors.Is(err, library.ErrMediaNotFound),
		errors.Is(err, config.ErrNoStorageConfig):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrIsDirectory):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrIndexInProgress), errors.Is(err, connections.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, metadata.ErrTMDBNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &providerErr):
		if providerErr.Code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		models.ErrStorageIDRequired,
		models.ErrStorageNameRequired,
		models.ErrStorageHostRequired,
		models.ErrStorageTypeInvalid,
		library.ErrStorageIDRequired,
		streaming.ErrStorageIDRequired,
		streaming.ErrPathRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// snapshotFromHeader parses the optional connection snapshot header.
func snapshotFromHeader(r *http.Request) (*models.StorageConfig, error) {
	raw := strings.TrimSpace(r.Header.Get(StorageConfigHeader))
	if raw == "" {
		return nil, nil
	}
	var cfg models.StorageConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", StorageConfigHeader, err)
	}
	return &cfg, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func queryKind(r *http.Request, fallback models.MediaKind) models.MediaKind {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type"))) {
	case "tv", "series", "show":
		return models.KindTV
	case "movie", "movies":
		return models.KindMovie
	case "all":
		return ""
	default:
		return fallback
	}
}
