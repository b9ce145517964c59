package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"showtime/internal/storage"
	"showtime/models"
	"showtime/services/library"
	"showtime/services/streaming"
)

const streamBufferSize = 512 * 1024

type streamService interface {
	Open(ctx context.Context, req streaming.Request) (*streaming.Response, error)
}

var _ streamService = (*streaming.Service)(nil)

type playRecorder interface {
	FindByPath(ctx context.Context, storageID, path string) (*models.IndexedMedia, error)
	MarkPlayed(ctx context.Context, id string) error
}

var _ playRecorder = (*library.Service)(nil)

// VideoHandler streams remote files, ranged or transcoded.
type VideoHandler struct {
	Streams streamService
	Plays   playRecorder
}

func NewVideoHandler(streams streamService, plays playRecorder) *VideoHandler {
	return &VideoHandler{Streams: streams, Plays: plays}
}

// StreamVideo serves GET and HEAD on the stream endpoint.
func (h *VideoHandler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	storageID := strings.TrimSpace(q.Get("storageId"))
	filePath := strings.TrimSpace(q.Get("path"))
	if storageID == "" || filePath == "" {
		writeJSONError(w, "storageId and path are required", http.StatusBadRequest)
		return
	}
	snapshot, err := snapshotFromHeader(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	req := streaming.Request{
		StorageID:   storageID,
		Path:        filePath,
		RangeHeader: rangeHeader,
		Snapshot:    snapshot,
		HeadOnly:    r.Method == http.MethodHead,
		Raw:         isTruthy(q.Get("raw")),
	}

	ctx := r.Context()
	resp, err := h.Streams.Open(ctx, req)
	if err != nil {
		var rangeErr *streaming.RangeError
		if errors.As(err, &rangeErr) {
			w.Header().Set("Content-Range", rangeErr.ContentRange())
		}
		log.Printf("[stream] open failed storage=%s path=%q range=%q err=%v", storageID, filePath, rangeHeader, err)
		writeError(w, err)
		return
	}
	defer resp.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	if resp.Body == nil {
		return
	}

	if startsAtBeginning(rangeHeader) {
		h.recordPlay(ctx, storageID, filePath)
	}

	total, err := copyStream(ctx, w, resp.Body)
	switch {
	case err == nil:
		log.Printf("[stream] complete storage=%s path=%q mode=%s bytes=%d", storageID, filePath, resp.Mode, total)
	case streaming.IsClientGone(err) || ctx.Err() != nil:
		log.Printf("[stream] client disconnected storage=%s path=%q bytes=%d", storageID, filePath, total)
	default:
		log.Printf("[stream] copy failed storage=%s path=%q bytes=%d err=%v", storageID, filePath, total, err)
	}
}

// copyStream writes body to w, flushing after every chunk so players can
// start before the response completes.
func copyStream(ctx context.Context, w http.ResponseWriter, body io.Reader) (int64, error) {
	buf := make([]byte, streamBufferSize)
	flusher, _ := w.(http.Flusher)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func (h *VideoHandler) recordPlay(ctx context.Context, storageID, filePath string) {
	if h.Plays == nil {
		return
	}
	row, err := h.Plays.FindByPath(ctx, storageID, storage.CleanPath(filePath))
	if err != nil {
		if !errors.Is(err, library.ErrMediaNotFound) {
			log.Printf("[stream] play lookup failed storage=%s path=%q: %v", storageID, filePath, err)
		}
		return
	}
	if err := h.Plays.MarkPlayed(ctx, row.ID); err != nil {
		log.Printf("[stream] mark played %s: %v", row.ID, err)
	}
}

// startsAtBeginning reports whether a request reads the file from byte 0,
// which counts as a play rather than a seek.
func startsAtBeginning(rangeHeader string) bool {
	if rangeHeader == "" {
		return true
	}
	byteRange := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(rangeHeader), "bytes="))
	return strings.HasPrefix(byteRange, "0-")
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
