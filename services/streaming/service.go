// Package streaming serves remote files to players: ranged passthrough for
// browser-native containers and an ffmpeg fragmented-MP4 pipeline for the
// rest.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"showtime/internal/metrics"
	"showtime/internal/storage"
	"showtime/models"
)

var (
	ErrPathRequired      = errors.New("path is required")
	ErrStorageIDRequired = errors.New("storage id is required")
)

// UnsupportedMediaError is returned for files that need transcoding while
// no transcoder is available.
type UnsupportedMediaError struct {
	Name string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("%s needs transcoding: %v", e.Name, ErrTranscodeUnavailable)
}

func (e *UnsupportedMediaError) Unwrap() error { return ErrTranscodeUnavailable }

// AdapterSource resolves a connected adapter, reconnecting when needed.
type AdapterSource interface {
	Adapter(ctx context.Context, id string, snapshot *models.StorageConfig) (storage.Adapter, error)
}

type Request struct {
	StorageID   string
	Path        string
	RangeHeader string
	Snapshot    *models.StorageConfig
	// HeadOnly skips opening the body.
	HeadOnly bool
	// Raw serves the file as stored, whatever its container.
	Raw bool
}

// Response is ready to be written to the client. Body is nil for HEAD
// requests and must be closed by the caller otherwise.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Mode   string
}

// Close releases the body, if any.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

type Service struct {
	adapters   AdapterSource
	transcoder *Transcoder
}

// NewService streams through adapters. A nil transcoder disables the
// transcode path.
func NewService(adapters AdapterSource, transcoder *Transcoder) *Service {
	return &Service{adapters: adapters, transcoder: transcoder}
}

// Transcoding reports whether non-native files can be served.
func (s *Service) Transcoding() bool { return s.transcoder != nil }

// Open resolves the adapter and prepares a direct or transcoded response.
func (s *Service) Open(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.StorageID) == "" {
		return nil, ErrStorageIDRequired
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, ErrPathRequired
	}
	name := storage.CleanPath(req.Path)

	adapter, err := s.adapters.Adapter(ctx, req.StorageID, req.Snapshot)
	if err != nil {
		return nil, err
	}

	if req.Raw || isNative(name) {
		return s.direct(ctx, adapter, name, req)
	}
	if s.transcoder == nil {
		return nil, &UnsupportedMediaError{Name: path.Base(name)}
	}
	return s.transcode(ctx, adapter, name, req)
}

func (s *Service) direct(ctx context.Context, adapter storage.Adapter, name string, req Request) (*Response, error) {
	size, err := adapter.FileSize(ctx, name)
	if err != nil {
		return nil, err
	}
	rng, err := ParseRange(req.RangeHeader, size)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Accept-Ranges", "bytes")
	resp := &Response{Status: http.StatusOK, Header: header, Mode: metrics.ModeDirect}
	length := size
	if rng != nil {
		resp.Status = http.StatusPartialContent
		length = rng.Length()
		header.Set("Content-Range", ContentRange(*rng, size))
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	ct, known := contentTypeFor(name)
	if known {
		header.Set("Content-Type", ct)
	}
	if req.HeadOnly {
		if !known {
			header.Set("Content-Type", "application/octet-stream")
		}
		return resp, nil
	}

	body, err := adapter.OpenStream(ctx, name, rng)
	if err != nil {
		return nil, err
	}
	if !known {
		sniffed, replay, err := sniff(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("sniff %s: %w", name, err)
		}
		header.Set("Content-Type", sniffed)
		body = replay
	}

	log.Printf("[stream] direct %s status=%d range=%q length=%d", name, resp.Status, req.RangeHeader, length)
	resp.Body = newMeteredBody(body, metrics.ModeDirect)
	return resp, nil
}

func (s *Service) transcode(ctx context.Context, adapter storage.Adapter, name string, req Request) (*Response, error) {
	header := make(http.Header)
	header.Set("Content-Type", "video/mp4")
	header.Set("Accept-Ranges", "none")
	resp := &Response{Status: http.StatusOK, Header: header, Mode: metrics.ModeTranscode}
	if req.HeadOnly {
		return resp, nil
	}

	if req.RangeHeader != "" {
		log.Printf("[stream] ignoring range %q for transcoded %s", req.RangeHeader, name)
	}
	source, err := adapter.OpenStream(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	session, err := s.transcoder.Start(ctx, name, source)
	if err != nil {
		return nil, err
	}

	log.Printf("[stream] transcoding %s", name)
	resp.Body = newMeteredBody(session, metrics.ModeTranscode)
	return resp, nil
}

// meteredBody counts bytes read by the client and keeps the active stream
// gauge while open.
type meteredBody struct {
	io.ReadCloser
	mode string
	once sync.Once
}

func newMeteredBody(body io.ReadCloser, mode string) *meteredBody {
	metrics.ActiveStreams.WithLabelValues(mode).Inc()
	return &meteredBody{ReadCloser: body, mode: mode}
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		metrics.StreamBytesTotal.WithLabelValues(b.mode).Add(float64(n))
	}
	return n, err
}

func (b *meteredBody) Close() error {
	var err error
	b.once.Do(func() {
		metrics.ActiveStreams.WithLabelValues(b.mode).Dec()
		err = b.ReadCloser.Close()
	})
	return err
}

// IsClientGone reports errors caused by the peer hanging up.
func IsClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) && netErr.Err != nil {
		if errors.Is(netErr.Err, os.ErrClosed) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
