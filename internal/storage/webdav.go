package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/studio-b12/gowebdav"

	"showtime/models"
)

// WebDAVAdapter talks to a WebDAV server over HTTP(S). Ranged reads use the
// HTTP Range header.
type WebDAVAdapter struct {
	cfg       models.StorageConfig
	transport http.RoundTripper

	mu     sync.RWMutex
	client *gowebdav.Client
}

// NewWebDAVAdapter returns an unconnected adapter. transport may be nil.
func NewWebDAVAdapter(cfg models.StorageConfig, transport http.RoundTripper) *WebDAVAdapter {
	return &WebDAVAdapter{cfg: cfg, transport: transport}
}

func (a *WebDAVAdapter) Config() models.StorageConfig { return a.cfg }

// baseURL builds http(s)://host[:port]basePath. A host that already carries
// a scheme is used as is.
func (a *WebDAVAdapter) baseURL() string {
	host := strings.TrimRight(a.cfg.Host, "/")
	if !strings.Contains(host, "://") {
		scheme := "http"
		if a.cfg.Secure {
			scheme = "https"
		}
		if a.cfg.Port > 0 {
			host = net.JoinHostPort(host, strconv.Itoa(a.cfg.Port))
		}
		host = scheme + "://" + host
	}
	base := strings.TrimSpace(a.cfg.BasePath)
	if base == "" || base == "/" {
		return host
	}
	return host + CleanPath(base)
}

func (a *WebDAVAdapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Protocol: models.StorageWebDAV, Host: a.cfg.Host, Err: err}
	}

	client := gowebdav.NewClient(a.baseURL(), a.cfg.Username, a.cfg.Password)
	if a.transport != nil {
		client.SetTransport(a.transport)
	}
	if _, err := client.ReadDir("/"); err != nil {
		return &ConnectionError{Protocol: models.StorageWebDAV, Host: a.cfg.Host, Err: err}
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	return nil
}

func (a *WebDAVAdapter) Disconnect() {
	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()
}

func (a *WebDAVAdapter) session() *gowebdav.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

func (a *WebDAVAdapter) ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error) {
	dir = CleanPath(dir)
	client := a.session()
	if client == nil {
		return nil, &ListError{Path: dir, Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}

	infos, err := client.ReadDir(dir)
	if err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "" || name == "." || name == ".." {
			continue
		}
		entries = append(entries, newEntry(dir, name, info.IsDir(), info.Size(), info.ModTime()))
	}
	return entries, nil
}

func (a *WebDAVAdapter) OpenStream(ctx context.Context, name string, rng *Range) (io.ReadCloser, error) {
	name = CleanPath(name)
	client := a.session()
	if client == nil {
		return nil, ErrNotConnected
	}

	var (
		body io.ReadCloser
		err  error
	)
	if rng == nil {
		body, err = client.ReadStream(name)
	} else {
		length := rng.Length()
		if length < 0 {
			length = 0 // gowebdav reads to EOF for a zero length
		}
		body, err = client.ReadStreamRange(name, rng.Start, length)
	}
	if err != nil {
		if isWebDAVNotFound(err) {
			return nil, &NotFoundError{Path: name, Err: err}
		}
		return nil, err
	}
	return newRemoteStream(ctx, body, rng, body.Close), nil
}

func (a *WebDAVAdapter) FileSize(ctx context.Context, name string) (int64, error) {
	name = CleanPath(name)
	client := a.session()
	if client == nil {
		return 0, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := client.Stat(name)
	if err != nil {
		if isWebDAVNotFound(err) {
			return 0, &NotFoundError{Path: name, Err: err}
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, ErrIsDirectory
	}
	return info.Size(), nil
}

func (a *WebDAVAdapter) Exists(ctx context.Context, name string) bool {
	client := a.session()
	if client == nil || ctx.Err() != nil {
		return false
	}
	_, err := client.Stat(CleanPath(name))
	return err == nil
}

func isWebDAVNotFound(err error) bool {
	return gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist)
}
