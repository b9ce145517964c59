package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"showtime/models"
)

const defaultFTPPort = 21

// FTPAdapter keeps one control connection for listings and size lookups.
// FTP allows a single transfer per control connection, so every OpenStream
// dials its own connection and uses REST to start at the range offset.
type FTPAdapter struct {
	cfg models.StorageConfig

	mu   sync.Mutex
	conn *ftp.ServerConn
}

func NewFTPAdapter(cfg models.StorageConfig) *FTPAdapter {
	return &FTPAdapter{cfg: cfg}
}

func (a *FTPAdapter) Config() models.StorageConfig { return a.cfg }

func (a *FTPAdapter) addr() string {
	port := a.cfg.Port
	if port <= 0 {
		port = defaultFTPPort
	}
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(port))
}

// remote maps a logical path onto the server, below basePath. Duplicate
// slashes are collapsed.
func (a *FTPAdapter) remote(p string) string {
	base := strings.TrimSpace(a.cfg.BasePath)
	if base == "" {
		return CleanPath(p)
	}
	return path.Join(CleanPath(base), CleanPath(p))
}

func (a *FTPAdapter) dial(ctx context.Context) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if a.cfg.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: a.cfg.Host}))
	}

	conn, err := ftp.Dial(a.addr(), opts...)
	if err != nil {
		return nil, err
	}

	user, pass := a.cfg.Username, a.cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (a *FTPAdapter) Connect(ctx context.Context) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return &ConnectionError{Protocol: models.StorageFTP, Host: a.cfg.Host, Err: err}
	}
	if _, err := conn.List(a.remote("/")); err != nil {
		_ = conn.Quit()
		return &ConnectionError{Protocol: models.StorageFTP, Host: a.cfg.Host, Err: err}
	}

	a.mu.Lock()
	prev := a.conn
	a.conn = conn
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Quit()
	}
	return nil
}

func (a *FTPAdapter) Disconnect() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		if err := conn.Quit(); err != nil {
			log.Printf("[storage] ftp quit %s: %v", a.cfg.Host, err)
		}
	}
}

func (a *FTPAdapter) connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

func (a *FTPAdapter) ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error) {
	dir = CleanPath(dir)
	if err := ctx.Err(); err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, &ListError{Path: dir, Err: ErrNotConnected}
	}

	items, err := a.conn.List(a.remote(dir))
	if err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}
	return ftpEntries(dir, items), nil
}

func ftpEntries(dir string, items []*ftp.Entry) []models.FileEntry {
	entries := make([]models.FileEntry, 0, len(items))
	for _, item := range items {
		if item == nil || item.Name == "" || item.Name == "." || item.Name == ".." {
			continue
		}
		isDir := item.Type == ftp.EntryTypeFolder
		entries = append(entries, newEntry(dir, item.Name, isDir, int64(item.Size), item.Time))
	}
	return entries
}

func (a *FTPAdapter) OpenStream(ctx context.Context, name string, rng *Range) (io.ReadCloser, error) {
	name = CleanPath(name)
	if !a.connected() {
		return nil, ErrNotConnected
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return nil, &ConnectionError{Protocol: models.StorageFTP, Host: a.cfg.Host, Err: err}
	}

	var offset uint64
	if rng != nil && rng.Start > 0 {
		offset = uint64(rng.Start)
	}
	resp, err := conn.RetrFrom(a.remote(name), offset)
	if err != nil {
		_ = conn.Quit()
		if isFTPNotFound(err) {
			return nil, &NotFoundError{Path: name, Err: err}
		}
		return nil, err
	}

	closeFn := func() error {
		// Closing mid-transfer makes the server answer 426; that is expected
		// for ranged reads and not worth surfacing.
		_ = resp.Close()
		return conn.Quit()
	}
	return newRemoteStream(ctx, resp, rng, closeFn), nil
}

func (a *FTPAdapter) FileSize(ctx context.Context, name string) (int64, error) {
	name = CleanPath(name)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return 0, ErrNotConnected
	}

	size, err := a.conn.FileSize(a.remote(name))
	if err != nil {
		if isFTPNotFound(err) {
			return 0, &NotFoundError{Path: name, Err: err}
		}
		return 0, err
	}
	return size, nil
}

// Exists answers with SIZE and falls back to listing the parent, since most
// servers refuse SIZE on directories.
func (a *FTPAdapter) Exists(ctx context.Context, name string) bool {
	name = CleanPath(name)
	if _, err := a.FileSize(ctx, name); err == nil {
		return true
	}
	if name == "/" {
		return a.connected()
	}
	if ctx.Err() != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return false
	}
	items, err := a.conn.List(a.remote(path.Dir(name)))
	if err != nil {
		return false
	}
	return hasFTPEntry(items, path.Base(name))
}

func hasFTPEntry(items []*ftp.Entry, base string) bool {
	for _, item := range items {
		if item == nil || item.Name == "." || item.Name == ".." {
			continue
		}
		if path.Base(item.Name) == base {
			return true
		}
	}
	return false
}

func isFTPNotFound(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}
