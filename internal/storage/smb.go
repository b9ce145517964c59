package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/hirochachacha/go-smb2"

	"showtime/models"
)

const (
	defaultSMBPort   = 445
	defaultSMBShare  = "share"
	defaultSMBDomain = "WORKGROUP"
)

// SMBAdapter mounts one share over SMB2/3. Ranged reads seek the open file.
type SMBAdapter struct {
	cfg    models.StorageConfig
	share  string
	prefix string

	mu      sync.RWMutex
	conn    net.Conn
	session *smb2.Session
	mount   *smb2.Share
}

func NewSMBAdapter(cfg models.StorageConfig) *SMBAdapter {
	share, prefix := smbShareAndPrefix(cfg)
	return &SMBAdapter{cfg: cfg, share: share, prefix: prefix}
}

func (a *SMBAdapter) Config() models.StorageConfig { return a.cfg }

// smbShareAndPrefix picks the share name (shareName, else the first basePath
// segment, else "share") and the directory prefix inside it.
func smbShareAndPrefix(cfg models.StorageConfig) (string, string) {
	base := strings.Trim(strings.ReplaceAll(cfg.BasePath, `\`, "/"), "/")
	if share := strings.Trim(cfg.ShareName, `\/ `); share != "" {
		return share, base
	}
	if base == "" {
		return defaultSMBShare, ""
	}
	share, rest, _ := strings.Cut(base, "/")
	return share, rest
}

// remote converts a logical path to a share-relative backslash path.
func (a *SMBAdapter) remote(p string) string {
	rel := strings.TrimPrefix(CleanPath(p), "/")
	if a.prefix != "" {
		rel = strings.Trim(a.prefix+"/"+rel, "/")
	}
	return strings.ReplaceAll(rel, "/", `\`)
}

func (a *SMBAdapter) addr() string {
	port := a.cfg.Port
	if port <= 0 {
		port = defaultSMBPort
	}
	return net.JoinHostPort(a.cfg.Host, strconv.Itoa(port))
}

func (a *SMBAdapter) Connect(ctx context.Context) error {
	fail := func(err error) error {
		return &ConnectionError{Protocol: models.StorageSMB, Host: a.cfg.Host, Err: err}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.addr())
	if err != nil {
		return fail(err)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     a.cfg.Username,
			Password: a.cfg.Password,
			Domain:   defaultSMBDomain,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fail(err)
	}

	mount, err := session.Mount(fmt.Sprintf(`\\%s\%s`, a.cfg.Host, a.share))
	if err != nil {
		_ = session.Logoff()
		conn.Close()
		return fail(err)
	}

	if _, err := mount.WithContext(ctx).ReadDir(a.remote("/")); err != nil {
		_ = mount.Umount()
		_ = session.Logoff()
		conn.Close()
		return fail(err)
	}

	a.mu.Lock()
	prevConn, prevSession, prevMount := a.conn, a.session, a.mount
	a.conn, a.session, a.mount = conn, session, mount
	a.mu.Unlock()
	closeSMB(prevConn, prevSession, prevMount)
	return nil
}

func (a *SMBAdapter) Disconnect() {
	a.mu.Lock()
	conn, session, mount := a.conn, a.session, a.mount
	a.conn, a.session, a.mount = nil, nil, nil
	a.mu.Unlock()
	closeSMB(conn, session, mount)
}

func closeSMB(conn net.Conn, session *smb2.Session, mount *smb2.Share) {
	if mount != nil {
		_ = mount.Umount()
	}
	if session != nil {
		_ = session.Logoff()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (a *SMBAdapter) shareFor(ctx context.Context) *smb2.Share {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.mount == nil {
		return nil
	}
	return a.mount.WithContext(ctx)
}

func (a *SMBAdapter) ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error) {
	dir = CleanPath(dir)
	mount := a.shareFor(ctx)
	if mount == nil {
		return nil, &ListError{Path: dir, Err: ErrNotConnected}
	}

	infos, err := mount.ReadDir(a.remote(dir))
	if err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}

	entries := make([]models.FileEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, newEntry(dir, name, info.IsDir(), info.Size(), info.ModTime()))
	}
	return entries, nil
}

func (a *SMBAdapter) OpenStream(ctx context.Context, name string, rng *Range) (io.ReadCloser, error) {
	name = CleanPath(name)
	mount := a.shareFor(ctx)
	if mount == nil {
		return nil, ErrNotConnected
	}

	f, err := mount.Open(a.remote(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: name, Err: err}
		}
		return nil, err
	}
	if rng != nil && rng.Start > 0 {
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s: %w", name, err)
		}
	}
	return newRemoteStream(ctx, f, rng, f.Close), nil
}

func (a *SMBAdapter) FileSize(ctx context.Context, name string) (int64, error) {
	name = CleanPath(name)
	mount := a.shareFor(ctx)
	if mount == nil {
		return 0, ErrNotConnected
	}

	info, err := mount.Stat(a.remote(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &NotFoundError{Path: name, Err: err}
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, ErrIsDirectory
	}
	return info.Size(), nil
}

func (a *SMBAdapter) Exists(ctx context.Context, name string) bool {
	mount := a.shareFor(ctx)
	if mount == nil {
		return false
	}
	_, err := mount.Stat(a.remote(name))
	return err == nil
}
