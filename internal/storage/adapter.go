// Package storage gives WebDAV, FTP and SMB stores one listing and
// streaming contract, and keeps the process-wide table of live adapters.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"showtime/models"
)

//go:generate mockgen -source=adapter.go -destination=mock_adapter_test.go -package=storage

// Adapter is a connected session against one remote store.
//
// Streams returned by OpenStream are pull-based: bytes are read from the
// network only as the caller reads, and the stream is closed when ctx ends.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect()
	ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error)
	OpenStream(ctx context.Context, name string, rng *Range) (io.ReadCloser, error)
	FileSize(ctx context.Context, name string) (int64, error)
	Exists(ctx context.Context, name string) bool
	Config() models.StorageConfig
}

// Range is an inclusive byte range. End < 0 reads to EOF.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered, or -1 when open-ended.
func (r Range) Length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
}

// IsVideoFile reports whether name carries a known video extension.
func IsVideoFile(name string) bool {
	_, ok := videoExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// CleanPath returns an absolute, slash-separated remote path.
func CleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	return path.Clean("/" + p)
}

func joinPath(dir, name string) string {
	return path.Join(CleanPath(dir), name)
}

func newEntry(dir, name string, isDir bool, size int64, mod time.Time) models.FileEntry {
	entry := models.FileEntry{
		Name: name,
		Path: joinPath(dir, name),
		Type: models.EntryFile,
	}
	if isDir {
		entry.Type = models.EntryDirectory
	} else {
		entry.Size = size
		entry.IsVideo = IsVideoFile(name)
	}
	if !mod.IsZero() {
		mod = mod.UTC()
		entry.ModifiedAt = &mod
	}
	return entry
}
