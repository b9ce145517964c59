package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtime/models"
)

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"movie.mp4", true},
		{"Movie.MKV", true},
		{"clip.m4v", true},
		{"old.mpeg", true},
		{"old.mpg", true},
		{"show.webm", true},
		{"cover.jpg", false},
		{"subs.srt", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := IsVideoFile(tt.name); got != tt.want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":            "/",
		"/":           "/",
		"Movies":      "/Movies",
		"//Movies//a": "/Movies/a",
		`TV\Show`:     "/TV/Show",
		"/a/../b/":    "/b",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRangeLength(t *testing.T) {
	assert.Equal(t, int64(100), Range{Start: 100, End: 199}.Length())
	assert.Equal(t, int64(1), Range{Start: 5, End: 5}.Length())
	assert.Equal(t, int64(-1), Range{Start: 500, End: -1}.Length())
}

func TestSMBShareAndPrefix(t *testing.T) {
	tests := []struct {
		name       string
		cfg        models.StorageConfig
		wantShare  string
		wantPrefix string
	}{
		{"defaults", models.StorageConfig{}, "share", ""},
		{"base path is share", models.StorageConfig{BasePath: "/media"}, "media", ""},
		{"base path with subdir", models.StorageConfig{BasePath: `media\movies`}, "media", "movies"},
		{"explicit share", models.StorageConfig{ShareName: "video", BasePath: "/films/hd"}, "video", "films/hd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			share, prefix := smbShareAndPrefix(tt.cfg)
			assert.Equal(t, tt.wantShare, share)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestSMBRemotePath(t *testing.T) {
	a := NewSMBAdapter(models.StorageConfig{Host: "nas", BasePath: "media/movies"})
	assert.Equal(t, "movies", a.remote("/"))
	assert.Equal(t, `movies\Action\Heat (1995).mkv`, a.remote("/Action/Heat (1995).mkv"))

	b := NewSMBAdapter(models.StorageConfig{Host: "nas"})
	assert.Equal(t, "", b.remote("/"))
	assert.Equal(t, `TV\Show`, b.remote("TV/Show"))
}

func TestFTPRemotePathAndEntries(t *testing.T) {
	a := NewFTPAdapter(models.StorageConfig{Host: "ftp.local"})
	assert.Equal(t, "ftp.local:21", a.addr())
	assert.Equal(t, "/Movies/a.mkv", a.remote("//Movies//a.mkv"))

	b := NewFTPAdapter(models.StorageConfig{Host: "ftp.local", Port: 2121, BasePath: "/pub/"})
	assert.Equal(t, "ftp.local:2121", b.addr())
	assert.Equal(t, "/pub/Movies", b.remote("Movies"))

	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := ftpEntries("/Movies", []*ftp.Entry{
		{Name: ".", Type: ftp.EntryTypeFolder},
		{Name: "..", Type: ftp.EntryTypeFolder},
		{Name: "Extras", Type: ftp.EntryTypeFolder},
		{Name: "Heat.1995.mkv", Type: ftp.EntryTypeFile, Size: 4096, Time: mod},
		nil,
	})
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryDirectory, entries[0].Type)
	assert.Equal(t, "/Movies/Extras", entries[0].Path)
	assert.Equal(t, "/Movies/Heat.1995.mkv", entries[1].Path)
	assert.Equal(t, int64(4096), entries[1].Size)
	assert.True(t, entries[1].IsVideo)
	require.NotNil(t, entries[1].ModifiedAt)
	assert.True(t, entries[1].ModifiedAt.Equal(mod))
}

func TestFTPExistsMatchesDirectoriesInParentListing(t *testing.T) {
	items := []*ftp.Entry{
		{Name: ".", Type: ftp.EntryTypeFolder},
		{Name: "..", Type: ftp.EntryTypeFolder},
		{Name: "Extras", Type: ftp.EntryTypeFolder},
		{Name: "/Movies/Heat.1995.mkv", Type: ftp.EntryTypeFile},
		nil,
	}
	assert.True(t, hasFTPEntry(items, "Extras"))
	assert.True(t, hasFTPEntry(items, "Heat.1995.mkv"), "servers that list full paths still match")
	assert.False(t, hasFTPEntry(items, "Ronin.mkv"))
	assert.False(t, hasFTPEntry(items, ".."))

	unconnected := NewFTPAdapter(models.StorageConfig{Host: "h"})
	assert.False(t, unconnected.Exists(context.Background(), "/Movies/Extras"))
	assert.False(t, unconnected.Exists(context.Background(), "/"))
}

func TestUnconnectedAdaptersFail(t *testing.T) {
	ctx := context.Background()
	adapters := []Adapter{
		NewFTPAdapter(models.StorageConfig{Host: "h"}),
		NewSMBAdapter(models.StorageConfig{Host: "h"}),
		NewWebDAVAdapter(models.StorageConfig{Host: "h"}, nil),
	}
	for _, a := range adapters {
		_, err := a.ListFiles(ctx, "/")
		assert.ErrorIs(t, err, ErrNotConnected)
		_, err = a.OpenStream(ctx, "/a.mp4", nil)
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.False(t, a.Exists(ctx, "/a.mp4"))
		a.Disconnect()
	}
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestRemoteStreamLimitsRangeAndClosesOnce(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("0123456789")}
	rc := newRemoteStream(context.Background(), body, &Range{Start: 0, End: 3}, body.Close)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))

	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())
	assert.Equal(t, 1, body.closed)
}

func TestRemoteStreamClosesWhenContextEnds(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("data")}
	closed := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	_ = newRemoteStream(ctx, body, nil, func() error {
		close(closed)
		return nil
	})
	cancel()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after cancellation")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	nf := &NotFoundError{Path: "/x.mkv"}
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Contains(t, nf.Error(), "/x.mkv")

	cause := errors.New("eof")
	le := &ListError{Path: "/d", Err: cause}
	assert.ErrorIs(t, le, cause)

	ce := &ConnectionError{Protocol: models.StorageSMB, Host: "nas", Err: cause}
	assert.Equal(t, "smb connect nas: eof", ce.Error())
	assert.ErrorIs(t, ce, cause)

	assert.Equal(t, `unsupported storage type: "nfs"`, (&UnsupportedTypeError{Type: "nfs"}).Error())
}
