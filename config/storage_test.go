package config

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"showtime/models"
)

const sampleStorageYAML = `
connections:
  - id: nas
    type: WebDAV
    name: " NAS "
    host: nas.local
    port: 8080
    username: media
    password: secret
    basePath: /videos
  - id: ftp-box
    type: ftp
    name: FTP box
    host: ftp.local
    enabled: false
  - id: broken
    type: gopher
    name: Broken
    host: old.local
  - id: smb
    type: smb
    name: Windows share
    host: 10.0.0.5
    shareName: Movies
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStorageSourceFiltersAndValidates(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "storage.config.yaml")
	writeFile(t, cfgPath, sampleStorageYAML)

	src := NewStorageSource(StorageSettings{ConfigPath: cfgPath, CacheTTLSeconds: 30}, nil)
	configs, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 usable connections, got %d: %+v", len(configs), configs)
	}
	nas := configs[0]
	if nas.Type != models.StorageWebDAV || nas.Name != "NAS" || nas.Port != 8080 || nas.BasePath != "/videos" {
		t.Fatalf("unexpected nas config: %+v", nas)
	}
	if configs[1].ShareName != "Movies" {
		t.Fatalf("unexpected smb config: %+v", configs[1])
	}

	cfg, ok, err := src.ByID(context.Background(), "smb")
	if err != nil || !ok || cfg.Host != "10.0.0.5" {
		t.Fatalf("ByID(smb) = %+v %v %v", cfg, ok, err)
	}
	if _, ok, _ := src.ByID(context.Background(), "ftp-box"); ok {
		t.Fatal("disabled connection must not be returned")
	}
}

func TestStorageSourceFallsBackToExample(t *testing.T) {
	dir := t.TempDir()
	example := filepath.Join(dir, "storage.config.example.yaml")
	writeFile(t, example, "connections:\n  - {id: demo, type: ftp, name: Demo, host: demo.local}\n")

	src := NewStorageSource(StorageSettings{
		ConfigPath:        filepath.Join(dir, "storage.config.yaml"),
		ExampleConfigPath: example,
	}, nil)
	configs, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(configs) != 1 || configs[0].ID != "demo" {
		t.Fatalf("unexpected configs %+v", configs)
	}
}

func TestStorageSourceMissingFiles(t *testing.T) {
	dir := t.TempDir()
	src := NewStorageSource(StorageSettings{ConfigPath: filepath.Join(dir, "none.yaml")}, nil)
	if _, err := src.Load(context.Background()); !errors.Is(err, ErrNoStorageConfig) {
		t.Fatalf("expected ErrNoStorageConfig, got %v", err)
	}
}

func TestStorageSourceCachesUntilTTL(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "storage.config.yaml")
	writeFile(t, cfgPath, "connections:\n  - {id: a, type: ftp, name: A, host: a.local}\n")

	src := NewStorageSource(StorageSettings{ConfigPath: cfgPath, CacheTTLSeconds: 30}, nil)
	now := time.Now()
	src.now = func() time.Time { return now }

	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, cfgPath, "connections:\n  - {id: b, type: ftp, name: B, host: b.local}\n")

	configs, _ := src.Load(context.Background())
	if configs[0].ID != "a" {
		t.Fatalf("expected cached result, got %s", configs[0].ID)
	}

	now = now.Add(31 * time.Second)
	configs, _ = src.Load(context.Background())
	if configs[0].ID != "b" {
		t.Fatalf("expected reload after ttl, got %s", configs[0].ID)
	}

	writeFile(t, cfgPath, "connections:\n  - {id: c, type: ftp, name: C, host: c.local}\n")
	src.Invalidate()
	configs, _ = src.Load(context.Background())
	if configs[0].ID != "c" {
		t.Fatalf("expected reload after invalidate, got %s", configs[0].ID)
	}
}

func TestStorageSourceFetchesURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("connections:\n  - {id: remote, type: webdav, name: Remote, host: dav.example}\n"))
	}))
	defer srv.Close()

	src := NewStorageSource(StorageSettings{ConfigPath: "ignored.yaml", ConfigURL: srv.URL, CacheTTLSeconds: 30}, srv.Client())
	if paths := src.Paths(); paths != nil {
		t.Fatalf("remote source has no local paths, got %v", paths)
	}
	for i := 0; i < 2; i++ {
		configs, err := src.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(configs) != 1 || configs[0].ID != "remote" {
			t.Fatalf("unexpected configs %+v", configs)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one fetch inside ttl, got %d", hits.Load())
	}
}

func TestStorageSourceURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewStorageSource(StorageSettings{ConfigURL: srv.URL}, srv.Client())
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWatchStorageFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "storage.config.yaml")
	writeFile(t, cfgPath, "connections: []\n")

	src := NewStorageSource(StorageSettings{ConfigPath: cfgPath, CacheTTLSeconds: 3600}, nil)
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	if err := WatchStorage(ctx, src, func(context.Context) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("WatchStorage: %v", err)
	}

	writeFile(t, cfgPath, "connections:\n  - {id: new, type: ftp, name: New, host: new.local}\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
	configs, err := src.Load(context.Background())
	if err != nil || len(configs) != 1 || configs[0].ID != "new" {
		t.Fatalf("expected invalidated cache to reload, got %+v %v", configs, err)
	}
}
