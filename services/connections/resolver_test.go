package connections

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtime/internal/storage"
	"showtime/models"
)

type stubAdapter struct {
	cfg models.StorageConfig
}

func (a *stubAdapter) Connect(context.Context) error { return nil }
func (a *stubAdapter) Disconnect() {}
func (a *stubAdapter) ListFiles(context.Context, string) ([]models.FileEntry, error) {
	return nil, nil
}
func (a *stubAdapter) OpenStream(context.Context, string, *storage.Range) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}
func (a *stubAdapter) FileSize(context.Context, string) (int64, error) { return 0, nil }
func (a *stubAdapter) Exists(context.Context, string) bool { return false }
func (a *stubAdapter) Config() models.StorageConfig { return a.cfg }

type fakeRegistry struct {
	mu       sync.Mutex
	adapters map[string]*stubAdapter
	connects atomic.Int32
	fail     error
	delay    time.Duration
	gate     chan struct{}
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{adapters: make(map[string]*stubAdapter)}
}

func (r *fakeRegistry) Get(id string) (storage.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, false
	}
	return a, true
}

func (r *fakeRegistry) Connect(ctx context.Context, cfg models.StorageConfig) (storage.Adapter, error) {
	r.connects.Add(1)
	time.Sleep(r.delay)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fail != nil {
		return nil, r.fail
	}
	a := &stubAdapter{cfg: cfg}
	r.mu.Lock()
	r.adapters[cfg.ID] = a
	r.mu.Unlock()
	return a, nil
}

func (r *fakeRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.adapters, id)
	r.mu.Unlock()
}

func (r *fakeRegistry) InitializeFromConfig(ctx context.Context, cfgs []models.StorageConfig) int {
	n := 0
	for _, cfg := range cfgs {
		if _, err := r.Connect(ctx, cfg); err == nil {
			n++
		}
	}
	return n
}

type fakeSource struct {
	cfgs []models.StorageConfig
	err  error
}

func (s *fakeSource) Load(context.Context) ([]models.StorageConfig, error) {
	return s.cfgs, s.err
}

func (s *fakeSource) ByID(_ context.Context, id string) (models.StorageConfig, bool, error) {
	if s.err != nil {
		return models.StorageConfig{}, false, s.err
	}
	for _, c := range s.cfgs {
		if c.ID == id {
			return c, true, nil
		}
	}
	return models.StorageConfig{}, false, nil
}

func ftpConfig(id, host string) models.StorageConfig {
	return models.StorageConfig{ID: id, Type: models.StorageFTP, Name: "FTP " + id, Host: host}
}

func TestAdapterPrefersRegistered(t *testing.T) {
	reg := newFakeRegistry()
	reg.adapters["a"] = &stubAdapter{cfg: ftpConfig("a", "one")}
	r := newResolver(reg, &fakeSource{}, nil)

	a, err := r.Adapter(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", a.Config().Host)
	assert.EqualValues(t, 0, reg.connects.Load())
}

func TestAdapterLookupOrder(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	_, err = store.Save(ftpConfig("saved", "from-store"))
	require.NoError(t, err)
	_, err = store.Save(ftpConfig("both", "store-host"))
	require.NoError(t, err)

	source := &fakeSource{cfgs: []models.StorageConfig{ftpConfig("both", "yaml-host")}}
	r := newResolver(newFakeRegistry(), source, store)
	ctx := context.Background()

	a, err := r.Adapter(ctx, "both", nil)
	require.NoError(t, err)
	assert.Equal(t, "yaml-host", a.Config().Host, "yaml wins over saved snapshot")

	a, err = r.Adapter(ctx, "saved", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-store", a.Config().Host)

	snap := ftpConfig("snap", "from-header")
	a, err = r.Adapter(ctx, "snap", &snap)
	require.NoError(t, err)
	assert.Equal(t, "from-header", a.Config().Host)

	_, err = r.Adapter(ctx, "nobody", nil)
	assert.ErrorIs(t, err, ErrUnknownStorage)
}

func TestAdapterReconnectsOnChangedSnapshot(t *testing.T) {
	reg := newFakeRegistry()
	reg.adapters["a"] = &stubAdapter{cfg: ftpConfig("a", "old")}
	r := newResolver(reg, nil, nil)

	same := ftpConfig("a", "old")
	_, err := r.Adapter(context.Background(), "a", &same)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reg.connects.Load())

	changed := ftpConfig("a", "new")
	a, err := r.Adapter(context.Background(), "a", &changed)
	require.NoError(t, err)
	assert.Equal(t, "new", a.Config().Host)
	assert.EqualValues(t, 1, reg.connects.Load())
}

// passwordAdapter refuses to connect without a password, like an FTP server
// rejecting an anonymous login.
type passwordAdapter struct {
	stubAdapter
	connected *atomic.Bool
}

func (a *passwordAdapter) Connect(context.Context) error {
	if a.cfg.Password == "" {
		return &storage.ConnectionError{Protocol: a.cfg.Type, Host: a.cfg.Host, Err: errors.New("530 login incorrect")}
	}
	a.connected.Store(true)
	return nil
}

func (a *passwordAdapter) Disconnect() { a.connected.Store(false) }

func newPasswordRegistry() *storage.Registry {
	build := func(cfg models.StorageConfig) storage.Adapter {
		return &passwordAdapter{stubAdapter: stubAdapter{cfg: cfg}, connected: &atomic.Bool{}}
	}
	return storage.NewRegistry(map[models.StorageType]storage.Factory{models.StorageFTP: build})
}

func TestAdapterRedactedSnapshotKeepsLiveSession(t *testing.T) {
	ctx := context.Background()
	secured := ftpConfig("a", "nas")
	secured.Username = "media"
	secured.Password = "pw"
	reg := newPasswordRegistry()
	r := NewResolver(reg, &fakeSource{cfgs: []models.StorageConfig{secured}}, nil)

	n, err := r.InitializeFromConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	live, ok := reg.Get("a")
	require.True(t, ok)

	listed := r.List(ctx)
	require.Len(t, listed, 1)
	require.Empty(t, listed[0].Password)

	got, err := r.Adapter(ctx, "a", &listed[0].StorageConfig)
	require.NoError(t, err)
	assert.Same(t, live, got)
	assert.True(t, live.(*passwordAdapter).connected.Load(), "live session must stay connected")
}

func TestAdapterRedactedSnapshotUsesStoredPassword(t *testing.T) {
	ctx := context.Background()
	secured := ftpConfig("a", "nas")
	secured.Password = "pw"
	reg := newPasswordRegistry()
	r := NewResolver(reg, &fakeSource{cfgs: []models.StorageConfig{secured}}, nil)

	moved := ftpConfig("a", "nas2")
	a, err := r.Adapter(ctx, "a", &moved)
	require.NoError(t, err)
	assert.Equal(t, "nas2", a.Config().Host)
	assert.Equal(t, "pw", a.Config().Password)
}

func TestAdapterFailedReconnectKeepsLiveSession(t *testing.T) {
	ctx := context.Background()
	reg := newPasswordRegistry()
	r := NewResolver(reg, nil, nil)

	secured := ftpConfig("a", "nas")
	secured.Password = "pw"
	live, err := r.Adapter(ctx, "a", &secured)
	require.NoError(t, err)

	other := ftpConfig("a", "elsewhere")
	_, err = r.Adapter(ctx, "a", &other)
	var connErr *storage.ConnectionError
	require.ErrorAs(t, err, &connErr)

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, live, got)
	assert.True(t, live.(*passwordAdapter).connected.Load())
}

func TestAdapterDisabledSnapshotRejected(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	_, err = store.Save(ftpConfig("off", "h"))
	require.NoError(t, err)
	_, err = store.SetEnabled("off", false)
	require.NoError(t, err)

	r := newResolver(newFakeRegistry(), nil, store)
	_, err = r.Adapter(context.Background(), "off", nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestAdapterConcurrentCallersShareConnect(t *testing.T) {
	reg := newFakeRegistry()
	reg.delay = 20 * time.Millisecond
	r := newResolver(reg, &fakeSource{cfgs: []models.StorageConfig{ftpConfig("a", "h")}}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Adapter(context.Background(), "a", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, reg.connects.Load())
}

func TestAdapterSharedConnectSurvivesCallerCancel(t *testing.T) {
	reg := newFakeRegistry()
	reg.gate = make(chan struct{})
	r := newResolver(reg, &fakeSource{cfgs: []models.StorageConfig{ftpConfig("a", "h")}}, nil)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Adapter(first, "a", nil)
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return reg.connects.Load() == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		_, err := r.Adapter(context.Background(), "a", nil)
		secondDone <- err
	}()

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(reg.gate)

	require.NoError(t, <-secondDone)
	<-firstDone
	_, ok := reg.Get("a")
	assert.True(t, ok)
	assert.EqualValues(t, 1, reg.connects.Load())
}

func TestConnectPersistsOnlyOnSuccess(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	reg := newFakeRegistry()
	r := newResolver(reg, nil, store)

	reg.fail = &storage.ConnectionError{Protocol: "ftp", Host: "h", Err: errors.New("refused")}
	_, err = r.Connect(context.Background(), ftpConfig("a", "h"))
	var connErr *storage.ConnectionError
	require.ErrorAs(t, err, &connErr)
	_, saved := store.Get("a")
	assert.False(t, saved)

	reg.fail = nil
	conn, err := r.Connect(context.Background(), ftpConfig("a", "h"))
	require.NoError(t, err)
	assert.Equal(t, "a", conn.ID)
	_, saved = store.Get("a")
	assert.True(t, saved)

	require.NoError(t, r.Remove("a"))
	_, registered := reg.Get("a")
	assert.False(t, registered)
	_, saved = store.Get("a")
	assert.False(t, saved)
}

func TestSetEnabledDisconnects(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	reg := newFakeRegistry()
	r := newResolver(reg, nil, store)

	_, err = r.Connect(context.Background(), ftpConfig("a", "h"))
	require.NoError(t, err)

	_, err = r.SetEnabled(context.Background(), "a", false)
	require.NoError(t, err)
	_, registered := reg.Get("a")
	assert.False(t, registered)

	_, err = r.SetEnabled(context.Background(), "a", true)
	require.NoError(t, err)
	_, registered = reg.Get("a")
	assert.True(t, registered)
}

func TestListRedactsAndMerges(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	cfg := ftpConfig("saved", "h")
	cfg.Password = "pw"
	_, err = store.Save(cfg)
	require.NoError(t, err)

	yamlCfg := ftpConfig("yaml", "h")
	yamlCfg.Password = "pw2"
	r := newResolver(newFakeRegistry(), &fakeSource{cfgs: []models.StorageConfig{yamlCfg, ftpConfig("saved", "dup")}}, store)

	list := r.List(context.Background())
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Empty(t, c.Password)
	}
	assert.Equal(t, "saved", list[0].ID)
	assert.Equal(t, "yaml", list[1].ID)
}

func TestReloadReconcilesRegistry(t *testing.T) {
	reg := newFakeRegistry()
	source := &fakeSource{cfgs: []models.StorageConfig{ftpConfig("keep", "h"), ftpConfig("change", "old"), ftpConfig("drop", "h")}}
	r := newResolver(reg, source, nil)

	n, err := r.InitializeFromConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	source.cfgs = []models.StorageConfig{ftpConfig("keep", "h"), ftpConfig("change", "new"), ftpConfig("add", "h")}
	before := reg.connects.Load()
	r.Reload(context.Background())

	assert.EqualValues(t, 2, reg.connects.Load()-before, "only changed and added connections reconnect")
	a, ok := reg.Get("change")
	require.True(t, ok)
	assert.Equal(t, "new", a.Config().Host)
	_, ok = reg.Get("drop")
	assert.False(t, ok)
	_, ok = reg.Get("add")
	assert.True(t, ok)
}

func TestRestoreSaved(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	_, err = store.Save(ftpConfig("a", "h"))
	require.NoError(t, err)
	_, err = store.Save(ftpConfig("b", "h"))
	require.NoError(t, err)
	_, err = store.SetEnabled("b", false)
	require.NoError(t, err)

	reg := newFakeRegistry()
	r := newResolver(reg, nil, store)
	assert.Equal(t, 1, r.RestoreSaved(context.Background()))
	_, ok := reg.Get("a")
	assert.True(t, ok)
}

func TestReloadFailedReconnectKeepsLiveSession(t *testing.T) {
	ctx := context.Background()
	secured := ftpConfig("a", "nas")
	secured.Password = "pw"
	source := &fakeSource{cfgs: []models.StorageConfig{secured}}
	reg := newPasswordRegistry()
	r := NewResolver(reg, source, nil)

	_, err := r.InitializeFromConfig(ctx)
	require.NoError(t, err)
	live, ok := reg.Get("a")
	require.True(t, ok)

	broken := secured
	broken.Password = ""
	source.cfgs = []models.StorageConfig{broken}
	r.Reload(ctx)

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, live, got)
	assert.True(t, live.(*passwordAdapter).connected.Load())
}
