package storage

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"

	"showtime/internal/metrics"
	"showtime/models"
)

// Factory builds an unconnected adapter for one protocol.
type Factory func(models.StorageConfig) Adapter

// DefaultFactories covers every supported protocol.
func DefaultFactories() map[models.StorageType]Factory {
	return map[models.StorageType]Factory{
		models.StorageWebDAV: func(cfg models.StorageConfig) Adapter { return NewWebDAVAdapter(cfg, nil) },
		models.StorageFTP:    func(cfg models.StorageConfig) Adapter { return NewFTPAdapter(cfg) },
		models.StorageSMB:    func(cfg models.StorageConfig) Adapter { return NewSMBAdapter(cfg) },
	}
}

// Registry maps storage ids to live adapters. Get only takes the read lock;
// Create, Connect and Remove are serialized per id so a replaced adapter is
// always disconnected rather than leaked.
type Registry struct {
	factories map[models.StorageType]Factory

	mu       sync.RWMutex
	adapters map[string]Adapter

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

// NewRegistry uses DefaultFactories when factories is nil.
func NewRegistry(factories map[models.StorageType]Factory) *Registry {
	if factories == nil {
		factories = DefaultFactories()
	}
	return &Registry{
		factories: factories,
		adapters:  make(map[string]Adapter),
		keys:      make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockKey(id string) func() {
	r.keysMu.Lock()
	m, ok := r.keys[id]
	if !ok {
		m = &sync.Mutex{}
		r.keys[id] = m
	}
	r.keysMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Get returns the registered adapter, if any. It never creates one.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered storage ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Create builds and registers an unconnected adapter for cfg. Unknown types
// fail with *UnsupportedTypeError and leave the table untouched.
func (r *Registry) Create(cfg models.StorageConfig) (Adapter, error) {
	cfg = cfg.Normalize()
	unlock := r.lockKey(cfg.ID)
	defer unlock()

	adapter, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.swap(cfg.ID, adapter)
	return adapter, nil
}

func (r *Registry) build(cfg models.StorageConfig) (Adapter, error) {
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, &UnsupportedTypeError{Type: cfg.Type}
	}
	return factory(cfg), nil
}

// swap registers adapter under id and disconnects whatever it replaced.
func (r *Registry) swap(id string, adapter Adapter) {
	r.mu.Lock()
	prev := r.adapters[id]
	r.adapters[id] = adapter
	r.mu.Unlock()

	if prev != nil && prev != adapter {
		prev.Disconnect()
	}
}

// Connect builds and connects an adapter for cfg, then registers it in place
// of any previous one. A failed connection leaves the registered adapter, if
// any, untouched and serving.
func (r *Registry) Connect(ctx context.Context, cfg models.StorageConfig) (Adapter, error) {
	cfg = cfg.Normalize()
	unlock := r.lockKey(cfg.ID)
	defer unlock()

	adapter, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		metrics.AdapterConnectFailuresTotal.WithLabelValues(string(cfg.Type)).Inc()
		adapter.Disconnect()
		return nil, err
	}
	r.swap(cfg.ID, adapter)
	return adapter, nil
}

// Remove disconnects and forgets the adapter for id.
func (r *Registry) Remove(id string) {
	unlock := r.lockKey(id)
	defer unlock()

	r.mu.Lock()
	adapter, ok := r.adapters[id]
	delete(r.adapters, id)
	r.mu.Unlock()

	if ok {
		adapter.Disconnect()
	}
}

// DisconnectAll disconnects every adapter concurrently and clears the table.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]Adapter)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, adapter := range adapters {
		wg.Go(adapter.Disconnect)
	}
	wg.Wait()
}

// InitializeFromConfig connects every enabled, valid config. Failures are
// logged and skipped. It returns the number of connected adapters.
func (r *Registry) InitializeFromConfig(ctx context.Context, cfgs []models.StorageConfig) int {
	connected := 0
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			continue
		}
		cfg = cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			log.Printf("[storage] skipping invalid config %q: %v", cfg.ID, err)
			continue
		}
		if _, err := r.Connect(ctx, cfg); err != nil {
			log.Printf("[storage] failed to initialize %s (%s): %v", cfg.Name, cfg.ID, err)
			continue
		}
		log.Printf("[storage] connected %s (%s) via %s", cfg.Name, cfg.ID, cfg.Type)
		connected++
	}
	return connected
}
