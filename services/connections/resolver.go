// Package connections decides which configuration an adapter is built from
// and keeps the registry in step with the YAML source and saved snapshots.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"showtime/internal/storage"
	"showtime/models"
)

var (
	ErrUnknownStorage = errors.New("storage connection not configured")
	ErrDisabled       = errors.New("storage connection is disabled")
)

// ConfigSource is the declarative connection list, config.StorageSource.
type ConfigSource interface {
	Load(ctx context.Context) ([]models.StorageConfig, error)
	ByID(ctx context.Context, id string) (models.StorageConfig, bool, error)
}

type registry interface {
	Get(id string) (storage.Adapter, bool)
	Connect(ctx context.Context, cfg models.StorageConfig) (storage.Adapter, error)
	Remove(id string)
	InitializeFromConfig(ctx context.Context, cfgs []models.StorageConfig) int
}

// Resolver returns connected adapters, connecting on demand from a request
// snapshot, the YAML source or a saved connection, in that order.
type Resolver struct {
	registry registry
	source   ConfigSource
	store    *Store

	group singleflight.Group

	mu      sync.Mutex
	yamlIDs map[string]struct{}
}

// NewResolver wires the registry to its configuration sources. source and
// store may be nil.
func NewResolver(reg *storage.Registry, source ConfigSource, store *Store) *Resolver {
	return newResolver(reg, source, store)
}

func newResolver(reg registry, source ConfigSource, store *Store) *Resolver {
	return &Resolver{
		registry: reg,
		source:   source,
		store:    store,
		yamlIDs:  make(map[string]struct{}),
	}
}

// Adapter returns the registered adapter for id. When none is registered,
// or snapshot describes a different connection, one is connected. Snapshots
// come from the redacted connection list, so a blank password stands for the
// stored one. Concurrent callers for the same id share one connection
// attempt, which outlives any single caller's cancellation.
func (r *Resolver) Adapter(ctx context.Context, id string, snapshot *models.StorageConfig) (storage.Adapter, error) {
	if snapshot != nil {
		normalized := snapshot.Normalize()
		if normalized.ID == "" {
			normalized.ID = id
		}
		if normalized.ID != id {
			snapshot = nil
		} else {
			snapshot = &normalized
		}
	}

	if existing, ok := r.registry.Get(id); ok && serves(existing, snapshot) {
		return existing, nil
	}

	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(id, func() (any, error) {
		if existing, ok := r.registry.Get(id); ok && serves(existing, snapshot) {
			return existing, nil
		}
		cfg, err := r.lookup(shared, id, snapshot)
		if err != nil {
			return nil, err
		}
		log.Printf("[storage] connecting %s (%s) on demand", cfg.ID, cfg.Type)
		return r.registry.Connect(shared, cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(storage.Adapter), nil
}

// serves reports whether adapter already matches snapshot.
func serves(adapter storage.Adapter, snapshot *models.StorageConfig) bool {
	if snapshot == nil {
		return true
	}
	live := adapter.Config()
	want := *snapshot
	if want.Password == "" {
		want.Password = live.Password
	}
	return live.Equal(want)
}

// Config returns the configuration id would be connected with.
func (r *Resolver) Config(ctx context.Context, id string) (models.StorageConfig, error) {
	if existing, ok := r.registry.Get(id); ok {
		return existing.Config(), nil
	}
	return r.lookup(ctx, id, nil)
}

func (r *Resolver) lookup(ctx context.Context, id string, snapshot *models.StorageConfig) (models.StorageConfig, error) {
	if snapshot != nil {
		if err := snapshot.Validate(); err != nil {
			return models.StorageConfig{}, fmt.Errorf("storage snapshot: %w", err)
		}
		cfg := *snapshot
		if cfg.Password == "" {
			cfg.Password = r.storedPassword(ctx, id)
		}
		return cfg, nil
	}

	if r.source != nil {
		cfg, ok, err := r.source.ByID(ctx, id)
		if err != nil {
			log.Printf("[storage] config source unavailable: %v", err)
		} else if ok {
			return cfg, nil
		}
	}

	if r.store != nil {
		if conn, ok := r.store.Get(id); ok {
			if !conn.IsEnabled() {
				return models.StorageConfig{}, ErrDisabled
			}
			return conn.StorageConfig, nil
		}
	}
	return models.StorageConfig{}, ErrUnknownStorage
}

// storedPassword is the password the YAML source or a saved connection
// holds for id, or "".
func (r *Resolver) storedPassword(ctx context.Context, id string) string {
	if r.source != nil {
		if cfg, ok, err := r.source.ByID(ctx, id); err == nil && ok && cfg.Password != "" {
			return cfg.Password
		}
	}
	if r.store != nil {
		if conn, ok := r.store.Get(id); ok {
			return conn.Password
		}
	}
	return ""
}

// Connect registers cfg, connects it and saves the snapshot.
func (r *Resolver) Connect(ctx context.Context, cfg models.StorageConfig) (models.StorageConnection, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return models.StorageConnection{}, err
	}
	if err := r.connectIfEnabled(ctx, cfg); err != nil {
		return models.StorageConnection{}, err
	}
	if r.store == nil {
		return models.StorageConnection{StorageConfig: cfg}, nil
	}
	return r.store.Save(cfg)
}

func (r *Resolver) connectIfEnabled(ctx context.Context, cfg models.StorageConfig) error {
	if !cfg.IsEnabled() {
		r.registry.Remove(cfg.ID)
		return nil
	}
	_, err := r.registry.Connect(ctx, cfg)
	return err
}

// SetEnabled toggles a saved connection, disconnecting it when disabled.
func (r *Resolver) SetEnabled(ctx context.Context, id string, enabled bool) (models.StorageConnection, error) {
	if r.store == nil {
		return models.StorageConnection{}, ErrNotFound
	}
	conn, err := r.store.SetEnabled(id, enabled)
	if err != nil {
		return models.StorageConnection{}, err
	}
	if err := r.connectIfEnabled(ctx, conn.StorageConfig); err != nil {
		log.Printf("[storage] %s enabled but connect failed: %v", id, err)
	}
	return conn, nil
}

// Remove disconnects id and deletes its snapshot.
func (r *Resolver) Remove(id string) error {
	r.registry.Remove(id)
	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// List returns saved snapshots plus YAML connections, without passwords.
func (r *Resolver) List(ctx context.Context) []models.StorageConnection {
	seen := make(map[string]struct{})
	var out []models.StorageConnection
	if r.store != nil {
		for _, c := range r.store.List() {
			c.StorageConfig = c.Redacted()
			out = append(out, c)
			seen[c.ID] = struct{}{}
		}
	}
	if r.source != nil {
		cfgs, err := r.source.Load(ctx)
		if err != nil {
			log.Printf("[storage] config source unavailable: %v", err)
		}
		for _, cfg := range cfgs {
			if _, dup := seen[cfg.ID]; dup {
				continue
			}
			out = append(out, models.StorageConnection{StorageConfig: cfg.Redacted()})
		}
	}
	if out == nil {
		out = []models.StorageConnection{}
	}
	return out
}

// IndexStats is the bookkeeping kept per connection after an index run.
type IndexStats struct {
	At         time.Time
	MediaCount int
}

// RecordIndexed forwards indexing bookkeeping to the snapshot store.
func (r *Resolver) RecordIndexed(id string, stats IndexStats) {
	if r.store == nil {
		return
	}
	if err := r.store.RecordIndexed(id, stats.At, stats.MediaCount); err != nil {
		log.Printf("[storage] failed to record index run for %s: %v", id, err)
	}
}

// InitializeFromConfig connects every connection of the YAML source.
func (r *Resolver) InitializeFromConfig(ctx context.Context) (int, error) {
	if r.source == nil {
		return 0, ErrUnknownStorage
	}
	cfgs, err := r.source.Load(ctx)
	if err != nil {
		return 0, err
	}
	r.rememberYAML(cfgs)
	return r.registry.InitializeFromConfig(ctx, cfgs), nil
}

// Reload reconciles the registry with the YAML source after it changed:
// changed connections are reconnected and removed ones disconnected.
func (r *Resolver) Reload(ctx context.Context) {
	if r.source == nil {
		return
	}
	cfgs, err := r.source.Load(ctx)
	if err != nil {
		log.Printf("[storage] reload skipped: %v", err)
		return
	}

	current := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		current[cfg.ID] = struct{}{}
		if existing, ok := r.registry.Get(cfg.ID); ok && existing.Config().Equal(cfg) {
			continue
		}
		if _, err := r.registry.Connect(ctx, cfg); err != nil {
			log.Printf("[storage] reload: %s failed: %v", cfg.ID, err)
		}
	}

	r.mu.Lock()
	previous := r.yamlIDs
	r.mu.Unlock()
	for id := range previous {
		if _, still := current[id]; still {
			continue
		}
		if r.store != nil {
			if _, saved := r.store.Get(id); saved {
				continue
			}
		}
		log.Printf("[storage] reload: %s removed from config", id)
		r.registry.Remove(id)
	}
	r.rememberYAML(cfgs)
}

func (r *Resolver) rememberYAML(cfgs []models.StorageConfig) {
	ids := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		ids[cfg.ID] = struct{}{}
	}
	r.mu.Lock()
	r.yamlIDs = ids
	r.mu.Unlock()
}

// RestoreSaved connects every enabled saved connection not already
// registered, e.g. at startup.
func (r *Resolver) RestoreSaved(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	var cfgs []models.StorageConfig
	for _, conn := range r.store.List() {
		if _, ok := r.registry.Get(conn.ID); ok || !conn.IsEnabled() {
			continue
		}
		cfgs = append(cfgs, conn.StorageConfig)
	}
	if len(cfgs) == 0 {
		return 0
	}
	return r.registry.InitializeFromConfig(ctx, cfgs)
}
