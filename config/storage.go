package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"showtime/models"
)

var ErrNoStorageConfig = errors.New("no storage config file found")

// storageFile is the on-disk layout of storage.config.yaml.
type storageFile struct {
	Connections []models.StorageConfig `yaml:"connections"`
}

// StorageSource supplies the declarative list of storage connections from a
// YAML file, its example fallback, or a remote URL. Results are cached for
// the configured TTL.
type StorageSource struct {
	configPath  string
	examplePath string
	configURL   string
	ttl         time.Duration
	httpc       *http.Client

	mu       sync.Mutex
	cached   []models.StorageConfig
	loadedAt time.Time
	now      func() time.Time
}

func NewStorageSource(settings StorageSettings, httpc *http.Client) *StorageSource {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	ttl := time.Duration(settings.CacheTTLSeconds) * time.Second
	return &StorageSource{
		configPath:  settings.ConfigPath,
		examplePath: settings.ExampleConfigPath,
		configURL:   strings.TrimSpace(settings.ConfigURL),
		ttl:         ttl,
		httpc:       httpc,
		now:         time.Now,
	}
}

// Paths lists the local files the source reads, for watching.
func (s *StorageSource) Paths() []string {
	if s.configURL != "" {
		return nil
	}
	var paths []string
	for _, p := range []string{s.configPath, s.examplePath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Invalidate drops the cached list so the next Load rereads the source.
func (s *StorageSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// Load returns every valid, enabled connection. Invalid entries are logged
// and skipped.
func (s *StorageSource) Load(ctx context.Context) ([]models.StorageConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.loadedAt) < s.ttl {
		return cloneConfigs(s.cached), nil
	}

	data, origin, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	configs, err := ParseStorageConfigs(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", origin, err)
	}

	enabled := make([]models.StorageConfig, 0, len(configs))
	for _, cfg := range configs {
		cfg = cfg.Normalize()
		if !cfg.IsEnabled() {
			continue
		}
		if err := cfg.Validate(); err != nil {
			log.Printf("[config] skipping storage %q from %s: %v", cfg.ID, origin, err)
			continue
		}
		enabled = append(enabled, cfg)
	}

	s.cached = enabled
	s.loadedAt = s.now()
	return cloneConfigs(enabled), nil
}

// ByID returns one enabled connection from the source.
func (s *StorageSource) ByID(ctx context.Context, id string) (models.StorageConfig, bool, error) {
	configs, err := s.Load(ctx)
	if err != nil {
		return models.StorageConfig{}, false, err
	}
	for _, cfg := range configs {
		if cfg.ID == id {
			return cfg, true, nil
		}
	}
	return models.StorageConfig{}, false, nil
}

func (s *StorageSource) read(ctx context.Context) ([]byte, string, error) {
	if s.configURL != "" {
		data, err := s.fetch(ctx)
		return data, s.configURL, err
	}

	for _, p := range []string{s.configPath, s.examplePath} {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("read %s: %w", p, err)
		}
		if p == s.examplePath {
			log.Printf("[config] %s not found, using %s", s.configPath, p)
		}
		return data, p, nil
	}
	return nil, "", ErrNoStorageConfig
}

func (s *StorageSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.configURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch storage config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch storage config: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// ParseStorageConfigs decodes a storage.config.yaml document.
func ParseStorageConfigs(data []byte) ([]models.StorageConfig, error) {
	var file storageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Connections, nil
}

func cloneConfigs(in []models.StorageConfig) []models.StorageConfig {
	out := make([]models.StorageConfig, len(in))
	copy(out, in)
	return out
}
