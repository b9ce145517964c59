package metadata

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/afero"
)

const defaultMemoryEntries = 512

// CacheEntry is one cached provider response as stored on disk.
type CacheEntry struct {
	Source    string          `json:"source"`
	SourceID  string          `json:"sourceId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Cache keeps provider responses in an expiring in-memory LRU backed by
// JSON files, so repeated indexing runs do not hit the providers again.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	fs  afero.Fs
	dir string
	ttl time.Duration
	mem *lru.LRU[string, CacheEntry]
	now func() time.Time
}

// NewCache stores entries below dir on fs. ttl <= 0 disables caching.
func NewCache(fs afero.Fs, dir string, ttl time.Duration, memoryEntries int) (*Cache, error) {
	if ttl <= 0 {
		return nil, nil
	}
	if memoryEntries <= 0 {
		memoryEntries = defaultMemoryEntries
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata cache dir: %w", err)
	}
	return &Cache{
		fs:  fs,
		dir: dir,
		ttl: ttl,
		mem: lru.NewLRU[string, CacheEntry](memoryEntries, nil, ttl),
		now: time.Now,
	}, nil
}

func cacheKey(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(source, key string) string {
	return filepath.Join(c.dir, source, key+".json")
}

func (c *Cache) get(source, key string, v any) bool {
	if c == nil {
		return false
	}

	entry, ok := c.mem.Get(source + ":" + key)
	if !ok {
		data, err := afero.ReadFile(c.fs, c.path(source, key))
		if err != nil {
			return false
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("[metadata] discarding unreadable cache entry %s/%s: %v", source, key, err)
			return false
		}
		if !c.now().Before(entry.ExpiresAt) {
			return false
		}
		c.mem.Add(source+":"+key, entry)
	}

	if err := json.Unmarshal(entry.Data, v); err != nil {
		return false
	}
	return true
}

func (c *Cache) set(source, kind, key string, v any) {
	if c == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	now := c.now().UTC()
	entry := CacheEntry{
		Source:    source,
		SourceID:  key,
		Type:      kind,
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mem.Add(source+":"+key, entry)

	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	target := c.path(source, key)
	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		log.Printf("[metadata] cache mkdir failed: %v", err)
		return
	}
	tmp := target + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, encoded, 0o644); err != nil {
		log.Printf("[metadata] cache write failed: %v", err)
		return
	}
	if err := c.fs.Rename(tmp, target); err != nil {
		log.Printf("[metadata] cache rename failed: %v", err)
	}
}

// cached returns the cached value for key or calls fetch and stores its
// result. Errors are never cached.
func cached[T any](c *Cache, source, kind, key string, fetch func() (T, error)) (T, error) {
	var v T
	if c.get(source, key, &v) {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.set(source, kind, key, v)
	return v, nil
}
