package connections

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"showtime/models"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrSecretRequired     = errors.New("credential secret not provided")
	ErrNotFound           = errors.New("storage connection not found")
)

const sealedPrefix = "enc:v1:"

// Store persists connection snapshots so adapters can be rebuilt after a
// restart. Passwords are sealed with XChaCha20-Poly1305 on disk.
type Store struct {
	mu    sync.RWMutex
	path  string
	key   []byte
	items map[string]models.StorageConnection
	now   func() time.Time
}

func NewStore(storageDir, secret string) (*Store, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create connections dir: %w", err)
	}

	key := sha256.Sum256([]byte(secret))
	s := &Store{
		path:  filepath.Join(storageDir, "connections.json"),
		key:   key[:],
		items: make(map[string]models.StorageConnection),
		now:   time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns all snapshots sorted by name.
func (s *Store) List() []models.StorageConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StorageConnection, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) Get(id string) (models.StorageConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	return c, ok
}

// Save inserts or replaces the connection parameters for cfg.ID, keeping
// indexing bookkeeping from any previous snapshot.
func (s *Store) Save(cfg models.StorageConfig) (models.StorageConnection, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return models.StorageConnection{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	conn, exists := s.items[cfg.ID]
	if !exists {
		conn.CreatedAt = now
	}
	conn.StorageConfig = cfg
	conn.UpdatedAt = now
	s.items[cfg.ID] = conn
	return conn, s.saveLocked()
}

func (s *Store) SetEnabled(id string, enabled bool) (models.StorageConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.items[id]
	if !ok {
		return models.StorageConnection{}, ErrNotFound
	}
	conn.Enabled = &enabled
	conn.UpdatedAt = s.now().UTC()
	s.items[id] = conn
	return conn, s.saveLocked()
}

// RecordIndexed stores the outcome of an indexing run. Unknown ids are
// ignored since YAML-only connections have no snapshot.
func (s *Store) RecordIndexed(id string, at time.Time, mediaCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.items[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	conn.LastIndexed = &at
	conn.MediaCount = mediaCount
	s.items[id] = conn
	return s.saveLocked()
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return s.saveLocked()
}

func (s *Store) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		// written before encryption was enabled
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed password too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read connections: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var items []models.StorageConnection
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode connections: %w", err)
	}
	for _, c := range items {
		if strings.TrimSpace(c.ID) == "" {
			continue
		}
		password, err := s.open(c.Password)
		if err != nil {
			return fmt.Errorf("decrypt password for %s: %w", c.ID, err)
		}
		c.Password = password
		s.items[c.ID] = c
	}
	return nil
}

func (s *Store) saveLocked() error {
	items := make([]models.StorageConnection, 0, len(s.items))
	for _, c := range s.items {
		sealed, err := s.seal(c.Password)
		if err != nil {
			return fmt.Errorf("encrypt password for %s: %w", c.ID, err)
		}
		c.Password = sealed
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create connections temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode connections: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync connections: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close connections temp file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
