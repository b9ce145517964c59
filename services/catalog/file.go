package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"showtime/models"
)

// FileStore keeps the catalog in memory and persists it to a JSON file
// after every write.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	items map[string]models.IndexedMedia // by id
	keys  map[string]string              // storageID/path -> id
}

var _ Store = (*FileStore)(nil)

func OpenFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path not provided")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	s := &FileStore{
		path:  path,
		items: make(map[string]models.IndexedMedia),
		keys:  make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func mediaKey(storageID, path string) string {
	return storageID + "\x00" + path
}

func (s *FileStore) FindOne(_ context.Context, storageID, path string) (*models.IndexedMedia, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[mediaKey(storageID, path)]
	if !ok {
		return nil, ErrNotFound
	}
	m := s.items[id]
	return &m, nil
}

func (s *FileStore) Get(_ context.Context, id string) (*models.IndexedMedia, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *FileStore) Find(_ context.Context, opts FindOptions) ([]models.IndexedMedia, error) {
	s.mu.RLock()
	out := make([]models.IndexedMedia, 0)
	for _, m := range s.items {
		if opts.matches(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sortMedia(out, opts.Order)
	return page(out, opts.Skip, opts.Limit), nil
}

func (s *FileStore) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.items {
		if f.matches(m) {
			n++
		}
	}
	return n, nil
}

func (s *FileStore) Insert(_ context.Context, m models.IndexedMedia) error {
	if m.ID == "" {
		return ErrIDMissing
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[mediaKey(m.StorageID, m.Path)]; exists {
		return ErrDuplicate
	}
	if _, exists := s.items[m.ID]; exists {
		return ErrDuplicate
	}
	s.putLocked(m)
	return s.saveLocked()
}

func (s *FileStore) Update(_ context.Context, m models.IndexedMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[m.ID]
	if !ok {
		return ErrNotFound
	}
	if mediaKey(prev.StorageID, prev.Path) != mediaKey(m.StorageID, m.Path) {
		if _, taken := s.keys[mediaKey(m.StorageID, m.Path)]; taken {
			return ErrDuplicate
		}
		delete(s.keys, mediaKey(prev.StorageID, prev.Path))
	}
	s.putLocked(m)
	return s.saveLocked()
}

func (s *FileStore) Upsert(_ context.Context, m models.IndexedMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.keys[mediaKey(m.StorageID, m.Path)]; ok {
		m.ID = id
	}
	if m.ID == "" {
		return ErrIDMissing
	}
	s.putLocked(m)
	return s.saveLocked()
}

func (s *FileStore) UpdateSize(_ context.Context, id string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	m.Size = size
	s.items[id] = m
	return s.saveLocked()
}

func (s *FileStore) DeleteMany(_ context.Context, f Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.items {
		if f.matches(m) {
			delete(s.items, id)
			delete(s.keys, mediaKey(m.StorageID, m.Path))
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveLocked()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) putLocked(m models.IndexedMedia) {
	s.items[m.ID] = m
	s.keys[mediaKey(m.StorageID, m.Path)] = m.ID
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var items []models.IndexedMedia
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	for _, m := range items {
		if m.ID == "" {
			continue
		}
		s.putLocked(m)
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	items := make([]models.IndexedMedia, 0, len(s.items))
	for _, m := range s.items {
		items = append(items, m)
	}
	sortMedia(items, OrderPath)

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create catalog temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync catalog: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close catalog temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename catalog: %w", err)
	}
	return nil
}
