// Package library indexes remote storages into the catalog and answers the
// catalog queries behind the library UI.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/stream"

	"showtime/internal/metrics"
	"showtime/internal/storage"
	"showtime/models"
	"showtime/services/catalog"
)

var (
	ErrIndexInProgress   = errors.New("an index run for this storage is already in progress")
	ErrStorageIDRequired = errors.New("storage id is required")
	ErrAdapterRequired   = errors.New("storage adapter is required")
)

// MetadataResolver turns a filename into metadata. It never fails.
type MetadataResolver interface {
	Resolve(ctx context.Context, filename string) models.MediaMetadata
}

// Lister is the part of a storage adapter the indexer needs.
type Lister interface {
	ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error)
}

// ProgressFunc is called after each file is reconciled.
type ProgressFunc func(done, total int, path string)

type IndexRequest struct {
	StorageID    string
	StorageName  string
	Adapter      Lister
	ForceReindex bool
	OnProgress   ProgressFunc
}

// IndexResult summarizes one run. Indexed counts files whose metadata was
// (re)fetched and written.
type IndexResult struct {
	Scanned     int           `json:"scanned"`
	Indexed     int           `json:"indexed"`
	SizeUpdated int           `json:"sizeUpdated"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Removed     int64         `json:"removed"`
	SkippedDirs int           `json:"skippedDirs"`
	Duration    time.Duration `json:"duration"`
}

// Service owns indexing runs and catalog queries.
type Service struct {
	store    catalog.Store
	resolver MetadataResolver
	workers  int

	mu      sync.Mutex
	running map[string]struct{}

	now   func() time.Time
	newID func() string
}

// NewService indexes with up to workers concurrent metadata lookups; values
// below 2 keep indexing strictly sequential.
func NewService(store catalog.Store, resolver MetadataResolver, workers int) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		workers:  workers,
		running:  make(map[string]struct{}),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) begin(storageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[storageID]; busy {
		return false
	}
	s.running[storageID] = struct{}{}
	return true
}

func (s *Service) end(storageID string) {
	s.mu.Lock()
	delete(s.running, storageID)
	s.mu.Unlock()
}

// Indexing reports whether a run for storageID is active.
func (s *Service) Indexing(storageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.running[storageID]
	return busy
}

// Index walks the storage, reconciles every video file against the catalog
// and evicts rows whose files are gone. Per-file failures are logged and
// counted, never fatal.
func (s *Service) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	var result IndexResult
	if strings.TrimSpace(req.StorageID) == "" {
		return result, ErrStorageIDRequired
	}
	if req.Adapter == nil {
		return result, ErrAdapterRequired
	}
	if !s.begin(req.StorageID) {
		metrics.IndexRunsTotal.WithLabelValues("busy").Inc()
		return result, ErrIndexInProgress
	}
	defer s.end(req.StorageID)

	start := s.now()
	log.Printf("[indexer] starting run for %s (force=%v)", req.StorageID, req.ForceReindex)

	result, err := s.index(ctx, req)
	result.Duration = s.now().Sub(start)
	if err != nil {
		metrics.IndexRunsTotal.WithLabelValues("error").Inc()
		log.Printf("[indexer] run for %s failed after %s: %v", req.StorageID, result.Duration, err)
		return result, err
	}

	metrics.IndexRunsTotal.WithLabelValues("success").Inc()
	log.Printf("[indexer] run for %s done in %s: scanned=%d indexed=%d sizeUpdated=%d skipped=%d failed=%d removed=%d skippedDirs=%d",
		req.StorageID, result.Duration, result.Scanned, result.Indexed, result.SizeUpdated,
		result.Skipped, result.Failed, result.Removed, result.SkippedDirs)
	return result, nil
}

func (s *Service) index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	var result IndexResult

	if req.ForceReindex {
		purged, err := s.store.DeleteMany(ctx, catalog.Filter{StorageID: req.StorageID})
		if err != nil {
			return result, fmt.Errorf("purge %s: %w", req.StorageID, err)
		}
		log.Printf("[indexer] purged %d rows for %s", purged, req.StorageID)
	}

	files, skippedDirs, err := walk(ctx, req.Adapter)
	result.SkippedDirs = len(skippedDirs)
	if err != nil {
		return result, err
	}
	result.Scanned = len(files)

	if err := s.reconcile(ctx, req, files, &result); err != nil {
		return result, err
	}

	if !req.ForceReindex {
		removed, err := s.evict(ctx, req.StorageID, files, skippedDirs)
		if err != nil {
			return result, err
		}
		result.Removed = removed
	}
	return result, nil
}

// walk lists the tree depth-first from the root with an explicit worklist
// and returns the video files in listing order. A directory that cannot be
// listed is skipped and returned; only a failing root aborts the walk.
func walk(ctx context.Context, lister Lister) ([]models.FileEntry, []string, error) {
	var (
		files   []models.FileEntry
		skipped []string
		stack   = []string{"/"}
	)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return files, skipped, err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := lister.ListFiles(ctx, dir)
		if err != nil {
			if dir == "/" {
				return nil, skipped, fmt.Errorf("list root: %w", err)
			}
			if ctx.Err() != nil {
				return files, skipped, ctx.Err()
			}
			log.Printf("[indexer] skipping %s: %v", dir, err)
			skipped = append(skipped, dir)
			continue
		}

		var subdirs []string
		for _, e := range entries {
			if e.IsDir() {
				subdirs = append(subdirs, e.Path)
				continue
			}
			if e.IsVideo || storage.IsVideoFile(e.Name) {
				files = append(files, e)
			}
		}
		// pushed in reverse so the first listed directory is visited next
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return files, skipped, nil
}

type outcome int

const (
	outcomeIndexed outcome = iota
	outcomeSizeUpdated
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeIndexed:
		return "indexed"
	case outcomeSizeUpdated:
		return "size_updated"
	case outcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

func (r *IndexResult) record(o outcome) {
	switch o {
	case outcomeIndexed:
		r.Indexed++
	case outcomeSizeUpdated:
		r.SizeUpdated++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	metrics.IndexedFilesTotal.WithLabelValues(o.String()).Inc()
}

// reconcile processes files in listing order. With more than one worker the
// metadata lookups overlap, but their catalog writes still run one at a time
// in listing order.
func (s *Service) reconcile(ctx context.Context, req IndexRequest, files []models.FileEntry, result *IndexResult) error {
	total := len(files)
	done := 0
	finish := func(file models.FileEntry, o outcome) {
		result.record(o)
		done++
		if req.OnProgress != nil {
			req.OnProgress(done, total, file.Path)
		}
	}

	if s.workers <= 1 {
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			existing, o, ok := s.lookupExisting(ctx, req, file)
			if !ok {
				o = s.write(ctx, req, file, existing, s.resolver.Resolve(ctx, file.Name))
			}
			finish(file, o)
		}
		return nil
	}

	st := stream.New().WithMaxGoroutines(s.workers)
	for _, file := range files {
		file := file
		st.Go(func() stream.Callback {
			if ctx.Err() != nil {
				return func() {}
			}
			existing, o, ok := s.lookupExisting(ctx, req, file)
			if ok {
				return func() { finish(file, o) }
			}
			md := s.resolver.Resolve(ctx, file.Name)
			return func() { finish(file, s.write(ctx, req, file, existing, md)) }
		})
	}
	st.Wait()
	return ctx.Err()
}

// lookupExisting handles files already in the catalog. ok is false when
// metadata must be resolved and the row written.
func (s *Service) lookupExisting(ctx context.Context, req IndexRequest, file models.FileEntry) (*models.IndexedMedia, outcome, bool) {
	existing, err := s.store.FindOne(ctx, req.StorageID, file.Path)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		log.Printf("[indexer] lookup %s failed: %v", file.Path, err)
		return nil, outcomeFailed, true
	}
	if existing == nil || req.ForceReindex {
		return existing, outcomeIndexed, false
	}
	if existing.Size == file.Size {
		return existing, outcomeSkipped, true
	}
	if err := s.store.UpdateSize(ctx, existing.ID, file.Size); err != nil {
		log.Printf("[indexer] size update %s failed: %v", file.Path, err)
		return existing, outcomeFailed, true
	}
	return existing, outcomeSizeUpdated, true
}

func (s *Service) write(ctx context.Context, req IndexRequest, file models.FileEntry, existing *models.IndexedMedia, md models.MediaMetadata) outcome {
	media := models.IndexedMedia{
		ID:            s.newID(),
		Filename:      file.Name,
		Path:          file.Path,
		StorageID:     req.StorageID,
		StorageName:   req.StorageName,
		Size:          file.Size,
		MediaMetadata: md,
		Indexed:       s.now().UTC(),
		Enabled:       true,
	}
	if media.Title == "" {
		media.Title = file.Name
	}

	var err error
	if existing != nil {
		media.ID = existing.ID
		err = s.store.Upsert(ctx, media)
	} else {
		err = s.store.Insert(ctx, media)
		if errors.Is(err, catalog.ErrDuplicate) {
			err = s.store.Upsert(ctx, media)
		}
	}
	if err != nil {
		log.Printf("[indexer] persist %s failed: %v", file.Path, err)
		return outcomeFailed
	}
	return outcomeIndexed
}

const evictBatch = 500

// evict deletes catalog rows for storageID whose path was not observed.
// Rows below a directory that could not be listed are kept.
func (s *Service) evict(ctx context.Context, storageID string, files []models.FileEntry, unlisted []string) (int64, error) {
	observed := make(map[string]struct{}, len(files))
	for _, f := range files {
		observed[f.Path] = struct{}{}
	}

	rows, err := s.store.Find(ctx, catalog.FindOptions{Filter: catalog.Filter{StorageID: storageID}, Order: catalog.OrderPath})
	if err != nil {
		return 0, fmt.Errorf("load rows for eviction: %w", err)
	}
	var stale []string
	for _, row := range rows {
		if _, ok := observed[row.Path]; ok || under(row.Path, unlisted) {
			continue
		}
		stale = append(stale, row.ID)
	}

	var removed int64
	for start := 0; start < len(stale); start += evictBatch {
		end := min(start+evictBatch, len(stale))
		n, err := s.store.DeleteMany(ctx, catalog.Filter{StorageID: storageID, IDs: stale[start:end]})
		if err != nil {
			return removed, fmt.Errorf("evict stale rows: %w", err)
		}
		removed += n
	}
	metrics.IndexedFilesTotal.WithLabelValues("removed").Add(float64(removed))
	return removed, nil
}

func under(path string, dirs []string) bool {
	for _, dir := range dirs {
		prefix := strings.TrimSuffix(dir, "/") + "/"
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
