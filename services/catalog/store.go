// Package catalog persists IndexedMedia rows. Two engines are available: a
// SQLite database (default) and a JSON file for small libraries.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"showtime/models"
)

var (
	ErrNotFound  = errors.New("media not found")
	ErrDuplicate = errors.New("media already indexed for this storage and path")
	ErrIDMissing = errors.New("media id is required")
)

// Filter selects catalog rows. Zero fields match everything.
type Filter struct {
	IDs         []string
	StorageID   string
	Type        models.MediaKind
	TMDBID      int64
	Title       string // exact, case-insensitive
	Search      string // substring of title or filename, case-insensitive
	EnabledOnly bool
}

// Order of Find results.
type Order int

const (
	// OrderIndexedDesc lists the most recently indexed rows first.
	OrderIndexedDesc Order = iota
	// OrderEpisode lists by season, then episode, then filename.
	OrderEpisode
	// OrderPath lists by storage id, then path.
	OrderPath
)

type FindOptions struct {
	Filter
	Order Order
	Limit int // 0 means no limit
	Skip  int
}

// Store is the catalog persistence contract. (StorageID, Path) is unique.
type Store interface {
	FindOne(ctx context.Context, storageID, path string) (*models.IndexedMedia, error)
	Get(ctx context.Context, id string) (*models.IndexedMedia, error)
	Find(ctx context.Context, opts FindOptions) ([]models.IndexedMedia, error)
	Count(ctx context.Context, f Filter) (int64, error)
	Insert(ctx context.Context, m models.IndexedMedia) error
	Update(ctx context.Context, m models.IndexedMedia) error
	// Upsert replaces the row with the same (StorageID, Path), keeping its id.
	Upsert(ctx context.Context, m models.IndexedMedia) error
	UpdateSize(ctx context.Context, id string, size int64) error
	DeleteMany(ctx context.Context, f Filter) (int64, error)
	Close() error
}

func (f Filter) matches(m models.IndexedMedia) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, m.ID) {
		return false
	}
	if f.StorageID != "" && m.StorageID != f.StorageID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.TMDBID != 0 && m.TMDBID != f.TMDBID {
		return false
	}
	if f.Title != "" && !strings.EqualFold(m.Title, f.Title) {
		return false
	}
	if f.EnabledOnly && !m.Enabled {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(m.Title), q) && !strings.Contains(strings.ToLower(m.Filename), q) {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortMedia(items []models.IndexedMedia, order Order) {
	switch order {
	case OrderEpisode:
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			if a.SeasonNumber != b.SeasonNumber {
				return a.SeasonNumber < b.SeasonNumber
			}
			if a.EpisodeNumber != b.EpisodeNumber {
				return a.EpisodeNumber < b.EpisodeNumber
			}
			return a.Filename < b.Filename
		})
	case OrderPath:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].StorageID != items[j].StorageID {
				return items[i].StorageID < items[j].StorageID
			}
			return items[i].Path < items[j].Path
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Indexed.Equal(items[j].Indexed) {
				return items[i].ID < items[j].ID
			}
			return items[i].Indexed.After(items[j].Indexed)
		})
	}
}

func page(items []models.IndexedMedia, skip, limit int) []models.IndexedMedia {
	if skip > 0 {
		if skip >= len(items) {
			return []models.IndexedMedia{}
		}
		items = items[skip:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
