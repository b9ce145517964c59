package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"showtime/models"
	"showtime/services/catalog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var ErrMediaNotFound = errors.New("media not found")

// ListQuery selects a page of the library. Type "tv" groups episodes under
// their series.
type ListQuery struct {
	Type   models.MediaKind
	Search string
	Limit  int
	Skip   int
}

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Skip < 0 {
		q.Skip = 0
	}
	q.Search = strings.TrimSpace(q.Search)
	if q.Type == "all" {
		q.Type = ""
	}
	return q
}

// Stats counts enabled rows by kind.
func (s *Service) Stats(ctx context.Context) (models.LibraryStats, error) {
	var stats models.LibraryStats
	var err error
	if stats.Total, err = s.store.Count(ctx, catalog.Filter{EnabledOnly: true}); err != nil {
		return stats, fmt.Errorf("count media: %w", err)
	}
	if stats.Movies, err = s.store.Count(ctx, catalog.Filter{EnabledOnly: true, Type: models.KindMovie}); err != nil {
		return stats, fmt.Errorf("count movies: %w", err)
	}
	if stats.TVShows, err = s.store.Count(ctx, catalog.Filter{EnabledOnly: true, Type: models.KindTV}); err != nil {
		return stats, fmt.Errorf("count episodes: %w", err)
	}
	return stats, nil
}

// List returns one page of enabled rows, most recently indexed first. tv
// episodes are grouped under their series unless only movies are asked for.
func (s *Service) List(ctx context.Context, q ListQuery) (models.MediaPage, error) {
	q = q.normalized()
	filter := catalog.Filter{EnabledOnly: true, Type: q.Type, Search: q.Search}

	if q.Type != models.KindMovie {
		return s.listGrouped(ctx, filter, q)
	}

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return models.MediaPage{}, fmt.Errorf("count media: %w", err)
	}
	rows, err := s.store.Find(ctx, catalog.FindOptions{Filter: filter, Limit: q.Limit, Skip: q.Skip})
	if err != nil {
		return models.MediaPage{}, fmt.Errorf("list media: %w", err)
	}

	out := models.MediaPage{Media: make([]models.MediaGroup, 0, len(rows)), Total: int(total)}
	for _, row := range rows {
		out.Media = append(out.Media, models.MediaGroup{IndexedMedia: row})
	}
	out.HasMore = q.Skip+len(rows) < out.Total
	return out, nil
}

func groupKey(m models.IndexedMedia) string {
	if m.Type != models.KindTV {
		return "id:" + m.ID
	}
	if m.TMDBID != 0 {
		return fmt.Sprintf("tmdb:%d", m.TMDBID)
	}
	return "title:" + strings.ToLower(strings.TrimSpace(m.Title))
}

// listGrouped groups episodes by series. Groups are ordered by their most
// recently indexed row and paged as groups.
func (s *Service) listGrouped(ctx context.Context, filter catalog.Filter, q ListQuery) (models.MediaPage, error) {
	rows, err := s.store.Find(ctx, catalog.FindOptions{Filter: filter})
	if err != nil {
		return models.MediaPage{}, fmt.Errorf("list episodes: %w", err)
	}

	var (
		order  []string
		groups = make(map[string]*models.MediaGroup)
	)
	for _, row := range rows {
		key := groupKey(row)
		g, ok := groups[key]
		if !ok {
			g = &models.MediaGroup{IndexedMedia: row}
			groups[key] = g
			order = append(order, key)
		}
		if row.Type == models.KindTV {
			g.Episodes = append(g.Episodes, row)
			g.EpisodeCount++
		}
	}

	out := models.MediaPage{Media: []models.MediaGroup{}, Total: len(order)}
	start := min(q.Skip, len(order))
	end := min(start+q.Limit, len(order))
	for _, key := range order[start:end] {
		g := groups[key]
		sortEpisodes(g.Episodes)
		out.Media = append(out.Media, *g)
	}
	out.HasMore = end < len(order)
	return out, nil
}

func sortEpisodes(eps []models.IndexedMedia) {
	sort.SliceStable(eps, func(i, j int) bool { return episodeLess(eps[i], eps[j]) })
}

func episodeLess(a, b models.IndexedMedia) bool {
	if a.SeasonNumber != b.SeasonNumber {
		return a.SeasonNumber < b.SeasonNumber
	}
	if a.EpisodeNumber != b.EpisodeNumber {
		return a.EpisodeNumber < b.EpisodeNumber
	}
	return a.Filename < b.Filename
}

// Get returns one row. tv rows carry every episode of the same series.
func (s *Service) Get(ctx context.Context, id string) (models.MediaDetail, error) {
	row, err := s.store.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return models.MediaDetail{}, ErrMediaNotFound
	}
	if err != nil {
		return models.MediaDetail{}, err
	}

	detail := models.MediaDetail{IndexedMedia: *row}
	if row.Type != models.KindTV {
		return detail, nil
	}

	filter := catalog.Filter{Type: models.KindTV, EnabledOnly: true}
	if row.TMDBID != 0 {
		filter.TMDBID = row.TMDBID
	} else {
		filter.Title = row.Title
	}
	eps, err := s.store.Find(ctx, catalog.FindOptions{Filter: filter, Order: catalog.OrderEpisode})
	if err != nil {
		return detail, fmt.Errorf("list episodes: %w", err)
	}
	detail.Episodes = eps
	return detail, nil
}

// MarkPlayed bumps the play counter of a row.
func (s *Service) MarkPlayed(ctx context.Context, id string) error {
	row, err := s.store.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return ErrMediaNotFound
	}
	if err != nil {
		return err
	}
	now := s.now().UTC()
	row.LastPlayed = &now
	row.PlayCount++
	return s.store.Update(ctx, *row)
}

// FindByPath returns the catalog row for a remote file, if indexed.
func (s *Service) FindByPath(ctx context.Context, storageID, path string) (*models.IndexedMedia, error) {
	row, err := s.store.FindOne(ctx, storageID, path)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrMediaNotFound
	}
	return row, err
}

// Count returns the number of rows indexed for storageID.
func (s *Service) Count(ctx context.Context, storageID string) (int64, error) {
	return s.store.Count(ctx, catalog.Filter{StorageID: storageID})
}

// RemoveStorage drops every row of storageID.
func (s *Service) RemoveStorage(ctx context.Context, storageID string) (int64, error) {
	if strings.TrimSpace(storageID) == "" {
		return 0, ErrStorageIDRequired
	}
	return s.store.DeleteMany(ctx, catalog.Filter{StorageID: storageID})
}

// Clear drops the whole catalog.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	return s.store.DeleteMany(ctx, catalog.Filter{})
}
