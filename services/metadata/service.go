package metadata

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mozillazg/go-unidecode"

	"showtime/config"
	"showtime/internal/metrics"
	"showtime/models"
	"showtime/utils/similarity"
)

var ErrTMDBNotConfigured = errors.New("tmdb api key not configured")

type (
	tmdbAPI interface {
		isConfigured() bool
		search(ctx context.Context, kind models.MediaKind, query string) ([]tmdbSearchResult, error)
		details(ctx context.Context, kind models.MediaKind, id int64) (*tmdbDetails, error)
	}

	omdbAPI interface {
		isConfigured() bool
		byTitle(ctx context.Context, title string, year int) (*omdbMovie, error)
	}

	tvdbAPI interface {
		isConfigured() bool
		searchSeries(ctx context.Context, name string) ([]tvdbSeries, error)
		seriesDetails(ctx context.Context, id int64) (*tvdbSeriesExtended, error)
	}
)

// Service resolves filenames into normalized metadata. TMDB is tried first,
// then OMDB for movies or TVDB for series, then the parsed filename.
type Service struct {
	mu    sync.RWMutex
	tmdb  tmdbAPI
	omdb  omdbAPI
	tvdb  tvdbAPI
	cache *Cache
	httpc *http.Client
}

// NewService builds the provider clients from settings. cache may be nil.
func NewService(settings config.MetadataSettings, cache *Cache) *Service {
	s := &Service{cache: cache, httpc: &http.Client{Timeout: defaultHTTPTimeout}}
	s.UpdateAPIKeys(settings)
	return s
}

// UpdateAPIKeys swaps the provider clients, e.g. after settings changed.
func (s *Service) UpdateAPIKeys(settings config.MetadataSettings) {
	tmdb := newTMDBClient(settings.TMDBAPIKey, settings.Language, s.httpc)
	omdb := newOMDBClient(settings.OMDBAPIKey, s.httpc)
	tvdb := newTVDBClient(settings.TVDBAPIKey, s.httpc)

	s.mu.Lock()
	s.tmdb, s.omdb, s.tvdb = tmdb, omdb, tvdb
	s.mu.Unlock()

	log.Printf("[metadata] providers configured: tmdb=%v omdb=%v tvdb=%v",
		tmdb.isConfigured(), omdb.isConfigured(), tvdb.isConfigured())
}

func (s *Service) providers() (tmdbAPI, omdbAPI, tvdbAPI) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tmdb, s.omdb, s.tvdb
}

// Resolve never fails: provider errors fall through to the next provider
// and finally to a record built from the filename alone.
func (s *Service) Resolve(ctx context.Context, filename string) models.MediaMetadata {
	parsed := ParseFilename(filename)
	kind := parsed.Kind()
	tmdb, omdb, tvdb := s.providers()

	md, ok := s.tryTMDB(ctx, tmdb, parsed)
	if !ok && kind == models.KindMovie {
		md, ok = s.tryOMDB(ctx, omdb, parsed)
	}
	if !ok && kind == models.KindTV {
		md, ok = s.tryTVDB(ctx, tvdb, parsed)
	}
	if !ok {
		md = models.MediaMetadata{
			Source: models.SourceParsed,
			Type:   kind,
			Title:  parsed.Title,
		}
		metrics.ProviderLookupsTotal.WithLabelValues(string(models.SourceParsed), "hit").Inc()
	}
	if kind == models.KindTV {
		md.SeasonNumber = parsed.Season
		md.EpisodeNumber = parsed.Episode
	}
	return md
}

func lookupResult(source models.MetadataSource, result string) {
	metrics.ProviderLookupsTotal.WithLabelValues(string(source), result).Inc()
}

func (s *Service) tryTMDB(ctx context.Context, tmdb tmdbAPI, parsed ParsedFilename) (models.MediaMetadata, bool) {
	if tmdb == nil || !tmdb.isConfigured() || parsed.Title == "" {
		return models.MediaMetadata{}, false
	}
	kind := parsed.Kind()

	results, err := s.searchTMDB(ctx, tmdb, kind, parsed.Title)
	if err != nil {
		log.Printf("[metadata] tmdb %s search %q failed: %v", kind, parsed.Title, err)
		lookupResult(models.SourceTMDB, "error")
		return models.MediaMetadata{}, false
	}
	if len(results) == 0 {
		if cleaned := cleanSearchQuery(parsed.Title); cleaned != "" && cleaned != parsed.Title {
			log.Printf("[metadata] tmdb retrying with cleaned title %q", cleaned)
			results, err = s.searchTMDB(ctx, tmdb, kind, cleaned)
			if err != nil {
				log.Printf("[metadata] tmdb %s search %q failed: %v", kind, cleaned, err)
				lookupResult(models.SourceTMDB, "error")
				return models.MediaMetadata{}, false
			}
		}
	}
	if len(results) == 0 {
		lookupResult(models.SourceTMDB, "miss")
		return models.MediaMetadata{}, false
	}

	match := pickTMDBResult(results, parsed.Title, parsed.Year)
	key := cacheKey("details", string(kind), strconv.FormatInt(match.ID, 10))
	details, err := cached(s.cache, "tmdb", string(kind), key, func() (*tmdbDetails, error) {
		return tmdb.details(ctx, kind, match.ID)
	})
	if err != nil || details == nil {
		log.Printf("[metadata] tmdb %s details %d failed: %v", kind, match.ID, err)
		lookupResult(models.SourceTMDB, "error")
		return models.MediaMetadata{}, false
	}

	md := details.normalize(kind)
	md.TMDBID = match.ID
	if md.Title == "" {
		md.Title = match.displayTitle()
	}
	lookupResult(models.SourceTMDB, "hit")
	return md, true
}

func (s *Service) searchTMDB(ctx context.Context, tmdb tmdbAPI, kind models.MediaKind, query string) ([]tmdbSearchResult, error) {
	key := cacheKey("search", string(kind), strings.ToLower(query))
	return cached(s.cache, "tmdb", string(kind), key, func() ([]tmdbSearchResult, error) {
		return tmdb.search(ctx, kind, query)
	})
}

// pickTMDBResult prefers results dated in year when several match, and
// among several of those the one whose title is closest to the query.
func pickTMDBResult(results []tmdbSearchResult, title string, year int) tmdbSearchResult {
	if year <= 0 || len(results) < 2 {
		return results[0]
	}
	prefix := strconv.Itoa(year)
	var best *tmdbSearchResult
	bestScore := -1.0
	for i := range results {
		if !strings.HasPrefix(results[i].date(), prefix) {
			continue
		}
		if score := similarity.Score(title, results[i].displayTitle()); score > bestScore {
			best, bestScore = &results[i], score
		}
	}
	if best == nil {
		return results[0]
	}
	return *best
}

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// cleanSearchQuery transliterates to ASCII and drops punctuation.
func cleanSearchQuery(title string) string {
	cleaned := nonWordPattern.ReplaceAllString(unidecode.Unidecode(title), "")
	return strings.Join(strings.Fields(cleaned), " ")
}

func (s *Service) tryOMDB(ctx context.Context, omdb omdbAPI, parsed ParsedFilename) (models.MediaMetadata, bool) {
	if omdb == nil || !omdb.isConfigured() || parsed.Title == "" {
		return models.MediaMetadata{}, false
	}

	key := cacheKey("title", strings.ToLower(parsed.Title), strconv.Itoa(parsed.Year))
	movie, err := cached(s.cache, "omdb", string(models.KindMovie), key, func() (*omdbMovie, error) {
		return omdb.byTitle(ctx, parsed.Title, parsed.Year)
	})
	if err != nil {
		log.Printf("[metadata] omdb lookup %q failed: %v", parsed.Title, err)
		lookupResult(models.SourceOMDB, "error")
		return models.MediaMetadata{}, false
	}
	if movie == nil {
		lookupResult(models.SourceOMDB, "miss")
		return models.MediaMetadata{}, false
	}
	lookupResult(models.SourceOMDB, "hit")
	return movie.normalize(), true
}

func (s *Service) tryTVDB(ctx context.Context, tvdb tvdbAPI, parsed ParsedFilename) (models.MediaMetadata, bool) {
	if tvdb == nil || !tvdb.isConfigured() || parsed.Title == "" {
		return models.MediaMetadata{}, false
	}

	key := cacheKey("search", strings.ToLower(parsed.Title))
	results, err := cached(s.cache, "tvdb", string(models.KindTV), key, func() ([]tvdbSeries, error) {
		return tvdb.searchSeries(ctx, parsed.Title)
	})
	if err != nil {
		log.Printf("[metadata] tvdb search %q failed: %v", parsed.Title, err)
		lookupResult(models.SourceTVDB, "error")
		return models.MediaMetadata{}, false
	}
	if len(results) == 0 {
		lookupResult(models.SourceTVDB, "miss")
		return models.MediaMetadata{}, false
	}

	id, ok := results[0].id()
	if !ok {
		lookupResult(models.SourceTVDB, "miss")
		return models.MediaMetadata{}, false
	}
	details, err := cached(s.cache, "tvdb", string(models.KindTV), cacheKey("series", strconv.FormatInt(id, 10)), func() (*tvdbSeriesExtended, error) {
		return tvdb.seriesDetails(ctx, id)
	})
	if err != nil || details == nil {
		log.Printf("[metadata] tvdb series %d failed: %v", id, err)
		lookupResult(models.SourceTVDB, "error")
		return models.MediaMetadata{}, false
	}
	lookupResult(models.SourceTVDB, "hit")
	return details.normalize(), true
}

// SearchTMDB proxies a TMDB search for the catalog UI.
func (s *Service) SearchTMDB(ctx context.Context, query string, kind models.MediaKind) ([]models.MetadataSearchResult, error) {
	tmdb, _, _ := s.providers()
	if tmdb == nil || !tmdb.isConfigured() {
		return nil, ErrTMDBNotConfigured
	}
	results, err := s.searchTMDB(ctx, tmdb, kind, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	out := make([]models.MetadataSearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.toSearchResult(kind))
	}
	return out, nil
}

// TMDBDetails fetches one TMDB title in normalized form.
func (s *Service) TMDBDetails(ctx context.Context, id int64, kind models.MediaKind) (*models.MediaMetadata, error) {
	tmdb, _, _ := s.providers()
	if tmdb == nil || !tmdb.isConfigured() {
		return nil, ErrTMDBNotConfigured
	}
	key := cacheKey("details", string(kind), strconv.FormatInt(id, 10))
	details, err := cached(s.cache, "tmdb", string(kind), key, func() (*tmdbDetails, error) {
		return tmdb.details(ctx, kind, id)
	})
	if err != nil {
		return nil, err
	}
	md := details.normalize(kind)
	return &md, nil
}
