package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"showtime/models"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	// w500 posters and w1280 backdrops are plenty for library cards and
	// 1080p backgrounds.
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
)

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	getter   *jsonGetter
}

func newTMDBClient(apiKey, language string, httpc *http.Client) *tmdbClient {
	if strings.TrimSpace(language) == "" {
		language = "en-US"
	}
	return &tmdbClient{
		apiKey:   strings.TrimSpace(apiKey),
		language: language,
		baseURL:  tmdbBaseURL,
		getter:   newJSONGetter("tmdb", httpc, 40), // TMDB has generous rate limits
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

type tmdbSearchResult struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
}

func (r tmdbSearchResult) displayTitle() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Title
}

func (r tmdbSearchResult) date() string {
	if r.FirstAirDate != "" {
		return r.FirstAirDate
	}
	return r.ReleaseDate
}

type tmdbSearchResponse struct {
	Results []tmdbSearchResult `json:"results"`
}

type tmdbDetails struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	Overview      string  `json:"overview"`
	PosterPath    string  `json:"poster_path"`
	BackdropPath  string  `json:"backdrop_path"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int     `json:"vote_count"`
	Runtime       int     `json:"runtime"`
	Genres        []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

// do authenticates with a v4 read access token when the key looks like a
// JWT, and with the v3 api_key parameter otherwise.
func (c *tmdbClient) do(ctx context.Context, endpoint string, q url.Values, v any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("language", c.language)

	header := http.Header{}
	if strings.HasPrefix(c.apiKey, "eyJ") {
		header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		q.Set("api_key", c.apiKey)
	}
	return c.getter.get(ctx, c.baseURL+endpoint+"?"+q.Encode(), header, v)
}

func (c *tmdbClient) search(ctx context.Context, kind models.MediaKind, query string) ([]tmdbSearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("include_adult", "false")

	var resp tmdbSearchResponse
	if err := c.do(ctx, "/search/"+tmdbKindPath(kind), q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *tmdbClient) details(ctx context.Context, kind models.MediaKind, id int64) (*tmdbDetails, error) {
	var resp tmdbDetails
	if err := c.do(ctx, fmt.Sprintf("/%s/%d", tmdbKindPath(kind), id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func tmdbKindPath(kind models.MediaKind) string {
	if kind == models.KindTV {
		return "tv"
	}
	return "movie"
}

func buildTMDBImage(path, size string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return tmdbImageBaseURL + "/" + size + path
}

func (d *tmdbDetails) normalize(kind models.MediaKind) models.MediaMetadata {
	md := models.MediaMetadata{
		Source:       models.SourceTMDB,
		Type:         kind,
		TMDBID:       d.ID,
		Overview:     d.Overview,
		PosterPath:   buildTMDBImage(d.PosterPath, tmdbPosterSize),
		BackdropPath: buildTMDBImage(d.BackdropPath, tmdbBackdropSize),
		Rating:       d.VoteAverage,
		VoteCount:    d.VoteCount,
	}
	if kind == models.KindTV {
		md.Title = d.Name
		md.OriginalTitle = d.OriginalName
		md.ReleaseDate = d.FirstAirDate
	} else {
		md.Title = d.Title
		md.OriginalTitle = d.OriginalTitle
		md.ReleaseDate = d.ReleaseDate
		md.Runtime = d.Runtime
	}
	if md.OriginalTitle == "" {
		md.OriginalTitle = md.Title
	}
	for _, g := range d.Genres {
		md.Genres = append(md.Genres, g.Name)
	}
	return md
}

func (r tmdbSearchResult) toSearchResult(kind models.MediaKind) models.MetadataSearchResult {
	return models.MetadataSearchResult{
		ID:           r.ID,
		Type:         kind,
		Title:        r.displayTitle(),
		Overview:     r.Overview,
		ReleaseDate:  r.date(),
		PosterPath:   buildTMDBImage(r.PosterPath, tmdbPosterSize),
		BackdropPath: buildTMDBImage(r.BackdropPath, tmdbBackdropSize),
		Rating:       r.VoteAverage,
	}
}
