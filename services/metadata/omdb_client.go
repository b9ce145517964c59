package metadata

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"showtime/models"
)

const omdbBaseURL = "http://www.omdbapi.com/"

type omdbClient struct {
	apiKey  string
	baseURL string
	getter  *jsonGetter
}

func newOMDBClient(apiKey string, httpc *http.Client) *omdbClient {
	return &omdbClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: omdbBaseURL,
		getter:  newJSONGetter("omdb", httpc, 10),
	}
}

func (c *omdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

type omdbMovie struct {
	Response   string `json:"Response"`
	Error      string `json:"Error"`
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Released   string `json:"Released"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Plot       string `json:"Plot"`
	Poster     string `json:"Poster"`
	IMDBRating string `json:"imdbRating"`
	IMDBVotes  string `json:"imdbVotes"`
	IMDBID     string `json:"imdbID"`
	Type       string `json:"Type"`
}

// byTitle returns nil without error when OMDB reports no match.
func (c *omdbClient) byTitle(ctx context.Context, title string, year int) (*omdbMovie, error) {
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("t", title)
	q.Set("plot", "full")
	if year > 0 {
		q.Set("y", strconv.Itoa(year))
	}

	var movie omdbMovie
	if err := c.getter.get(ctx, c.baseURL+"?"+q.Encode(), nil, &movie); err != nil {
		return nil, err
	}
	if movie.Response != "True" {
		return nil, nil
	}
	return &movie, nil
}

func (m *omdbMovie) normalize() models.MediaMetadata {
	md := models.MediaMetadata{
		Source:      models.SourceOMDB,
		Type:        models.KindMovie,
		OMDBID:      m.IMDBID,
		Title:       m.Title,
		Overview:    omdbValue(m.Plot),
		PosterPath:  omdbValue(m.Poster),
		ReleaseDate: omdbValue(m.Released),
	}
	md.OriginalTitle = md.Title
	if rating, err := strconv.ParseFloat(m.IMDBRating, 64); err == nil {
		md.Rating = rating
	}
	if votes, err := strconv.Atoi(strings.ReplaceAll(m.IMDBVotes, ",", "")); err == nil {
		md.VoteCount = votes
	}
	if genre := omdbValue(m.Genre); genre != "" {
		for _, g := range strings.Split(genre, ",") {
			if g = strings.TrimSpace(g); g != "" {
				md.Genres = append(md.Genres, g)
			}
		}
	}
	// "148 min"
	if fields := strings.Fields(m.Runtime); len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			md.Runtime = n
		}
	}
	return md
}

func omdbValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "N/A" {
		return ""
	}
	return s
}
