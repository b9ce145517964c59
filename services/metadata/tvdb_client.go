package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"showtime/models"
)

const tvdbBaseURL = "https://api4.thetvdb.com/v4"

// Minimal TVDB v4 client: token login, series search and extended details.
type tvdbClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	getter  *jsonGetter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func newTVDBClient(apiKey string, httpc *http.Client) *tvdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &tvdbClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: tvdbBaseURL,
		httpc:   httpc,
		getter:  newJSONGetter("tvdb", httpc, 20),
	}
}

func (c *tvdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

func (c *tvdbClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-1*time.Minute)) {
		return c.token, nil
	}

	buf, _ := json.Marshal(map[string]string{"apikey": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("tvdb login failed: %s", resp.Status)
	}

	var data struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.Data.Token == "" {
		return "", fmt.Errorf("tvdb login returned no token")
	}
	c.token = data.Data.Token
	c.tokenExpiry = time.Now().Add(23 * time.Hour)
	return c.token, nil
}

func (c *tvdbClient) do(ctx context.Context, endpoint string, q url.Values, v any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return c.getter.get(ctx, u, header, v)
}

type tvdbSeries struct {
	TVDBID       string `json:"tvdb_id"`
	Name         string `json:"name"`
	Overview     string `json:"overview"`
	ImageURL     string `json:"image_url"`
	FirstAirTime string `json:"first_air_time"`
	Year         string `json:"year"`
}

func (s tvdbSeries) id() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s.TVDBID, "series-"), 10, 64)
	return id, err == nil && id > 0
}

type tvdbSeriesExtended struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Overview       string  `json:"overview"`
	Image          string  `json:"image"`
	FirstAired     string  `json:"firstAired"`
	Score          float64 `json:"score"`
	AverageRuntime int     `json:"averageRuntime"`
	Genres         []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

func (c *tvdbClient) searchSeries(ctx context.Context, name string) ([]tvdbSeries, error) {
	q := url.Values{}
	q.Set("query", name)
	q.Set("type", "series")
	q.Set("limit", "5")

	var resp struct {
		Data []tvdbSeries `json:"data"`
	}
	if err := c.do(ctx, "/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *tvdbClient) seriesDetails(ctx context.Context, id int64) (*tvdbSeriesExtended, error) {
	var resp struct {
		Data *tvdbSeriesExtended `json:"data"`
	}
	if err := c.do(ctx, "/series/"+strconv.FormatInt(id, 10)+"/extended", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (s *tvdbSeriesExtended) normalize() models.MediaMetadata {
	md := models.MediaMetadata{
		Source:        models.SourceTVDB,
		Type:          models.KindTV,
		TVDBID:        s.ID,
		Title:         s.Name,
		OriginalTitle: s.Name,
		Overview:      s.Overview,
		PosterPath:    s.Image,
		ReleaseDate:   s.FirstAired,
		Rating:        s.Score,
		Runtime:       s.AverageRuntime,
	}
	for _, g := range s.Genres {
		md.Genres = append(md.Genres, g.Name)
	}
	return md
}
