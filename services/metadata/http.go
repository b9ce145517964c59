package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	requestAttempts    = 3
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Status   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Status)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// jsonGetter performs rate limited GETs with exponential backoff on 429, 5xx
// and transport errors. Any other 4xx fails immediately.
type jsonGetter struct {
	provider   string
	httpc      *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
}

func newJSONGetter(provider string, httpc *http.Client, perSecond float64) *jsonGetter {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &jsonGetter{
		provider:   provider,
		httpc:      httpc,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		retryDelay: 300 * time.Millisecond,
	}
}

func (g *jsonGetter) get(ctx context.Context, endpoint string, header http.Header, v any) error {
	return retry.Do(
		func() error { return g.once(ctx, endpoint, header, v) },
		retry.Context(ctx),
		retry.Attempts(requestAttempts),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[%s] request failed (attempt %d/%d): %v", g.provider, n+1, requestAttempts, err)
		}),
	)
}

func (g *jsonGetter) once(ctx context.Context, endpoint string, header http.Header, v any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return retry.Unrecoverable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{Provider: g.provider, Code: resp.StatusCode, Status: resp.Status}
		if statusErr.retryable() {
			return statusErr
		}
		return retry.Unrecoverable(statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return retry.Unrecoverable(fmt.Errorf("decode %s response: %w", g.provider, err))
	}
	return nil
}
