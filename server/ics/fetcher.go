// Package ics fetches, parses, and expands iCalendar feeds.
package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/observability"
)

// Source describes one configured feed.
type Source struct {
	Name string
	URL  string
}

// Conditional carries the validators remembered from the previous fetch of a
// source. Empty fields send no header.
type Conditional struct {
	ETag         string
	LastModified string
}

// FetchResult is the outcome of one (possibly retried) fetch.
type FetchResult struct {
	StatusCode   int
	Content      []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// FetchError wraps transport and HTTP failures once retries are exhausted.
type FetchError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs HTTP GETs of ICS feeds with bounded retries. Network and
// 5xx failures retry with exponential backoff; non-auth 4xx responses fail
// fast since retrying a bad URL never helps.
type Fetcher struct {
	client        *http.Client
	maxRetries    int
	backoffFactor float64
	log           zerolog.Logger
}

func NewFetcher(timeout time.Duration, maxRetries int, backoffFactor float64, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
		backoffFactor: backoffFactor,
		log:           log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch GETs the source, sending conditional headers when provided. A 304
// returns success with NotModified set and no content.
func (f *Fetcher) Fetch(ctx context.Context, src Source, cond Conditional) (*FetchResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = f.backoffFactor
	bo.MaxInterval = 30 * time.Second

	var result *FetchResult
	op := func() error {
		res, err := f.fetchOnce(ctx, src, cond)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.maxRetries)), ctx))
	if err != nil {
		observability.SourceFetchFailures.WithLabelValues(src.Name).Inc()
		if fe, ok := err.(*FetchError); ok {
			return nil, fe
		}
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, src Source, cond Conditional) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Source: src.Name, Err: err})
	}
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastModified != "" {
		req.Header.Set("If-Modified-Since", cond.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Network/DNS errors are transient; let backoff retry.
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &FetchResult{StatusCode: resp.StatusCode, NotModified: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &FetchError{Source: src.Name, Err: err}
		}
		return &FetchResult{
			StatusCode:   resp.StatusCode,
			Content:      body,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil

	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		f.log.Debug().Str("source", src.Name).Int("status", resp.StatusCode).Msg("retryable fetch failure")
		return nil, &FetchError{Source: src.Name, StatusCode: resp.StatusCode}

	default:
		// Remaining 4xx: the request itself is wrong, retrying never helps.
		return nil, backoff.Permanent(&FetchError{Source: src.Name, StatusCode: resp.StatusCode})
	}
}
