// Package urlfetch downloads the bytes behind a user-supplied URL
// source, using the same long-lived keep-alive client shape the LLM
// client uses for upstream calls.
package urlfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher is a rag.URLFetcher backed by a shared *http.Client.
type Fetcher struct {
	client *http.Client
}

// New constructs a Fetcher with sane keep-alive defaults.
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Fetch performs a GET request and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching url", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
