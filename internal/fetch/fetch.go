// Package fetch implements the HttpFetcher collaborator MasterPoller uses to
// retrieve the master streamlist: a basic-auth HTTP/HTTPS GET bounded by the
// 15-second fetch budget from spec.md §5.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Budget is the per-fetch timeout spec.md §5 assigns to MasterPoller.
const Budget = 15 * time.Second

// Result is what a fetch yields: the HTTP status code and the body reader,
// left open for the caller (MasterPoller) to stream chunk-by-chunk so
// partial-line buffering works across reads rather than needing the whole
// body in memory.
type Result struct {
	StatusCode int
	Body       io.ReadCloser
}

// Fetcher is the default net/http-based HttpFetcher.
type Fetcher struct {
	Client *http.Client
}

// New returns a Fetcher with a default client; Get applies Budget to each
// request through its context.
func New() *Fetcher {
	return &Fetcher{Client: &http.Client{}}
}

// Get performs a GET against url with HTTP basic auth, bounded by Budget.
// The caller must Close the returned Result.Body.
func (f *Fetcher) Get(ctx context.Context, url, username, password string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Budget)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	if username != "" || password != "" {
		req.SetBasicAuth(username, password)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	return &Result{
		StatusCode: resp.StatusCode,
		Body:       &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// cancelOnCloseBody ties the fetch's timeout context's cancel func to the
// body's lifetime so Close always releases the context.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
