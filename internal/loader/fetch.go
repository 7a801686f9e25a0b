package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBundleBytes caps a downloaded script.
const DefaultMaxBundleBytes = 64 << 20

// Fetcher downloads script resources.
type Fetcher interface {
	// Preload hints that url will be fetched soon. Failures are not fatal.
	Preload(ctx context.Context, url string) error
	// Fetch returns the script body. The caller bounds it with ctx; an
	// expired deadline yields ErrScriptLoadTimeout and any other failure
	// ErrScriptLoadError.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches scripts over HTTP.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher returns a fetcher using client, or a default client when
// nil. Per-request deadlines come from the caller's context.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{Client: client, MaxBytes: DefaultMaxBundleBytes}
}

// Preload issues a HEAD request and discards the response.
func (f *HTTPFetcher) Preload(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("preload %s: %s", url, resp.Status)
	}
	return nil
}

// Fetch GETs url. Cancelling ctx aborts the transfer, so a timed-out
// attempt leaves nothing pending.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrScriptLoadError, url, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, classifyFetchError(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrScriptLoadError, url, resp.Status)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBundleBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyFetchError(ctx, url, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s: bundle exceeds %d bytes", ErrScriptLoadError, url, limit)
	}
	return body, nil
}

func classifyFetchError(ctx context.Context, url string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrScriptLoadTimeout, url)
	}
	return fmt.Errorf("%w: %s: %v", ErrScriptLoadError, url, err)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
