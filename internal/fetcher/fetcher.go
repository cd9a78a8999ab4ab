// Package fetcher is the session-scoped HTTP client for the disclosure
// portal, plus the CSV reader used for batch company lists.
package fetcher

import (
	"context"
	"io"
)

// Fetcher is what the listing, resolver and download stages need from the
// transport. Each call is a single attempt; callers own retries.
type Fetcher interface {
	// Fetch returns the full body of a page.
	Fetch(ctx context.Context, url, referer string) ([]byte, error)

	// Open returns the response body for streaming together with the
	// declared content length (-1 when unknown).
	Open(ctx context.Context, url, referer string) (io.ReadCloser, int64, error)
}
