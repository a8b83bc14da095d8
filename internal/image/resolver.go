package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Resolver turns a Source into raw image bytes. URL fetches are bounded by
// a client timeout and a body size cap so a slow or hostile origin cannot
// stall the worker.
type Resolver struct {
	client   *http.Client
	maxBytes int64
}

// NewResolver creates a Resolver with the given fetch timeout and maximum
// accepted body size.
func NewResolver(timeout time.Duration, maxBytes int64) *Resolver {
	return &Resolver{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (r *Resolver) Resolve(ctx context.Context, src Source) ([]byte, error) {
	if src.Inline != nil {
		return src.Inline, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching image: origin returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", r.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("origin returned an empty body")
	}
	return data, nil
}
