// SPDX-License-Identifier: MIT

package waves

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// upstream bundles the plumbing shared by the three wave providers:
// an HTTP client, the response cache and the per-source rate limiter.
type upstream struct {
	source  string
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	limiter Limiter
}

func newUpstream(source string, opts Options) upstream {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewNoOp()
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	return upstream{
		source:  source,
		http:    &http.Client{Timeout: timeout},
		cache:   c,
		ttl:     ttl,
		limiter: opts.Limiter,
	}
}

// getJSON fetches rawURL and decodes the body into v, going through the
// rate limiter first. Bodies are capped at 10 MiB.
func (u upstream) getJSON(ctx context.Context, rawURL string, v any) error {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx, u.source); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", u.source, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest(u.source, "error")
		return fmt.Errorf("%s: request: %w", u.source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		metrics.IncUpstreamRequest(u.source, "error")
		return fmt.Errorf("%s: read body: %w", u.source, err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.IncUpstreamRequest(u.source, "error")
		return fmt.Errorf("%s: unexpected status %d", u.source, resp.StatusCode)
	}

	metrics.IncUpstreamRequest(u.source, "success")
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s: decode response: %w", u.source, err)
	}
	return nil
}

// cachedJSON serves v from the cache under key, falling back to getJSON
// and storing the raw body on a miss.
func (u upstream) cachedJSON(ctx context.Context, key, rawURL string, v any) error {
	if raw, ok := u.cache.Get(key); ok {
		metrics.IncCacheHit(u.source)
		return json.Unmarshal(raw, v)
	}
	metrics.IncCacheMiss(u.source)

	if err := u.getJSON(ctx, rawURL, v); err != nil {
		return err
	}
	if raw, err := json.Marshal(v); err == nil {
		u.cache.Set(key, raw, u.ttl)
	}
	return nil
}
