// Package fetchcache wraps HTTP retrieval of upstream price data with a
// bounded, time-expiring cache and de-duplication of concurrent requests.
package fetchcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/util"
)

// DefaultMaxEntries bounds the response cache when no size is configured.
const DefaultMaxEntries = 50

// entry is a cached response payload with its storage instant. An entry is
// never served once its age exceeds the TTL the caller asked for, no matter
// where it sits in LRU order.
type entry struct {
	payload  []byte
	storedAt time.Time
}

// Options configures a Client.
type Options struct {
	MaxEntries      int
	Timeout         time.Duration
	RateLimitPerMin int // 0 disables rate limiting
	Logger          *slog.Logger
}

// Client fetches JSON payloads over HTTP with an LRU+TTL cache in front.
// Concurrent calls for the same URL share one network request; eviction is
// least-recently-used bounded by count, and independently by TTL — whichever
// triggers first wins.
type Client struct {
	http    *http.Client
	cache   *lru.Cache[string, entry]
	group   singleflight.Group
	limiter *util.RateLimiter
	log     *slog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, err := lru.New[string, entry](opts.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}
	c := &Client{
		http:  &http.Client{Timeout: opts.Timeout},
		cache: cache,
		log:   opts.Logger.With("component", "fetchcache"),
		now:   time.Now,
	}
	if opts.RateLimitPerMin > 0 {
		c.limiter = util.NewRateLimiter(opts.RateLimitPerMin)
	}
	return c, nil
}

// Get returns the payload for rawURL, served from cache when an entry
// younger than ttl exists, fetched otherwise. Concurrent callers with the
// same URL share a single in-flight request. A caller whose context is
// cancelled gets ctx.Err() immediately; the shared flight keeps running for
// any remaining callers and its result still lands in the cache.
func (c *Client) Get(ctx context.Context, rawURL string, ttl time.Duration) ([]byte, error) {
	if e, ok := c.cache.Get(rawURL); ok {
		if c.now().Sub(e.storedAt) < ttl {
			c.log.Debug("cache hit", "url", rawURL)
			return e.payload, nil
		}
		c.cache.Remove(rawURL)
	}

	// The flight is shared across callers: detach it from the initiating
	// caller's cancellation so one caller going away cannot poison the
	// result for the others. The HTTP client timeout still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(rawURL, func() (any, error) {
		payload, err := c.fetch(flightCtx, rawURL)
		if err != nil {
			return nil, err
		}
		c.cache.Add(rawURL, entry{payload: payload, storedAt: c.now()})
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Classify("fetching "+rawURL, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, apperr.Classify("fetching "+rawURL, res.Err)
		}
		return res.Val.([]byte), nil
	}
}

// GetBusted behaves like Get but appends a cache-busting query parameter to
// the outgoing request, defeating intermediary HTTP caches. The local cache
// key stays the bare URL. Used for the forecast document, which is fetched
// once per load but must not be a stale CDN copy.
func (c *Client) GetBusted(ctx context.Context, rawURL string, ttl time.Duration) ([]byte, error) {
	if e, ok := c.cache.Get(rawURL); ok {
		if c.now().Sub(e.storedAt) < ttl {
			return e.payload, nil
		}
		c.cache.Remove(rawURL)
	}

	busted, err := appendBust(rawURL, c.now().UnixMilli())
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "busting "+rawURL, err)
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(rawURL, func() (any, error) {
		payload, err := c.fetch(flightCtx, busted)
		if err != nil {
			return nil, err
		}
		c.cache.Add(rawURL, entry{payload: payload, storedAt: c.now()})
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Classify("fetching "+rawURL, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, apperr.Classify("fetching "+rawURL, res.Err)
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate drops the cached entry for rawURL, forcing the next Get to hit
// the network. Used by the manual refresh control.
func (c *Client) Invalidate(rawURL string) {
	c.cache.Remove(rawURL)
}

// Len reports the current number of cached entries.
func (c *Client) Len() int { return c.cache.Len() }

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "building request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Classify("requesting "+rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, "reading response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("upstream error", "url", rawURL, "status", resp.StatusCode)
		return nil, apperr.HTTPStatus("requesting "+rawURL, resp.StatusCode)
	}
	return body, nil
}

func appendBust(rawURL string, stamp int64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("cb", fmt.Sprintf("%d", stamp))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
