package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/fetch"
	"github.com/wippyai/federation/metrics"
	"github.com/wippyai/federation/resolver"
)

// DefaultTimeout bounds a single fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Status of a cache entry.
type Status int

const (
	// Absent means no entry exists; the next Load starts a fetch.
	Absent Status = iota
	Pending
	Ready
	// Failed is reported to waiters only. Failed entries are evicted
	// immediately so Status never returns it for a stored entry.
	Failed
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type entry struct {
	err     error
	done    chan struct{}
	id      string
	data    []byte
	status  Status
	waiters int
}

// Cache holds fetched bundles keyed by script id. At most one fetch per id
// is in flight; concurrent loads of a pending id wait on the same result.
type Cache struct {
	fetcher fetch.Fetcher
	store   Store
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *metrics.Collector
	entries map[string]*entry
	timeout time.Duration
	mu      sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithTimeout sets the per-fetch deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxConcurrent bounds the number of transport calls running at once.
func WithMaxConcurrent(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithStore adds a persistent second level consulted for cacheable
// descriptors.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over fetcher.
func New(fetcher fetch.Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the configured per-fetch deadline.
func (c *Cache) Timeout() time.Duration {
	return c.timeout
}

// Load returns the bytes for d.ID, fetching them if needed. When ctx ends
// before the fetch does, Load returns ctx.Err() but the fetch keeps running
// and populates the cache for later callers.
func (c *Cache) Load(ctx context.Context, d resolver.Descriptor) ([]byte, error) {
	if d.ID == "" {
		return nil, errors.InvalidInput(errors.PhaseFetch, "descriptor has no id")
	}

	e, ready := c.acquire(d)
	if ready {
		c.metrics.CacheHit()
		return e.data, nil
	}

	select {
	case <-e.done:
		c.mu.Lock()
		e.waiters--
		c.mu.Unlock()
		if e.err != nil {
			return nil, e.err
		}
		return e.data, nil
	case <-ctx.Done():
		c.mu.Lock()
		e.waiters--
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Prefetch starts loading d without waiting for the result. It is a no-op
// for ids that are pending or ready.
func (c *Cache) Prefetch(d resolver.Descriptor) {
	if d.ID == "" {
		return
	}
	c.mu.Lock()
	if _, ok := c.entries[d.ID]; ok {
		c.mu.Unlock()
		return
	}
	c.start(d)
	c.mu.Unlock()
}

// acquire returns the entry for d, creating it and starting the fetch when
// absent. Non-ready entries come back with the caller counted as a waiter.
func (c *Cache) acquire(d resolver.Descriptor) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[d.ID]
	if !ok {
		e = c.start(d)
	}
	if e.status == Ready {
		return e, true
	}
	e.waiters++
	return e, false
}

// start must be called with c.mu held.
func (c *Cache) start(d resolver.Descriptor) *entry {
	e := &entry{id: d.ID, status: Pending, done: make(chan struct{})}
	c.entries[d.ID] = e
	go c.run(e, d)
	return e
}

func (c *Cache) run(e *entry, d resolver.Descriptor) {
	data, stored, err := c.fetch(d)

	if err == nil && d.Cacheable && c.store != nil && !stored {
		if perr := c.store.Put(d.ID, data); perr != nil {
			c.logger.Warn("persist bundle", zap.String("script_id", d.ID), zap.Error(perr))
		}
	}

	c.mu.Lock()
	if err != nil {
		e.status = Failed
		e.err = err
		if c.entries[e.id] == e {
			delete(c.entries, e.id)
		}
		c.logger.Warn("bundle fetch failed",
			zap.String("script_id", e.id),
			zap.String("url", d.URL),
			zap.Int("waiters", e.waiters),
			zap.Error(err))
	} else {
		e.status = Ready
		e.data = data
	}
	close(e.done)
	c.mu.Unlock()
}

// fetch runs the transport under the deadline. The deadline starts when the
// fetch begins, independent of any caller's context. stored reports whether
// the bytes came from the persistent store.
func (c *Cache) fetch(d resolver.Descriptor) (data []byte, stored bool, err error) {
	if d.Cacheable && c.store != nil {
		data, ok, err := c.store.Get(d.ID)
		if err != nil {
			c.logger.Warn("read persisted bundle", zap.String("script_id", d.ID), zap.Error(err))
		} else if ok {
			c.metrics.CacheHit()
			c.logger.Debug("bundle served from store", zap.String("script_id", d.ID))
			return data, true, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.metrics.Fetch(metrics.ResultTimeout, time.Since(start))
			return nil, false, errors.FetchTimeout(d.ID, c.timeout)
		}
		defer c.sem.Release(1)
	}

	type result struct {
		err  error
		data []byte
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.fetcher.Fetch(ctx, d.URL)
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if stderrors.Is(r.err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.metrics.Fetch(metrics.ResultTimeout, time.Since(start))
				return nil, false, errors.FetchTimeout(d.ID, c.timeout)
			}
			c.metrics.Fetch(metrics.ResultError, time.Since(start))
			return nil, false, errors.FetchFailed(d.ID, r.err)
		}
		c.metrics.Fetch(metrics.ResultOK, time.Since(start))
		c.logger.Debug("bundle fetched",
			zap.String("script_id", d.ID),
			zap.String("url", d.URL),
			zap.Int("bytes", len(r.data)),
			zap.Duration("elapsed", time.Since(start)))
		return r.data, false, nil
	case <-ctx.Done():
		c.metrics.Fetch(metrics.ResultTimeout, time.Since(start))
		return nil, false, errors.FetchTimeout(d.ID, c.timeout)
	}
}

// Status reports the state of the entry for id.
func (c *Cache) Status(id string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.status
	}
	return Absent
}

// Waiters returns how many callers are blocked on a pending id.
func (c *Cache) Waiters(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.waiters
	}
	return 0
}

// Evict drops a ready entry. Pending fetches are left to finish.
func (c *Cache) Evict(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.status != Ready {
		return false
	}
	delete(c.entries, id)
	return true
}

// Reset drops every entry. In-flight fetches still resolve their waiters
// but no longer populate the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// Len returns the number of pending and ready entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
