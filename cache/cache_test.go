package cache

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/fetch"
	"github.com/wippyai/federation/resolver"
)

// gatedFetcher blocks every call until release is closed.
type gatedFetcher struct {
	release chan struct{}
	data    []byte
	err     error
	calls   atomic.Int32
}

func newGated(data []byte) *gatedFetcher {
	return &gatedFetcher{release: make(chan struct{}), data: data}
}

func (g *gatedFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.data, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func desc(id string) resolver.Descriptor {
	return resolver.Descriptor{ID: id, URL: "http://h/" + id + ".bundle"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoad_ConcurrentDedup(t *testing.T) {
	g := newGated([]byte("bundle"))
	c := New(g)

	const n = 10
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Load(context.Background(), desc("Remote"))
		}(i)
	}

	waitFor(t, func() bool { return c.Waiters("Remote") == n })
	if c.Status("Remote") != Pending {
		t.Errorf("status = %v, want pending", c.Status("Remote"))
	}
	close(g.release)
	wg.Wait()

	if got := g.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("load %d: %v", i, errs[i])
		}
		if &results[i][0] != &results[0][0] {
			t.Errorf("load %d returned a different slice", i)
		}
	}
	if c.Status("Remote") != Ready {
		t.Errorf("status = %v, want ready", c.Status("Remote"))
	}
}

func TestLoad_ReadyHitSkipsTransport(t *testing.T) {
	var calls atomic.Int32
	c := New(fetch.Func(func(context.Context, string) ([]byte, error) {
		calls.Add(1)
		return []byte("x"), nil
	}))

	for i := 0; i < 3; i++ {
		if _, err := c.Load(context.Background(), desc("A")); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestLoad_FailureNotCached(t *testing.T) {
	var calls atomic.Int32
	boom := stderrors.New("connection refused")
	c := New(fetch.Func(func(context.Context, string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}))

	_, err := c.Load(context.Background(), desc("Remote"))
	if !stderrors.Is(err, errors.ErrFetchFailed) {
		t.Fatalf("err = %v, want FetchFailed", err)
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("cause not preserved: %v", err)
	}
	if !errors.Retryable(err) {
		t.Error("fetch failure should be retryable")
	}
	if c.Status("Remote") != Absent || c.Len() != 0 {
		t.Errorf("failed entry should be evicted, status=%v len=%d", c.Status("Remote"), c.Len())
	}

	data, err := c.Load(context.Background(), desc("Remote"))
	if err != nil || string(data) != "ok" {
		t.Fatalf("retry = %q, %v", data, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestLoad_FailureRejectsAllWaiters(t *testing.T) {
	g := newGated(nil)
	g.err = stderrors.New("500")
	c := New(g)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Load(context.Background(), desc("X"))
			errs <- err
		}()
	}
	waitFor(t, func() bool { return c.Waiters("X") == n })
	close(g.release)

	for i := 0; i < n; i++ {
		if err := <-errs; !stderrors.Is(err, errors.ErrFetchFailed) {
			t.Errorf("waiter err = %v", err)
		}
	}
	if g.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", g.calls.Load())
	}
}

func TestLoad_Timeout(t *testing.T) {
	g := newGated([]byte("late"))
	defer close(g.release)
	c := New(g, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.Load(context.Background(), desc("Slow"))
	if !stderrors.Is(err, errors.ErrFetchTimeout) {
		t.Fatalf("err = %v, want FetchTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if c.Status("Slow") != Absent {
		t.Errorf("timed out entry should be evicted, status=%v", c.Status("Slow"))
	}
}

func TestLoad_TimeoutIgnoresUncooperativeFetcher(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := New(fetch.Func(func(context.Context, string) ([]byte, error) {
		<-block
		return []byte("never"), nil
	}), WithTimeout(30*time.Millisecond))

	if _, err := c.Load(context.Background(), desc("Stuck")); !stderrors.Is(err, errors.ErrFetchTimeout) {
		t.Fatalf("err = %v, want FetchTimeout", err)
	}
}

func TestLoad_AbandonDoesNotCancel(t *testing.T) {
	g := newGated([]byte("bundle"))
	c := New(g)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, desc("Remote"))
		done <- err
	}()
	waitFor(t, func() bool { return c.Waiters("Remote") == 1 })
	cancel()

	if err := <-done; !stderrors.Is(err, context.Canceled) {
		t.Fatalf("abandoned load err = %v", err)
	}
	if c.Status("Remote") != Pending {
		t.Fatalf("fetch should still be pending, status=%v", c.Status("Remote"))
	}

	close(g.release)
	waitFor(t, func() bool { return c.Status("Remote") == Ready })

	data, err := c.Load(context.Background(), desc("Remote"))
	if err != nil || string(data) != "bundle" {
		t.Errorf("load after abandon = %q, %v", data, err)
	}
	if g.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", g.calls.Load())
	}
}

func TestPrefetch(t *testing.T) {
	g := newGated([]byte("pre"))
	c := New(g)

	c.Prefetch(desc("P"))
	c.Prefetch(desc("P"))
	if c.Status("P") != Pending {
		t.Fatalf("status = %v, want pending", c.Status("P"))
	}
	close(g.release)
	waitFor(t, func() bool { return c.Status("P") == Ready })

	data, err := c.Load(context.Background(), desc("P"))
	if err != nil || string(data) != "pre" {
		t.Errorf("load = %q, %v", data, err)
	}
	if g.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", g.calls.Load())
	}
}

func TestMaxConcurrent(t *testing.T) {
	var inflight, peak atomic.Int32
	release := make(chan struct{})
	c := New(fetch.Func(func(ctx context.Context, _ string) ([]byte, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return []byte("x"), nil
	}), WithMaxConcurrent(2))

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = c.Load(context.Background(), desc(id))
		}(id)
	}
	waitFor(t, func() bool { return inflight.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak.Load() != 2 {
		t.Errorf("peak concurrency = %d, want 2", peak.Load())
	}
}

func TestEvictAndReset(t *testing.T) {
	c := New(fetch.Func(func(context.Context, string) ([]byte, error) { return []byte("x"), nil }))
	if _, err := c.Load(context.Background(), desc("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(context.Background(), desc("B")); err != nil {
		t.Fatal(err)
	}
	if !c.Evict("A") || c.Evict("A") {
		t.Error("Evict should succeed once")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}

func TestStore(t *testing.T) {
	store := NewMemoryStore()
	var calls atomic.Int32
	f := fetch.Func(func(context.Context, string) ([]byte, error) {
		calls.Add(1)
		return []byte("net"), nil
	})

	d := desc("Remote")
	d.Cacheable = true

	c := New(f, WithStore(store))
	if _, err := c.Load(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := store.Get("Remote"); !ok || string(got) != "net" {
		t.Fatalf("store = %q, %v", got, ok)
	}

	// A fresh cache over the same store serves from it without the network.
	c2 := New(f, WithStore(store))
	if data, err := c2.Load(context.Background(), d); err != nil || string(data) != "net" {
		t.Fatalf("load = %q, %v", data, err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	nd := desc("Volatile")
	if _, err := c.Load(context.Background(), nd); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get("Volatile"); ok {
		t.Error("non-cacheable descriptor should not be persisted")
	}
}

func TestDirStore(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get("Remote"); ok || err != nil {
		t.Fatalf("empty Get = %v, %v", ok, err)
	}
	payload := []byte("\x00asm\x01\x00\x00\x00")
	if err := s.Put("https://cdn/Remote", payload); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get("https://cdn/Remote")
	if err != nil || !ok || !bytes.Equal(got, payload) {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{Absent: "absent", Pending: "pending", Ready: "ready", Failed: "failed"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
