package loader

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/federation/bridge"
	"github.com/wippyai/federation/cache"
	"github.com/wippyai/federation/container"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/fetch"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/metrics"
	"github.com/wippyai/federation/resolver"
	"github.com/wippyai/federation/shared"
)

// State is the load state of one script id.
type State int

const (
	NotLoaded State = iota
	Resolving
	Fetching
	Executing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Resolving:
		return "resolving"
	case Fetching:
		return "fetching"
	case Executing:
		return "executing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loader resolves, fetches and evaluates remote containers and hands out
// their exports.
type Loader struct {
	bridge     bridge.Bridge
	chain      *resolver.Chain
	cache      *cache.Cache
	registry   *shared.Registry
	logger     *zap.Logger
	metrics    *metrics.Collector
	containers map[string]*container.Container
	states     map[string]State
	group      singleflight.Group
	mu         sync.Mutex
	gen        uint64
	closed     bool
}

type options struct {
	fetcher       fetch.Fetcher
	cache         *cache.Cache
	registry      *shared.Registry
	store         cache.Store
	logger        *zap.Logger
	metrics       *metrics.Collector
	timeout       time.Duration
	maxConcurrent int
	strict        bool
}

type Option func(*options)

// WithFetcher replaces the default transport (http, https and file).
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithCache supplies a preconfigured cache. Fetcher, timeout, concurrency
// and store options are ignored when it is set.
func WithCache(c *cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithRegistry supplies the shared-scope registry. WithStrictVersions is
// ignored when it is set.
func WithRegistry(r *shared.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithTimeout sets the per-fetch deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxConcurrentFetches bounds concurrent transport calls.
func WithMaxConcurrentFetches(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithStore adds a persistent cache level for cacheable descriptors.
func WithStore(s cache.Store) Option {
	return func(o *options) { o.store = s }
}

// WithStrictVersions makes singleton version mismatches fail the load.
func WithStrictVersions(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a loader evaluating bundles with b.
func New(b bridge.Bridge, opts ...Option) *Loader {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := o.cache
	if c == nil {
		f := o.fetcher
		if f == nil {
			f = fetch.Default()
		}
		c = cache.New(f,
			cache.WithTimeout(o.timeout),
			cache.WithMaxConcurrent(o.maxConcurrent),
			cache.WithStore(o.store),
			cache.WithLogger(o.logger.Named("cache")),
			cache.WithMetrics(o.metrics))
	}

	reg := o.registry
	if reg == nil {
		policy := shared.PolicyWarn
		if o.strict {
			policy = shared.PolicyStrict
		}
		reg = shared.New(
			shared.WithPolicy(policy),
			shared.WithLogger(o.logger.Named("shared")),
			shared.WithMetrics(o.metrics))
	}

	return &Loader{
		bridge:     b,
		chain:      resolver.NewChain(),
		cache:      c,
		registry:   reg,
		logger:     o.logger,
		metrics:    o.metrics,
		containers: make(map[string]*container.Container),
		states:     make(map[string]State),
	}
}

type callerKey struct{}

// WithCaller attaches caller information passed to resolvers.
func WithCaller(ctx context.Context, c resolver.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) resolver.Caller {
	c, _ := ctx.Value(callerKey{}).(resolver.Caller)
	return c
}

// AddResolver appends fn to the resolver chain.
func (l *Loader) AddResolver(fn resolver.Func) {
	l.chain.Add(fn)
}

// Registry returns the shared-scope registry.
func (l *Loader) Registry() *shared.Registry {
	return l.registry
}

// Cache returns the bundle cache.
func (l *Loader) Cache() *cache.Cache {
	return l.cache
}

// ImportModule returns export from the module exposed at path by the named
// container, loading and evaluating the container on first use. Repeated
// calls return the identical value.
func (l *Loader) ImportModule(ctx context.Context, name, path, export string) (any, error) {
	c, err := l.load(ctx, name)
	if err == nil {
		var v any
		v, err = c.Get(ctx, path, export)
		if err == nil {
			l.metrics.Import(metrics.ResultOK)
			return v, nil
		}
	}
	l.metrics.Import(metrics.Result(err))
	return nil, err
}

// Load returns the named container, loading it if needed.
func (l *Loader) Load(ctx context.Context, name string) (*container.Container, error) {
	return l.load(ctx, name)
}

func (l *Loader) load(ctx context.Context, name string) (*container.Container, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoader, "container name cannot be empty")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.Closed(errors.PhaseLoader, "loader")
	}
	if c, ok := l.containers[name]; ok {
		l.mu.Unlock()
		return c, nil
	}
	l.mu.Unlock()

	caller := callerFrom(ctx)
	// The load is shared by every concurrent caller, so no single caller's
	// cancellation may abort it.
	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(name, func() (any, error) {
		return l.materialize(detached, name, caller)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*container.Container), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) materialize(ctx context.Context, name string, caller resolver.Caller) (*container.Container, error) {
	l.mu.Lock()
	if c, ok := l.containers[name]; ok {
		l.mu.Unlock()
		return c, nil
	}
	gen := l.gen
	l.mu.Unlock()

	l.setState(name, Resolving)
	d, err := l.chain.Resolve(name, caller)
	if err != nil {
		return nil, l.fail(name, err)
	}

	l.setState(name, Fetching)
	code, err := l.cache.Load(ctx, d)
	if err != nil {
		return nil, l.fail(name, err)
	}

	l.setState(name, Executing)
	c, err := l.bridge.Execute(ctx, name, code, l.registry.View())
	l.metrics.Execution(metrics.Result(err))
	if err != nil {
		return nil, l.fail(name, err)
	}

	if c.Name != name {
		l.logger.Warn("container registered under a different name",
			zap.String("requested", name),
			zap.String("registered", c.Name))
	}

	// A reset during the load must not see this container's declarations.
	if !l.current(gen) {
		l.discard(ctx, name, c)
		return nil, errors.Closed(errors.PhaseLoader, "loader was reset during load of "+name)
	}

	if err := l.bind(ctx, name, c); err != nil {
		l.discard(ctx, name, c)
		return nil, l.fail(name, err)
	}

	l.mu.Lock()
	if l.closed || l.gen != gen {
		l.mu.Unlock()
		l.discard(ctx, name, c)
		return nil, errors.Closed(errors.PhaseLoader, "loader was reset during load of "+name)
	}
	l.containers[name] = c
	l.states[name] = Ready
	l.mu.Unlock()

	l.logger.Debug("container ready",
		zap.String("container", name),
		zap.String("url", d.URL),
		zap.Strings("paths", c.Paths()))
	return c, nil
}

// bind registers the shared declarations of c as one set and binds the
// instances the registry settled on. A failing declaration leaves the
// registry as it was. Declarations without a provider stay unbound when
// nothing else provides the name.
func (l *Loader) bind(ctx context.Context, name string, c *container.Container) error {
	decls := c.Declarations()
	claims := make([]shared.Claim, len(decls))
	for i, d := range decls {
		claims[i] = shared.Claim{Decl: d.SharedDecl, Provider: shared.Provider(d.Provider)}
	}
	bound, err := l.registry.RegisterAll(ctx, name, claims)
	if err != nil {
		return err
	}
	for _, d := range decls {
		inst, ok := bound[d.Name]
		if !ok {
			l.logger.Debug("shared dependency unbound",
				zap.String("container", name),
				zap.String("name", d.Name))
			continue
		}
		c.Bind(d.Name, inst)
	}
	return nil
}

// current reports whether no Reset or Close happened since gen was read.
func (l *Loader) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.gen == gen
}

func (l *Loader) discard(ctx context.Context, name string, c *container.Container) {
	if err := c.Close(ctx); err != nil {
		l.logger.Debug("close discarded container", zap.String("container", name), zap.Error(err))
	}
}

func (l *Loader) setState(name string, s State) {
	l.mu.Lock()
	l.states[name] = s
	l.mu.Unlock()
}

func (l *Loader) fail(name string, err error) error {
	l.setState(name, Failed)
	l.logger.Debug("container load failed", zap.String("container", name), zap.Error(err))
	return err
}

// State reports where the named container is in its load.
func (l *Loader) State(name string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.containers[name]; ok {
		return Ready
	}
	return l.states[name]
}

// Container returns a loaded container.
func (l *Loader) Container(name string) (*container.Container, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.containers[name]
	return c, ok
}

// Containers returns the names of loaded containers sorted.
func (l *Loader) Containers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.containers))
	for n := range l.containers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Prefetch starts fetching the named container's bundle and returns
// immediately. Resolution failures are logged.
func (l *Loader) Prefetch(ctx context.Context, name string) {
	d, err := l.chain.Resolve(name, callerFrom(ctx))
	if err != nil {
		l.logger.Warn("prefetch failed", zap.String("container", name), zap.Error(err))
		return
	}
	l.cache.Prefetch(d)
}

// PrefetchAll fetches every named bundle and waits for them. The first
// failure is returned; the remaining fetches still complete in the
// background.
func (l *Loader) PrefetchAll(ctx context.Context, names ...string) error {
	caller := callerFrom(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			d, err := l.chain.Resolve(name, caller)
			if err != nil {
				return err
			}
			_, err = l.cache.Load(gctx, d)
			return err
		})
	}
	return g.Wait()
}

// Share declares a host-provided shared dependency. Eager declarations are
// registered immediately so the host wins ties; lazy ones materialize when
// the first container declaring the name loads.
func (l *Loader) Share(ctx context.Context, decl manifest.SharedDecl, provider shared.Provider) error {
	if decl.Eager {
		_, err := l.registry.Register(ctx, decl, shared.Host, provider)
		return err
	}
	return l.registry.Provide(decl, shared.Host, provider)
}

// Shared resolves a shared dependency by name.
func (l *Loader) Shared(name string) (any, error) {
	return l.registry.Resolve(name, "")
}

// Reset closes every loaded container and clears the cache and the shared
// scope. Resolvers are kept. Loads in flight are discarded when they
// finish. Intended for tests.
func (l *Loader) Reset(ctx context.Context) error {
	l.mu.Lock()
	containers := l.containers
	l.containers = make(map[string]*container.Container)
	l.states = make(map[string]State)
	l.gen++
	l.mu.Unlock()

	l.cache.Reset()
	l.registry.Reset()
	return closeAll(ctx, containers)
}

// Close releases every container and the bridge. The loader cannot be used
// afterwards.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	containers := l.containers
	l.containers = make(map[string]*container.Container)
	l.mu.Unlock()

	err := closeAll(ctx, containers)
	if c, ok := l.bridge.(bridge.Closer); ok {
		err = stderrors.Join(err, c.Close(ctx))
	}
	return err
}

func closeAll(ctx context.Context, containers map[string]*container.Container) error {
	var errs []error
	for _, c := range containers {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
