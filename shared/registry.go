package shared

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/metrics"
)

// Host is the registeredBy value used for host-side registrations.
const Host = "host"

// Policy decides what a singleton version mismatch does.
type Policy int

const (
	// PolicyWarn logs the mismatch and binds to the existing instance.
	PolicyWarn Policy = iota
	// PolicyStrict fails the registration with VersionMismatch.
	PolicyStrict
)

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "warn"
}

// Provider produces a shared instance.
type Provider func(ctx context.Context) (any, error)

// Mismatch describes a singleton version disagreement.
type Mismatch struct {
	Name         string
	Registered   string
	Requested    string
	RegisteredBy string
	RequestedBy  string
}

// Entry is one registered shared instance.
type Entry struct {
	Instance     any
	Name         string
	Version      string
	RegisteredBy string
	Singleton    bool
	Eager        bool
}

type pending struct {
	provider Provider
	by       string
	decl     manifest.SharedDecl
}

// Registry is the shared scope: the map from dependency name to the
// instance(s) every participant binds to.
type Registry struct {
	entries    map[string][]*Entry
	singletons map[string]*Entry
	lazy       map[string]pending
	logger     *zap.Logger
	metrics    *metrics.Collector
	onMismatch func(Mismatch)
	policy     Policy
	mu         sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithMismatchHandler is called for every version mismatch, in addition to
// the warning log. It runs with the registry locked and must not call back
// into the registry.
func WithMismatchHandler(fn func(Mismatch)) Option {
	return func(r *Registry) { r.onMismatch = fn }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:    make(map[string][]*Entry),
		singletons: make(map[string]*Entry),
		lazy:       make(map[string]pending),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the mismatch policy in effect.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Register records decl on behalf of registeredBy and returns the instance
// the caller must bind to. For a singleton the first registration wins:
// later calls return the existing instance and never invoke their provider.
//
// Registrations are serialized. provider runs with the registry locked and
// must not call back into it.
func (r *Registry) Register(ctx context.Context, decl manifest.SharedDecl, registeredBy string, provider Provider) (any, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claim(ctx, decl, registeredBy, provider)
}

// Claim is one declaration of a set registered by RegisterAll.
type Claim struct {
	Provider Provider
	Decl     manifest.SharedDecl
}

// RegisterAll registers claims in order on behalf of registeredBy, all or
// nothing: when one claim fails, every change the set made is undone,
// including lazy host declarations it consumed. A claim without a provider
// that nothing else provides is skipped and missing from the result.
func (r *Registry) RegisterAll(ctx context.Context, registeredBy string, claims []Claim) (map[string]any, error) {
	for _, c := range claims {
		if err := c.Decl.Validate(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snapshot()
	bound := make(map[string]any, len(claims))
	for _, c := range claims {
		inst, err := r.claim(ctx, c.Decl, registeredBy, c.Provider)
		if err != nil {
			if c.Provider == nil && unprovided(err) {
				continue
			}
			r.restore(snap)
			return nil, err
		}
		bound[c.Decl.Name] = inst
	}
	return bound, nil
}

func unprovided(err error) bool {
	e, ok := err.(*errors.Error)
	return ok && e.Phase == errors.PhaseShare && e.Kind == errors.KindInvalidInput
}

// claim must be called with r.mu held.
func (r *Registry) claim(ctx context.Context, decl manifest.SharedDecl, registeredBy string, provider Provider) (any, error) {
	// A lazy host declaration takes precedence over the first container
	// that asks for the same name.
	if lp, ok := r.lazy[decl.Name]; ok {
		delete(r.lazy, decl.Name)
		if registeredBy != Host {
			if _, err := r.register(ctx, lp.decl, lp.by, lp.provider); err != nil {
				return nil, err
			}
		}
	}

	return r.register(ctx, decl, registeredBy, provider)
}

type state struct {
	entries    map[string][]*Entry
	singletons map[string]*Entry
	lazy       map[string]pending
}

// snapshot copies the maps and entry lists. Entries are never mutated in
// place, so sharing the pointers is safe.
func (r *Registry) snapshot() state {
	st := state{
		entries:    make(map[string][]*Entry, len(r.entries)),
		singletons: maps.Clone(r.singletons),
		lazy:       maps.Clone(r.lazy),
	}
	for name, list := range r.entries {
		st.entries[name] = slices.Clone(list)
	}
	return st
}

func (r *Registry) restore(st state) {
	r.entries = st.entries
	r.singletons = st.singletons
	r.lazy = st.lazy
}

// register must be called with r.mu held.
func (r *Registry) register(ctx context.Context, decl manifest.SharedDecl, by string, provider Provider) (any, error) {
	if existing, ok := r.singletons[decl.Name]; ok {
		if err := r.checkVersion(existing, decl, by); err != nil {
			return nil, err
		}
		return existing.Instance, nil
	}

	entries := r.entries[decl.Name]

	if decl.Singleton && len(entries) > 0 {
		// Non-singleton entries already exist; the highest becomes the
		// singleton everybody binds to from now on.
		best := highest(entries)
		if err := r.checkVersion(best, decl, by); err != nil {
			return nil, err
		}
		promoted := *best
		promoted.Singleton = true
		for i, e := range entries {
			if e == best {
				entries[i] = &promoted
			}
		}
		r.singletons[decl.Name] = &promoted
		return promoted.Instance, nil
	}

	if !decl.Singleton {
		for _, e := range entries {
			if e.Version == decl.Version {
				return e.Instance, nil
			}
		}
	}

	if provider == nil {
		return nil, errors.New(errors.PhaseShare, errors.KindInvalidInput).
			Path(decl.Name).
			Detail("%s declares %s without a provider", by, decl).
			Build()
	}

	inst, err := provider(ctx)
	if err != nil {
		return nil, errors.New(errors.PhaseShare, errors.KindExecutionFailed).
			Path(decl.Name).
			Cause(err).
			Detail("provider for %s from %s failed", decl.Name, by).
			Build()
	}

	e := &Entry{
		Instance:     inst,
		Name:         decl.Name,
		Version:      decl.Version,
		RegisteredBy: by,
		Singleton:    decl.Singleton,
		Eager:        decl.Eager,
	}
	r.entries[decl.Name] = append(entries, e)
	if decl.Singleton {
		r.singletons[decl.Name] = e
	}

	r.logger.Debug("shared dependency registered",
		zap.String("name", decl.Name),
		zap.String("version", decl.Version),
		zap.String("registered_by", by),
		zap.Bool("singleton", decl.Singleton),
		zap.Bool("eager", decl.Eager))
	return inst, nil
}

// checkVersion compares a request against the registered singleton. Under
// PolicyWarn a mismatch is reported and tolerated.
func (r *Registry) checkVersion(existing *Entry, decl manifest.SharedDecl, by string) error {
	if !mismatched(existing.Version, decl) {
		return nil
	}

	requested := decl.Version
	if decl.RequiredVersion != "" {
		requested = decl.RequiredVersion
	}

	r.metrics.VersionMismatch(decl.Name)
	if r.onMismatch != nil {
		r.onMismatch(Mismatch{
			Name:         decl.Name,
			Registered:   existing.Version,
			Requested:    requested,
			RegisteredBy: existing.RegisteredBy,
			RequestedBy:  by,
		})
	}

	if r.policy == PolicyStrict {
		return errors.VersionMismatch(decl.Name, existing.Version, requested, existing.RegisteredBy)
	}

	r.logger.Warn("shared singleton version mismatch",
		zap.String("name", decl.Name),
		zap.String("registered", existing.Version),
		zap.String("requested", requested),
		zap.String("registered_by", existing.RegisteredBy),
		zap.String("container", by))
	return nil
}

// mismatched reports whether decl disagrees with a registered version. With
// a requiredVersion the constraint decides; otherwise any difference between
// two declared versions counts.
func mismatched(registered string, decl manifest.SharedDecl) bool {
	if decl.RequiredVersion != "" {
		c, err := semver.NewConstraint(decl.RequiredVersion)
		if err != nil {
			return true
		}
		v, err := semver.NewVersion(registered)
		if err != nil {
			return true
		}
		return !c.Check(v)
	}
	if decl.Version == "" || registered == "" {
		return false
	}
	a, errA := semver.NewVersion(registered)
	b, errB := semver.NewVersion(decl.Version)
	if errA != nil || errB != nil {
		return registered != decl.Version
	}
	return !a.Equal(b)
}

func highest(entries []*Entry) *Entry {
	var best *Entry
	var bestV *semver.Version
	for _, e := range entries {
		v, err := semver.NewVersion(e.Version)
		if err != nil {
			if best == nil {
				best = e
			}
			continue
		}
		if bestV == nil || v.GreaterThan(bestV) {
			best, bestV = e, v
		}
	}
	return best
}

// Provide records a host declaration without creating the instance. It
// materializes when the first container declaring name registers, and wins
// over that container's own provider. Eager declarations belong in Register.
func (r *Registry) Provide(decl manifest.SharedDecl, by string, provider Provider) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	if provider == nil {
		return errors.InvalidInput(errors.PhaseShare, "provider is nil for "+decl.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.singletons[decl.Name]; ok {
		return nil
	}
	if _, ok := r.lazy[decl.Name]; ok {
		return nil
	}
	r.lazy[decl.Name] = pending{decl: decl, by: by, provider: provider}
	return nil
}

// Resolve looks up an instance. An empty version returns the singleton or
// the highest registered version. Otherwise an exact version match wins,
// then the version is read as a constraint and the highest satisfying
// entry is returned.
func (r *Registry) Resolve(name, version string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookup(name, version)
	if e == nil {
		return nil, errors.NotFound(errors.PhaseShare, "shared dependency", name)
	}
	return e.Instance, nil
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(name, version string) *Entry {
	entries := r.entries[name]
	if len(entries) == 0 {
		return nil
	}
	if version == "" {
		if s, ok := r.singletons[name]; ok {
			return s
		}
		return highest(entries)
	}
	for _, e := range entries {
		if e.Version == version {
			return e
		}
	}
	c, err := semver.NewConstraint(version)
	if err != nil {
		return nil
	}
	var matching []*Entry
	for _, e := range entries {
		if v, err := semver.NewVersion(e.Version); err == nil && c.Check(v) {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	return highest(matching)
}

// Entries returns all registered entries sorted by name then version.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, list := range r.entries {
		for _, e := range list {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Reset clears every registration, including pending host declarations.
// Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = make(map[string][]*Entry)
	r.singletons = make(map[string]*Entry)
	r.lazy = make(map[string]pending)
	r.mu.Unlock()
}

// View returns an immutable snapshot of the current bindings.
func (r *Registry) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]any, len(r.entries))
	for name := range r.entries {
		if e := r.lookup(name, ""); e != nil {
			m[name] = e.Instance
		}
	}
	return View{instances: m}
}

// View is a read-only snapshot of the shared scope as seen by a bundle
// while it evaluates.
type View struct {
	instances map[string]any
}

// Lookup returns the instance registered for name.
func (v View) Lookup(name string) (any, bool) {
	inst, ok := v.instances[name]
	return inst, ok
}

// Names returns the names in the view sorted.
func (v View) Names() []string {
	names := make([]string, 0, len(v.instances))
	for n := range v.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of names in the view.
func (v View) Len() int {
	return len(v.instances)
}
