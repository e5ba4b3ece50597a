package container

import (
	"context"
	"sort"
	"sync"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
)

// Exports is the export bag produced by an exposed module's factory.
type Exports map[string]any

// Factory produces an exposed module. It runs at most once successfully per
// container; the result is memoized.
type Factory func(ctx context.Context) (Exports, error)

// Provider produces the instance for a shared dependency the container
// declares. The registry decides whether it is ever called.
type Provider func(ctx context.Context) (any, error)

// Declaration pairs a shared declaration with the container's provider.
type Declaration struct {
	Provider Provider
	manifest.SharedDecl
}

type module struct {
	factory Factory
	exports Exports
}

// Container is the live runtime object produced by evaluating a bundle.
type Container struct {
	modules  map[string]*module
	decls    map[string]Declaration
	bindings map[string]any
	closers  []func(context.Context) error
	Name     string
	ScriptID string
	mu       sync.Mutex
	initMu   sync.Mutex
	closed   bool
}

func New(name, scriptID string) *Container {
	return &Container{
		Name:     name,
		ScriptID: scriptID,
		modules:  make(map[string]*module),
		decls:    make(map[string]Declaration),
		bindings: make(map[string]any),
	}
}

// Expose registers the factory for an exposed path. Re-exposing a path
// replaces its factory and drops any memoized exports.
func (c *Container) Expose(path string, f Factory) {
	c.mu.Lock()
	c.modules[path] = &module{factory: f}
	c.mu.Unlock()
}

// Declare records a shared dependency the container wants bound.
func (c *Container) Declare(decl manifest.SharedDecl, p Provider) {
	c.mu.Lock()
	c.decls[decl.Name] = Declaration{SharedDecl: decl, Provider: p}
	c.mu.Unlock()
}

// Get returns export from the module exposed at path, running the factory
// on first access. Factories are serialized per container.
func (c *Container) Get(ctx context.Context, path, export string) (any, error) {
	exports, err := c.Module(ctx, path)
	if err != nil {
		return nil, err
	}
	v, ok := exports[export]
	if !ok {
		return nil, errors.New(errors.PhaseLoader, errors.KindNotFound).
			ScriptID(c.ScriptID).
			Path(c.Name, path, export).
			Detail("export %q not found", export).
			Build()
	}
	return v, nil
}

// Module returns the whole export bag for path.
// Factories run under initMu rather than mu so they may read bindings.
func (c *Container) Module(ctx context.Context, path string) (Exports, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	m, ok := c.modules[path]
	var exports Exports
	if ok {
		exports = m.exports
	}
	c.mu.Unlock()

	if closed {
		return nil, errors.Closed(errors.PhaseLoader, "container "+c.Name)
	}
	if !ok {
		return nil, errors.New(errors.PhaseLoader, errors.KindNotFound).
			ScriptID(c.ScriptID).
			Path(c.Name, path).
			Detail("exposed path %q not found", path).
			Build()
	}
	if exports != nil {
		return exports, nil
	}

	exports, err := m.factory(ctx)
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return nil, err
		}
		e := errors.ExecutionFailed(c.ScriptID, err)
		e.Path = []string{c.Name, path}
		return nil, e
	}
	if exports == nil {
		exports = Exports{}
	}
	c.mu.Lock()
	m.exports = exports
	c.mu.Unlock()
	return exports, nil
}

// Paths returns the exposed paths sorted.
func (c *Container) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.modules))
	for p := range c.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Declarations returns the shared declarations sorted by name.
func (c *Container) Declarations() []Declaration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Declaration, 0, len(c.decls))
	for _, d := range c.decls {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Bind records the instance the registry resolved for a shared name.
func (c *Container) Bind(name string, instance any) {
	c.mu.Lock()
	c.bindings[name] = instance
	c.mu.Unlock()
}

// Shared returns the instance bound for name.
func (c *Container) Shared(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.bindings[name]
	return v, ok
}

// Bindings returns a copy of the shared bindings.
func (c *Container) Bindings() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return out
}

// OnClose registers fn to run when the container is closed.
func (c *Container) OnClose(fn func(context.Context) error) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// Close releases the container's runtime resources. Closers run in reverse
// registration order; the first error is returned.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
