package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/federation/bridge"
	"github.com/wippyai/federation/bundle"
	"github.com/wippyai/federation/container"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/resource"
	"github.com/wippyai/federation/shared"
)

// WazeroEngine evaluates WebAssembly containers on a single wazero runtime.
// Each bundle is instantiated as its own anonymous module.
type WazeroEngine struct {
	runtime  wazero.Runtime
	hostErr  error
	hostOnce sync.Once
}

var _ bridge.Bridge = (*WazeroEngine)(nil)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per container in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCustomSections(true).
		WithCloseOnContextDone(true)

	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &WazeroEngine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *WazeroEngine) ensureHost(ctx context.Context) error {
	e.hostOnce.Do(func() {
		if e.runtime.Module(HostModule) != nil {
			return
		}
		_, e.hostErr = instantiateHost(ctx, e.runtime)
	})
	return e.hostErr
}

// session is the per-container state host functions reach through the call
// context.
type session struct {
	regErr    error
	manifest  *manifest.Manifest
	container *container.Container
	table     *resource.Table
	view      shared.View
	id        string
}

// lookup prefers the container's resolved bindings and falls back to the
// view captured at evaluation time.
func (s *session) lookup(name string) (any, bool) {
	if s.container != nil {
		if v, ok := s.container.Shared(name); ok {
			return v, true
		}
	}
	return s.view.Lookup(name)
}

// Execute compiles and instantiates a container bundle. The bundle may only
// import from the federation host module.
func (e *WazeroEngine) Execute(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error) {
	if !bridge.IsWasm(code) {
		return nil, errors.ExecutionFailed(id, bundle.ErrNotWasm)
	}
	if err := e.ensureHost(ctx); err != nil {
		return nil, errors.ExecutionFailed(id, fmt.Errorf("instantiate host module: %w", err))
	}

	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, errors.ExecutionFailed(id, err)
	}

	if err := checkImports(id, compiled); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	s := &session{
		id:        id,
		view:      view,
		table:     resource.NewTable(),
		container: container.New("", id),
	}

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(initExport)

	mod, err := e.runtime.InstantiateModule(withSession(ctx, s), compiled, modCfg)
	if err != nil {
		if mod != nil {
			mod.Close(ctx)
		}
		compiled.Close(ctx)
		return nil, errors.ExecutionFailed(id, err)
	}

	cleanup := func() {
		mod.Close(ctx)
		compiled.Close(ctx)
		s.table.Close()
	}

	if s.regErr != nil {
		cleanup()
		return nil, errors.ExecutionFailed(id, s.regErr)
	}

	if s.manifest == nil {
		m, err := embeddedManifest(compiled)
		if err != nil {
			cleanup()
			return nil, errors.ExecutionFailed(id, err)
		}
		s.manifest = m
	}

	c := s.container
	c.Name = s.manifest.Name
	mu := &sync.Mutex{}
	exported := compiled.ExportedFunctions()

	for _, path := range s.manifest.Paths() {
		ref := s.manifest.Exposes[path]
		c.Expose(path, moduleFactory(s, mod, mu, exported, ref))
	}

	for _, decl := range s.manifest.Decls() {
		c.Declare(decl, libraryProvider(s, mod, mu, exported, decl))
	}

	c.OnClose(func(ctx context.Context) error {
		s.table.Close()
		if err := mod.Close(ctx); err != nil {
			return err
		}
		return compiled.Close(ctx)
	})

	Logger().Debug("wasm container instantiated",
		zap.String("script_id", id),
		zap.String("name", c.Name),
		zap.Int("exposes", len(s.manifest.Exposes)),
		zap.Int("shared", len(s.manifest.Shared)))

	return c, nil
}

func checkImports(id string, compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod != HostModule || !hostFuncs[name] {
			return errors.Isolation(id, fmt.Sprintf("import %s.%s is not provided", mod, name))
		}
	}
	for _, def := range compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		return errors.Isolation(id, fmt.Sprintf("memory import %s.%s is not provided", mod, name))
	}
	return nil
}

func embeddedManifest(compiled wazero.CompiledModule) (*manifest.Manifest, error) {
	for _, cs := range compiled.CustomSections() {
		if cs.Name() == bundle.ManifestSection {
			return manifest.Parse(cs.Data())
		}
	}
	return nil, fmt.Errorf("container neither called federation.register nor embeds a %q section", bundle.ManifestSection)
}

// moduleFactory builds the export bag for ref on first access. A function
// exported under the bare ref name runs first as the module's init hook.
func moduleFactory(s *session, mod api.Module, mu *sync.Mutex, exported map[string]api.FunctionDefinition, ref string) container.Factory {
	return func(ctx context.Context) (container.Exports, error) {
		if def, ok := exported[ref]; ok && len(def.ParamTypes()) == 0 {
			mu.Lock()
			_, err := mod.ExportedFunction(ref).Call(withSession(context.WithoutCancel(ctx), s))
			mu.Unlock()
			if err != nil {
				return nil, fmt.Errorf("init %s: %w", ref, err)
			}
		}

		exports := container.Exports{}
		for name, def := range exported {
			export, ok := splitExport(name, ref)
			if !ok {
				continue
			}
			exports[export] = newFunction(s, mod, mu, name, def)
		}
		if len(exports) == 0 {
			return nil, fmt.Errorf("module %q exports nothing", ref)
		}
		return exports, nil
	}
}

// libraryProvider returns a provider building a Library from the
// shared:<dep>.* exports, or nil when the container only consumes dep.
func libraryProvider(s *session, mod api.Module, mu *sync.Mutex, exported map[string]api.FunctionDefinition, decl manifest.SharedDecl) container.Provider {
	funcs := make(map[string]*Function)
	for name, def := range exported {
		dep, fn, ok := splitShared(name)
		if !ok || dep != decl.Name {
			continue
		}
		funcs[fn] = newFunction(s, mod, mu, name, def)
	}
	if len(funcs) == 0 {
		return nil
	}
	return func(context.Context) (any, error) {
		return &Library{Name: decl.Name, Version: decl.Version, funcs: funcs}, nil
	}
}

// Function is an exported guest function. Calls into one container are
// serialized.
type Function struct {
	sess *session
	fn   api.Function
	def  api.FunctionDefinition
	mu   *sync.Mutex
	name string
}

func newFunction(s *session, mod api.Module, mu *sync.Mutex, name string, def api.FunctionDefinition) *Function {
	return &Function{sess: s, fn: mod.ExportedFunction(name), def: def, mu: mu, name: name}
}

// Name returns the guest export name.
func (f *Function) Name() string {
	return f.name
}

func (f *Function) ParamTypes() []api.ValueType {
	return f.def.ParamTypes()
}

func (f *Function) ResultTypes() []api.ValueType {
	return f.def.ResultTypes()
}

// Call invokes the function. Traps are returned as execution errors. A
// context that is already done fails the call; once started, a call runs to
// completion.
func (f *Function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if len(params) != len(f.def.ParamTypes()) {
		return nil, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			ScriptID(f.sess.id).
			Path(f.name).
			Detail("expected %d params, got %d", len(f.def.ParamTypes()), len(params)).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// The runtime closes an instance whose call context is done, and the
	// instance outlives this caller.
	res, err := f.fn.Call(withSession(context.WithoutCancel(ctx), f.sess), params...)
	if err != nil {
		e := errors.ExecutionFailed(f.sess.id, err)
		e.Path = []string{f.name}
		return nil, e
	}
	return res, nil
}

// Library is a shared dependency provided by a WebAssembly container.
type Library struct {
	funcs   map[string]*Function
	Name    string
	Version string
}

// Func returns the named function of the library.
func (l *Library) Func(name string) (*Function, bool) {
	f, ok := l.funcs[name]
	return f, ok
}

// Names returns the library's function names sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.funcs))
	for n := range l.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named function.
func (l *Library) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	f, ok := l.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseExecute, "function", l.Name+"."+name)
	}
	return f.Call(ctx, params...)
}
