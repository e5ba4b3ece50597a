package jsengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/federation/bridge"
	"github.com/wippyai/federation/container"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/shared"
)

// DefaultTimeout bounds bundle evaluation and each call into a runtime.
const DefaultTimeout = 10 * time.Second

// Engine evaluates JavaScript bundles, one goja runtime per container.
type Engine struct {
	timeout time.Duration
}

var _ bridge.Bridge = (*Engine)(nil)

type Option func(*Engine)

// WithTimeout sets the evaluation and call timeout. Zero disables it; the
// caller's context still applies.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// realm is one container's runtime. goja runtimes are not safe for
// concurrent use, so every entry into vm holds mu.
type realm struct {
	vm        *goja.Runtime
	container *container.Container
	view      shared.View
	def       *goja.Object
	regErr    error
	id        string
	timeout   time.Duration
	mu        sync.Mutex
	closed    bool
}

// Execute evaluates code in a fresh runtime and returns the container it
// registered.
func (e *Engine) Execute(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error) {
	r := &realm{
		vm:        goja.New(),
		container: container.New("", id),
		view:      view,
		id:        id,
		timeout:   e.timeout,
	}
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := r.installGlobals(); err != nil {
		return nil, errors.ExecutionFailed(id, err)
	}

	r.mu.Lock()
	err := r.guard(ctx, func() error {
		_, err := r.vm.RunScript(id, string(code))
		return err
	})
	r.mu.Unlock()
	if err != nil {
		return nil, errors.ExecutionFailed(id, err)
	}
	if r.regErr != nil {
		return nil, errors.ExecutionFailed(id, r.regErr)
	}
	if r.def == nil {
		return nil, errors.ExecutionFailed(id, fmt.Errorf("bundle did not call federation.register"))
	}

	m, err := r.build()
	if err != nil {
		return nil, errors.ExecutionFailed(id, err)
	}

	r.container.OnClose(func(context.Context) error {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		return nil
	})

	Logger().Debug("script container evaluated",
		zap.String("script_id", id),
		zap.String("name", m.Name),
		zap.Int("exposes", len(m.Exposes)),
		zap.Int("shared", len(m.Shared)))

	return r.container, nil
}

// guard runs fn with vm interrupted once ctx is done or the timeout elapses.
// Callers hold r.mu.
func (r *realm) guard(ctx context.Context, fn func() error) error {
	if r.closed {
		return errors.Closed(errors.PhaseExecute, "script container "+r.id)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
		close(fired)
	})
	defer func() {
		if !stop() {
			// An interrupt raised after fn returned would hit the next call.
			<-fired
			r.vm.ClearInterrupt()
		}
	}()
	return fn()
}

func (r *realm) installGlobals() error {
	fed := r.vm.NewObject()
	if err := fed.Set("register", r.register); err != nil {
		return err
	}
	if err := fed.Set("shared", r.shared); err != nil {
		return err
	}
	if err := fed.Set("log", r.log); err != nil {
		return err
	}
	return r.vm.Set("federation", fed)
}

func (r *realm) register(call goja.FunctionCall) goja.Value {
	if r.def != nil {
		r.regErr = fmt.Errorf("federation.register called more than once")
		panic(r.vm.NewTypeError(r.regErr.Error()))
	}
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		r.regErr = fmt.Errorf("federation.register expects a definition object")
		panic(r.vm.NewTypeError(r.regErr.Error()))
	}
	r.def = obj
	return goja.Undefined()
}

// shared returns the instance bound for a name, preferring the container's
// resolved bindings over the view captured at evaluation time.
func (r *realm) shared(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	inst, ok := r.container.Shared(name)
	if !ok {
		inst, ok = r.view.Lookup(name)
	}
	if !ok {
		return goja.Undefined()
	}
	return r.toValue(inst)
}

func (r *realm) log(call goja.FunctionCall) goja.Value {
	level, msg := "info", ""
	switch len(call.Arguments) {
	case 0:
		return goja.Undefined()
	case 1:
		msg = call.Argument(0).String()
	default:
		level, msg = call.Argument(0).String(), call.Argument(1).String()
	}
	fields := []zap.Field{zap.String("source", "script"), zap.String("script_id", r.id)}
	l := Logger()
	switch level {
	case "debug":
		l.Debug(msg, fields...)
	case "warn":
		l.Warn(msg, fields...)
	case "error":
		l.Error(msg, fields...)
	default:
		l.Info(msg, fields...)
	}
	return goja.Undefined()
}

// build turns the registered definition into a manifest and wires the
// container's factories and providers.
func (r *realm) build() (*manifest.Manifest, error) {
	m := &manifest.Manifest{
		Name:    str(r.def, "name"),
		Exposes: map[string]string{},
		Shared:  map[string]manifest.SharedConfig{},
	}
	if m.Name == "" {
		return nil, fmt.Errorf("definition has no name")
	}

	factories := map[string]goja.Callable{}
	if exposes, ok := r.def.Get("exposes").(*goja.Object); ok {
		for _, path := range exposes.Keys() {
			fn, ok := goja.AssertFunction(exposes.Get(path))
			if !ok {
				return nil, fmt.Errorf("exposed %q is not a function", path)
			}
			m.Exposes[path] = moduleRef(path)
			factories[path] = fn
		}
	}

	providers := map[string]goja.Callable{}
	if deps, ok := r.def.Get("shared").(*goja.Object); ok {
		for _, name := range deps.Keys() {
			cfg, _ := deps.Get(name).(*goja.Object)
			if cfg == nil {
				m.Shared[name] = manifest.SharedConfig{}
				continue
			}
			m.Shared[name] = manifest.SharedConfig{
				Version:         str(cfg, "version"),
				RequiredVersion: str(cfg, "requiredVersion"),
				Singleton:       boolean(cfg, "singleton"),
				Eager:           boolean(cfg, "eager"),
			}
			if fn, ok := goja.AssertFunction(cfg.Get("get")); ok {
				providers[name] = fn
			}
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	r.container.Name = m.Name
	for path, fn := range factories {
		r.container.Expose(path, r.factory(path, fn))
	}
	for _, decl := range m.Decls() {
		var p container.Provider
		if fn, ok := providers[decl.Name]; ok {
			p = r.provider(decl.Name, fn)
		}
		r.container.Declare(decl, p)
	}
	return m, nil
}

func moduleRef(path string) string {
	if ref := strings.TrimPrefix(path, "./"); ref != "" {
		return ref
	}
	return path
}

// factory calls the exposed function. An object result becomes the export
// bag; anything else is exported as "default".
func (r *realm) factory(path string, fn goja.Callable) container.Factory {
	return func(ctx context.Context) (container.Exports, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		var res goja.Value
		err := r.guard(ctx, func() error {
			var err error
			res, err = fn(goja.Undefined())
			return err
		})
		if err != nil {
			return nil, err
		}
		res, err = settle(res)
		if err != nil {
			return nil, fmt.Errorf("factory %s: %w", path, err)
		}

		obj, ok := res.(*goja.Object)
		if !ok || isCallable(res) {
			return container.Exports{"default": r.wrap(res)}, nil
		}
		exports := container.Exports{}
		for _, key := range obj.Keys() {
			exports[key] = r.wrap(obj.Get(key))
		}
		return exports, nil
	}
}

func (r *realm) provider(name string, fn goja.Callable) container.Provider {
	return func(ctx context.Context) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		var res goja.Value
		err := r.guard(ctx, func() error {
			var err error
			res, err = fn(goja.Undefined())
			return err
		})
		if err != nil {
			return nil, err
		}
		if res, err = settle(res); err != nil {
			return nil, fmt.Errorf("shared %s: %w", name, err)
		}
		return r.wrap(res), nil
	}
}

// settle unwraps a promise. Jobs run before a call returns, so only a
// promise still waiting on the host is pending.
func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", p.Result().String())
	default:
		return nil, fmt.Errorf("promise never settled")
	}
}

func isCallable(v goja.Value) bool {
	_, ok := goja.AssertFunction(v)
	return ok
}

func str(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func boolean(obj *goja.Object, key string) bool {
	v := obj.Get(key)
	if v == nil {
		return false
	}
	return v.ToBoolean()
}
