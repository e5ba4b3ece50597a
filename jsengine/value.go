package jsengine

import (
	"context"

	"github.com/dop251/goja"

	"github.com/wippyai/federation/errors"
)

// Value is a script value owned by one container's runtime. Methods lock
// that runtime, so a Value may be used from any goroutine.
type Value struct {
	r *realm
	v goja.Value
}

func (r *realm) wrap(v goja.Value) *Value {
	if v == nil {
		v = goja.Undefined()
	}
	return &Value{r: r, v: v}
}

// Export converts the value to a plain Go value.
func (v *Value) Export() any {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	return v.v.Export()
}

func (v *Value) String() string {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	return v.v.String()
}

// IsFunction reports whether the value can be called.
func (v *Value) IsFunction() bool {
	return isCallable(v.v)
}

// Keys returns the own enumerable property names of an object value.
func (v *Value) Keys() []string {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	obj, ok := v.v.(*goja.Object)
	if !ok {
		return nil
	}
	return obj.Keys()
}

// Get returns a property of an object value.
func (v *Value) Get(name string) (*Value, bool) {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	obj, ok := v.v.(*goja.Object)
	if !ok {
		return nil, false
	}
	prop := obj.Get(name)
	if prop == nil {
		return nil, false
	}
	return v.r.wrap(prop), true
}

// Call invokes a function value with undefined as this.
func (v *Value) Call(ctx context.Context, args ...any) (*Value, error) {
	return v.invoke(ctx, "", goja.Undefined(), v.v, args)
}

// Method invokes the named function property with the value as this.
func (v *Value) Method(ctx context.Context, name string, args ...any) (*Value, error) {
	v.r.mu.Lock()
	obj, ok := v.v.(*goja.Object)
	var fn goja.Value
	if ok {
		fn = obj.Get(name)
	}
	v.r.mu.Unlock()
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseExecute, "method", name)
	}
	return v.invoke(ctx, name, obj, fn, args)
}

func (v *Value) invoke(ctx context.Context, name string, this, target goja.Value, args []any) (*Value, error) {
	r := v.r
	fn, ok := goja.AssertFunction(target)
	if !ok {
		return nil, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			ScriptID(r.id).
			Path(name).
			Detail("value is not a function").
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = r.toValue(a)
	}

	var res goja.Value
	err := r.guard(ctx, func() error {
		var err error
		res, err = fn(this, jsArgs...)
		return err
	})
	if err == nil {
		res, err = settle(res)
	}
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return nil, err
		}
		e := errors.ExecutionFailed(r.id, err)
		if name != "" {
			e.Path = []string{name}
		}
		return nil, e
	}
	return r.wrap(res), nil
}

// toValue converts a host or shared instance for use inside r. Values of
// other containers are proxied so their runtime is only entered under its
// own lock. Callers hold r.mu.
func (r *realm) toValue(inst any) goja.Value {
	v, ok := inst.(*Value)
	if !ok {
		return r.vm.ToValue(inst)
	}
	if v.r == r {
		return v.v
	}
	if v.IsFunction() {
		return r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			res, err := v.Call(context.Background(), exportArgs(call)...)
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			return r.toValue(res)
		})
	}
	if _, ok := v.v.(*goja.Object); ok {
		return r.vm.NewDynamicObject(&proxy{r: r, v: v})
	}
	return r.vm.ToValue(v.Export())
}

func exportArgs(call goja.FunctionCall) []any {
	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = a.Export()
	}
	return args
}

// proxy exposes an object from another runtime as a read-only object.
type proxy struct {
	r *realm
	v *Value
}

func (p *proxy) Get(key string) goja.Value {
	child, ok := p.v.Get(key)
	if !ok {
		return goja.Undefined()
	}
	if child.IsFunction() {
		return p.r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			res, err := p.v.Method(context.Background(), key, exportArgs(call)...)
			if err != nil {
				panic(p.r.vm.NewGoError(err))
			}
			return p.r.toValue(res)
		})
	}
	return p.r.toValue(child)
}

func (p *proxy) Set(string, goja.Value) bool { return false }

func (p *proxy) Has(key string) bool {
	_, ok := p.v.Get(key)
	return ok
}

func (p *proxy) Delete(string) bool { return false }

func (p *proxy) Keys() []string {
	return p.v.Keys()
}
