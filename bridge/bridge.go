// Package bridge defines how fetched bundle bytes become a live container.
//
// A Bridge evaluates code in an isolated scope that sees only the shared
// view and the registration callback, then returns the container the code
// registered. Concrete bridges live in engine (WebAssembly via wazero) and
// jsengine (JavaScript via goja); Mux picks between them by sniffing the
// bundle.
package bridge

import (
	"bytes"
	"context"
	stderrors "errors"

	"github.com/wippyai/federation/container"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/shared"
)

// Bridge evaluates a bundle. Any failure during evaluation must be reported
// as an execution error; the loader never retries it.
type Bridge interface {
	Execute(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error)
}

// Closer is implemented by bridges that hold runtime resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Func adapts a function to Bridge.
type Func func(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error)

func (f Func) Execute(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error) {
	return f(ctx, id, code, view)
}

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// IsWasm reports whether code starts with the WebAssembly magic number.
func IsWasm(code []byte) bool {
	return bytes.HasPrefix(code, wasmMagic)
}

// Mux routes WebAssembly bundles to Wasm and everything else to Script.
type Mux struct {
	Wasm   Bridge
	Script Bridge
}

func (m *Mux) Execute(ctx context.Context, id string, code []byte, view shared.View) (*container.Container, error) {
	b := m.Script
	kind := "script"
	if IsWasm(code) {
		b = m.Wasm
		kind = "wasm"
	}
	if b == nil {
		return nil, errors.New(errors.PhaseExecute, errors.KindExecutionFailed).
			ScriptID(id).
			Detail("no bridge configured for %s bundles", kind).
			Build()
	}
	return b.Execute(ctx, id, code, view)
}

// Close closes every routed bridge that implements Closer.
func (m *Mux) Close(ctx context.Context) error {
	var errs []error
	for _, b := range []Bridge{m.Wasm, m.Script} {
		if c, ok := b.(Closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return stderrors.Join(errs...)
}
