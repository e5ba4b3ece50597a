package bridge

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/federation/container"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/shared"
)

type closingBridge struct {
	Func
	closed bool
	err    error
}

func (c *closingBridge) Close(context.Context) error {
	c.closed = true
	return c.err
}

func named(name string) Func {
	return func(_ context.Context, id string, _ []byte, _ shared.View) (*container.Container, error) {
		return container.New(name, id), nil
	}
}

func TestMux_Routes(t *testing.T) {
	m := &Mux{Wasm: named("wasm"), Script: named("js")}
	ctx := context.Background()

	c, err := m.Execute(ctx, "A", []byte("\x00asm\x01\x00\x00\x00"), shared.View{})
	if err != nil || c.Name != "wasm" {
		t.Errorf("wasm bundle routed to %v, %v", c, err)
	}
	c, err = m.Execute(ctx, "B", []byte("federation.register({name: 'B'})"), shared.View{})
	if err != nil || c.Name != "js" || c.ScriptID != "B" {
		t.Errorf("script bundle routed to %v, %v", c, err)
	}
}

func TestMux_Missing(t *testing.T) {
	m := &Mux{Script: named("js")}
	_, err := m.Execute(context.Background(), "A", []byte("\x00asm"), shared.View{})
	if !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Errorf("err = %v, want ExecutionFailed", err)
	}
}

func TestMux_Close(t *testing.T) {
	w := &closingBridge{Func: named("wasm"), err: stderrors.New("busy")}
	s := &closingBridge{Func: named("js")}
	m := &Mux{Wasm: w, Script: s}

	err := m.Close(context.Background())
	if !w.closed || !s.closed {
		t.Error("both bridges should be closed")
	}
	if err == nil || err.Error() != "busy" {
		t.Errorf("Close err = %v", err)
	}
}

func TestIsWasm(t *testing.T) {
	if !IsWasm([]byte{0, 'a', 's', 'm', 1, 0, 0, 0}) {
		t.Error("magic not detected")
	}
	if IsWasm([]byte("asm")) || IsWasm(nil) {
		t.Error("false positive")
	}
}
