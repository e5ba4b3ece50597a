package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/federation/bundle"
	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/shared"
)

const widgetManifest = `{"name":"Widgets","exposes":{"./Widget":"widget"}}`

func newEngine(t *testing.T) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatalf("NewWazeroEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })
	return e
}

func call(t *testing.T, v any) uint32 {
	t.Helper()
	fn, ok := v.(*Function)
	if !ok {
		t.Fatalf("export is %T, want *Function", v)
	}
	res, err := fn.Call(context.Background())
	if err != nil {
		t.Fatalf("Call %s failed: %v", fn.Name(), err)
	}
	if len(res) != 1 {
		t.Fatalf("Call %s returned %d results", fn.Name(), len(res))
	}
	return uint32(res[0])
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			defer engine.Close(ctx)

			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestExecute_Register(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{
		Manifest:  []byte(widgetManifest),
		Constants: map[string]int32{"widget.default": 42, "widget.size": 7},
		Inits:     []string{"widget"},
	}).Build()

	c, err := e.Execute(ctx, "widgets", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	if c.Name != "Widgets" {
		t.Errorf("Name = %q, want Widgets", c.Name)
	}
	if c.ScriptID != "widgets" {
		t.Errorf("ScriptID = %q", c.ScriptID)
	}

	v, err := c.Get(ctx, "./Widget", "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := call(t, v); got != 42 {
		t.Errorf("default() = %d, want 42", got)
	}

	again, err := c.Get(ctx, "./Widget", "default")
	if err != nil {
		t.Fatal(err)
	}
	if again != v {
		t.Error("repeated Get should return the same export")
	}

	mod, err := c.Module(ctx, "./Widget")
	if err != nil {
		t.Fatal(err)
	}
	if len(mod) != 2 {
		t.Errorf("module exports = %d, want 2", len(mod))
	}
	if got := call(t, mod["size"]); got != 7 {
		t.Errorf("size() = %d, want 7", got)
	}
}

func TestFunction_CancelledCallerLeavesInstanceUsable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{
		Manifest:  []byte(widgetManifest),
		Constants: map[string]int32{"widget.default": 42},
		Inits:     []string{"widget"},
	}).Build()

	c, err := e.Execute(ctx, "widgets", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	// The init hook runs under the first caller's context.
	v, err := c.Get(cancelled, "./Widget", "default")
	if err != nil {
		t.Fatalf("Get with a cancelled context failed: %v", err)
	}
	fn := v.(*Function)

	if _, err := fn.Call(cancelled); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("cancelled call err = %v, want context.Canceled", err)
	}

	for i := 0; i < 2; i++ {
		if got := call(t, fn); got != 42 {
			t.Errorf("call %d after cancellation = %d, want 42", i, got)
		}
	}
}

func TestExecute_CustomSectionFallback(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{
		Manifest:      []byte(widgetManifest),
		Constants:     map[string]int32{"widget.default": 1},
		SkipRegister:  true,
		EmbedManifest: true,
	}).Build()

	c, err := e.Execute(ctx, "embedded", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	if c.Name != "Widgets" {
		t.Errorf("Name = %q", c.Name)
	}
	if paths := c.Paths(); len(paths) != 1 || paths[0] != "./Widget" {
		t.Errorf("Paths = %v", paths)
	}
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name string
		want error
		code []byte
	}{
		{
			name: "not wasm",
			code: []byte("module.exports = {}"),
			want: errors.ErrExecutionFailed,
		},
		{
			name: "no registration",
			code: (&bundle.Builder{Manifest: []byte(widgetManifest), SkipRegister: true}).Build(),
			want: errors.ErrExecutionFailed,
		},
		{
			name: "invalid manifest",
			code: (&bundle.Builder{Manifest: []byte(`{"exposes":{}}`)}).Build(),
			want: errors.ErrExecutionFailed,
		},
		{
			name: "trap during init",
			code: (&bundle.Builder{Manifest: []byte(widgetManifest), TrapOnInit: true}).Build(),
			want: errors.ErrExecutionFailed,
		},
		{
			name: "wasi import",
			code: (&bundle.Builder{
				Manifest: []byte(widgetManifest),
				Imports:  []bundle.Import{{Module: "wasi_snapshot_preview1", Name: "proc_exit"}},
			}).Build(),
			want: errors.ErrIsolation,
		},
		{
			name: "unknown host function",
			code: (&bundle.Builder{
				Manifest: []byte(widgetManifest),
				Imports:  []bundle.Import{{Module: HostModule, Name: "exec"}},
			}).Build(),
			want: errors.ErrIsolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			c, err := e.Execute(context.Background(), "bad", tt.code, shared.View{})
			if err == nil {
				c.Close(context.Background())
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecute_TrappingExport(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{
		Manifest: []byte(widgetManifest),
		Traps:    []string{"widget.default"},
	}).Build()

	c, err := e.Execute(ctx, "traps", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	v, err := c.Get(ctx, "./Widget", "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	_, err = v.(*Function).Call(ctx)
	if !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Fatalf("err = %v, want execution failure", err)
	}

	if _, err := v.(*Function).Call(ctx, 1); !stderrors.Is(err, &errors.Error{Kind: errors.KindInvalidInput}) {
		t.Errorf("wrong arity err = %v", err)
	}
}

func TestExecute_SharedProbe(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	reg := shared.New()
	if _, err := reg.Register(ctx, manifest.SharedDecl{Name: "ui", Version: "1.0.0", Singleton: true}, shared.Host,
		func(context.Context) (any, error) { return "ui-instance", nil }); err != nil {
		t.Fatal(err)
	}

	code := (&bundle.Builder{
		Manifest: []byte(`{"name":"Probe","exposes":{"./Probe":"probe"},"shared":{"ui":{"singleton":true},"theme":{}}}`),
		Probes: map[string]string{
			"probe.ui":    "ui",
			"probe.theme": "theme",
			"probe.again": "ui",
		},
	}).Build()

	c, err := e.Execute(ctx, "probe", code, reg.View())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	mod, err := c.Module(ctx, "./Probe")
	if err != nil {
		t.Fatal(err)
	}

	ui := call(t, mod["ui"])
	if ui == 0 {
		t.Error("ui should resolve to a handle")
	}
	if again := call(t, mod["again"]); again != ui {
		t.Errorf("handle for the same name changed: %d vs %d", again, ui)
	}
	if got := call(t, mod["theme"]); got != 0 {
		t.Errorf("theme = %d, want 0 before binding", got)
	}

	c.Bind("theme", "dark")
	if got := call(t, mod["theme"]); got == 0 || got == ui {
		t.Errorf("theme = %d, want a fresh handle after binding", got)
	}

	decls := c.Declarations()
	if len(decls) != 2 {
		t.Fatalf("declarations = %d, want 2", len(decls))
	}
	for _, d := range decls {
		if d.Provider != nil {
			t.Errorf("%s: consumer-only declaration should have no provider", d.Name)
		}
	}
}

func TestHostModuleExports(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.ensureHost(ctx); err != nil {
		t.Fatal(err)
	}

	defs := e.runtime.Module(HostModule).ExportedFunctionDefinitions()
	if len(defs) != len(hostFuncs) {
		t.Fatalf("host exports = %d, want %d", len(defs), len(hostFuncs))
	}
	for name := range hostFuncs {
		if _, ok := defs[name]; !ok {
			t.Errorf("host module does not export %s", name)
		}
	}
	// Handles only flow out to guests.
	if res := defs["shared"].ResultTypes(); len(res) != 1 {
		t.Errorf("shared results = %v", res)
	}
	for name, def := range defs {
		if name != "shared" && len(def.ResultTypes()) != 0 {
			t.Errorf("%s should return nothing", name)
		}
	}
}

func TestExecute_SharedLibrary(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{
		Manifest: []byte(`{"name":"Lib","shared":{"@acme/math":{"version":"2.1.0","singleton":true}}}`),
		Constants: map[string]int32{
			"shared:@acme/math.pi":  3,
			"shared:@acme/math.one": 1,
		},
	}).Build()

	c, err := e.Execute(ctx, "lib", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	decls := c.Declarations()
	if len(decls) != 1 || decls[0].Provider == nil {
		t.Fatalf("declarations = %+v", decls)
	}

	inst, err := decls[0].Provider(ctx)
	if err != nil {
		t.Fatal(err)
	}
	lib, ok := inst.(*Library)
	if !ok {
		t.Fatalf("provider returned %T", inst)
	}
	if lib.Name != "@acme/math" || lib.Version != "2.1.0" {
		t.Errorf("library = %s@%s", lib.Name, lib.Version)
	}
	if names := lib.Names(); len(names) != 2 || names[0] != "one" || names[1] != "pi" {
		t.Errorf("Names = %v", names)
	}
	res, err := lib.Call(ctx, "pi")
	if err != nil || res[0] != 3 {
		t.Errorf("pi() = %v, %v", res, err)
	}
	if _, err := lib.Call(ctx, "tau"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing function err = %v", err)
	}
}

func TestExecute_GuestLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	ctx := context.Background()
	e := newEngine(t)

	code := (&bundle.Builder{Manifest: []byte(widgetManifest), LogMessage: "booting"}).Build()
	c, err := e.Execute(ctx, "logger", code, shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	entries := logs.FilterMessage("booting").All()
	if len(entries) != 1 {
		t.Fatalf("guest log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["source"] != "guest" || fields["script_id"] != "logger" {
		t.Errorf("fields = %v", fields)
	}
	if entries[0].Level != zap.InfoLevel {
		t.Errorf("level = %v", entries[0].Level)
	}
}

func TestExecute_IndependentContainers(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	a, err := e.Execute(ctx, "a", (&bundle.Builder{
		Manifest:  []byte(widgetManifest),
		Constants: map[string]int32{"widget.default": 1},
	}).Build(), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Execute(ctx, "b", (&bundle.Builder{
		Manifest:  []byte(widgetManifest),
		Constants: map[string]int32{"widget.default": 2},
	}).Build(), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(ctx)

	va, _ := a.Get(ctx, "./Widget", "default")
	vb, _ := b.Get(ctx, "./Widget", "default")
	if call(t, va) != 1 || call(t, vb) != 2 {
		t.Error("containers should not share exports")
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := a.Module(ctx, "./Widget"); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("closed container err = %v", err)
	}
	if call(t, vb) != 2 {
		t.Error("closing one container should not affect another")
	}
}
