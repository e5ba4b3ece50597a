package jsengine

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
	"github.com/wippyai/federation/shared"
)

const widgetBundle = `
var calls = 0;
federation.register({
	name: "Widgets",
	exposes: {
		"./Widget": function () {
			calls++;
			return {
				default: function (n) { return n * 2; },
				label: "widget",
				calls: function () { return calls; },
			};
		},
		"./Answer": function () { return 42; },
	},
	shared: {
		ui: { version: "1.2.0", singleton: true, get: function () { return { kind: "ui" }; } },
		theme: {},
	},
});
`

func TestExecute_Register(t *testing.T) {
	ctx := context.Background()
	c, err := New().Execute(ctx, "widgets", []byte(widgetBundle), shared.View{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	if c.Name != "Widgets" || c.ScriptID != "widgets" {
		t.Errorf("container = %s/%s", c.Name, c.ScriptID)
	}
	if paths := c.Paths(); len(paths) != 2 {
		t.Errorf("Paths = %v", paths)
	}

	v, err := c.Get(ctx, "./Widget", "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	fn := v.(*Value)
	if !fn.IsFunction() {
		t.Fatal("default should be a function")
	}
	res, err := fn.Call(ctx, 21)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := res.Export(); got != int64(42) {
		t.Errorf("default(21) = %v (%T), want 42", got, got)
	}

	label, err := c.Get(ctx, "./Widget", "label")
	if err != nil {
		t.Fatal(err)
	}
	if label.(*Value).String() != "widget" {
		t.Errorf("label = %v", label)
	}

	again, _ := c.Get(ctx, "./Widget", "default")
	if again != v {
		t.Error("repeated Get should return the same value")
	}

	counter, _ := c.Get(ctx, "./Widget", "calls")
	res, err = counter.(*Value).Call(ctx)
	if err != nil || res.Export() != int64(1) {
		t.Errorf("factory calls = %v, %v; want 1", res, err)
	}

	answer, err := c.Get(ctx, "./Answer", "default")
	if err != nil {
		t.Fatal(err)
	}
	if answer.(*Value).Export() != int64(42) {
		t.Errorf("answer = %v", answer.(*Value).Export())
	}

	if _, err := c.Get(ctx, "./Widget", "missing"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing export err = %v", err)
	}
}

func TestExecute_Declarations(t *testing.T) {
	ctx := context.Background()
	c, err := New().Execute(ctx, "widgets", []byte(widgetBundle), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	decls := c.Declarations()
	if len(decls) != 2 {
		t.Fatalf("declarations = %d", len(decls))
	}
	theme, ui := decls[0], decls[1]
	if theme.Name != "theme" || theme.Provider != nil {
		t.Errorf("theme = %+v", theme.SharedDecl)
	}
	if ui.Name != "ui" || ui.Version != "1.2.0" || !ui.Singleton || ui.Provider == nil {
		t.Fatalf("ui = %+v", ui.SharedDecl)
	}

	inst, err := ui.Provider(ctx)
	if err != nil {
		t.Fatal(err)
	}
	kind, ok := inst.(*Value).Get("kind")
	if !ok || kind.String() != "ui" {
		t.Errorf("provided instance kind = %v", kind)
	}
}

func TestExecute_SharedLookup(t *testing.T) {
	ctx := context.Background()

	reg := shared.New()
	if _, err := reg.Register(ctx, manifest.SharedDecl{Name: "config", Version: "1.0.0", Singleton: true}, shared.Host,
		func(context.Context) (any, error) { return map[string]any{"region": "eu"}, nil }); err != nil {
		t.Fatal(err)
	}

	bundle := `
	federation.register({
		name: "Consumer",
		exposes: {
			"./Region": function () {
				var cfg = federation.shared("config");
				return cfg ? cfg.region : "none";
			},
			"./Theme": function () {
				var theme = federation.shared("theme");
				return theme === undefined ? "unbound" : theme;
			},
		},
		shared: { config: { singleton: true }, theme: {} },
	});`

	c, err := New().Execute(ctx, "consumer", []byte(bundle), reg.View())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer c.Close(ctx)

	region, err := c.Get(ctx, "./Region", "default")
	if err != nil {
		t.Fatal(err)
	}
	if region.(*Value).String() != "eu" {
		t.Errorf("region = %v", region)
	}

	c.Bind("theme", "dark")
	theme, err := c.Get(ctx, "./Theme", "default")
	if err != nil {
		t.Fatal(err)
	}
	if theme.(*Value).String() != "dark" {
		t.Errorf("theme = %v", theme)
	}
}

func TestExecute_CrossContainerValue(t *testing.T) {
	ctx := context.Background()
	e := New()

	provider := `
	federation.register({
		name: "Lib",
		shared: {
			math: {
				version: "2.0.0",
				singleton: true,
				get: function () {
					return { twice: function (n) { return n * 2; }, name: "math" };
				},
			},
		},
	});`
	lib, err := e.Execute(ctx, "lib", []byte(provider), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close(ctx)

	inst, err := lib.Declarations()[0].Provider(ctx)
	if err != nil {
		t.Fatal(err)
	}

	consumer := `
	federation.register({
		name: "App",
		exposes: {
			"./Run": function () {
				var m = federation.shared("math");
				return m.name + ":" + m.twice(4);
			},
		},
		shared: { math: { singleton: true } },
	});`
	app, err := e.Execute(ctx, "app", []byte(consumer), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close(ctx)
	app.Bind("math", inst)

	v, err := app.Get(ctx, "./Run", "default")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := v.(*Value).String(); got != "math:8" {
		t.Errorf("result = %q, want math:8", got)
	}
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"syntax error", `federation.register({`},
		{"throw", `throw new Error("boom")`},
		{"no register", `var x = 1;`},
		{"register twice", `federation.register({name: "A"}); federation.register({name: "A"});`},
		{"register non object", `federation.register("A")`},
		{"missing name", `federation.register({exposes: {}})`},
		{"bad path", `federation.register({name: "A", exposes: {"Widget": function () {}}})`},
		{"exposed value not function", `federation.register({name: "A", exposes: {"./W": 1}})`},
		{"bad version", `federation.register({name: "A", shared: {ui: {version: "nope"}}})`},
		{"host globals absent", `require("fs")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Execute(context.Background(), "bad", []byte(tt.code), shared.View{})
			if !stderrors.Is(err, errors.ErrExecutionFailed) {
				t.Errorf("err = %v, want execution failure", err)
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := New(WithTimeout(50 * time.Millisecond))

	start := time.Now()
	_, err := e.Execute(context.Background(), "spin", []byte(`while (true) {}`), shared.View{})
	if !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Fatalf("err = %v, want execution failure", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("evaluation was not interrupted")
	}
}

func TestValue_CallTimeoutAndRecovery(t *testing.T) {
	ctx := context.Background()
	bundle := `
	federation.register({
		name: "Spin",
		exposes: {
			"./Spin": function () {
				return {
					spin: function () { while (true) {} },
					ok: function () { return "ok"; },
				};
			},
		},
	});`
	c, err := New(WithTimeout(50*time.Millisecond)).Execute(ctx, "spin", []byte(bundle), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	spin, _ := c.Get(ctx, "./Spin", "spin")
	if _, err := spin.(*Value).Call(ctx); !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Fatalf("spin err = %v", err)
	}

	ok, _ := c.Get(ctx, "./Spin", "ok")
	res, err := ok.(*Value).Call(ctx)
	if err != nil || res.String() != "ok" {
		t.Errorf("call after interrupt = %v, %v", res, err)
	}
}

func TestValue_ThrowAndClose(t *testing.T) {
	ctx := context.Background()
	bundle := `
	federation.register({
		name: "Thrower",
		exposes: {
			"./T": function () {
				return { fail: function () { throw new Error("nope"); }, one: function () { return 1; } };
			},
			"./Broken": function () { throw new Error("factory"); },
		},
	});`
	c, err := New().Execute(ctx, "thrower", []byte(bundle), shared.View{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Get(ctx, "./Broken", "default"); !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Errorf("factory err = %v", err)
	}

	fail, _ := c.Get(ctx, "./T", "fail")
	if _, err := fail.(*Value).Call(ctx); !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Errorf("throw err = %v", err)
	}

	one, _ := c.Get(ctx, "./T", "one")
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := one.(*Value).Call(ctx); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("call after close err = %v", err)
	}
}

func TestExecute_Log(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	bundle := `federation.log("warn", "careful"); federation.log("plain"); federation.register({name: "L"});`
	c, err := New().Execute(context.Background(), "logger", []byte(bundle), shared.View{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())

	warn := logs.FilterMessage("careful").All()
	if len(warn) != 1 || warn[0].Level != zap.WarnLevel {
		t.Fatalf("warn entries = %v", warn)
	}
	if warn[0].ContextMap()["script_id"] != "logger" {
		t.Errorf("fields = %v", warn[0].ContextMap())
	}
	if plain := logs.FilterMessage("plain").All(); len(plain) != 1 || plain[0].Level != zap.InfoLevel {
		t.Errorf("plain entries = %v", plain)
	}
}

func TestExecute_SeparateRealms(t *testing.T) {
	ctx := context.Background()
	e := New()
	code := `
	var counter = (typeof counter === "number") ? counter + 1 : 1;
	globalThis.leak = (globalThis.leak || 0) + 1;
	federation.register({name: "R", exposes: {"./C": function () { return globalThis.leak; }}});`

	for i := 0; i < 2; i++ {
		c, err := e.Execute(ctx, "realm", []byte(code), shared.View{})
		if err != nil {
			t.Fatal(err)
		}
		v, err := c.Get(ctx, "./C", "default")
		if err != nil {
			t.Fatal(err)
		}
		if v.(*Value).Export() != int64(1) {
			t.Errorf("run %d: global state leaked: %v", i, v.(*Value).Export())
		}
		c.Close(ctx)
	}
}
