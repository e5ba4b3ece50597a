package container

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/federation/errors"
	"github.com/wippyai/federation/manifest"
)

type widget struct{ name string }

func TestGet_MemoizesFactory(t *testing.T) {
	c := New("Remote", "Remote")
	var calls atomic.Int32
	c.Expose("./Widget", func(context.Context) (Exports, error) {
		calls.Add(1)
		return Exports{"default": &widget{name: "w"}}, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	got := make([]any, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(ctx, "./Widget", "default")
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			got[i] = v
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("factory calls = %d, want 1", calls.Load())
	}
	for i := range got {
		if got[i] != got[0] {
			t.Errorf("Get %d returned a different value", i)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	c := New("Remote", "Remote")
	c.Expose("./Widget", func(context.Context) (Exports, error) {
		return Exports{"default": 1}, nil
	})

	_, err := c.Get(context.Background(), "./Missing", "default")
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing path err = %v", err)
	}
	_, err = c.Get(context.Background(), "./Widget", "named")
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing export err = %v", err)
	}
}

func TestGet_FactoryFailureNotMemoized(t *testing.T) {
	c := New("Remote", "remote-id")
	var calls atomic.Int32
	c.Expose("./Flaky", func(context.Context) (Exports, error) {
		if calls.Add(1) == 1 {
			return nil, stderrors.New("init failed")
		}
		return Exports{"default": "ok"}, nil
	})

	_, err := c.Get(context.Background(), "./Flaky", "default")
	if !stderrors.Is(err, errors.ErrExecutionFailed) {
		t.Fatalf("err = %v, want ExecutionFailed", err)
	}
	var fe *errors.Error
	if stderrors.As(err, &fe) && fe.ScriptID != "remote-id" {
		t.Errorf("ScriptID = %q", fe.ScriptID)
	}

	v, err := c.Get(context.Background(), "./Flaky", "default")
	if err != nil || v != "ok" {
		t.Errorf("retry = %v, %v", v, err)
	}
}

func TestDeclarationsAndBindings(t *testing.T) {
	c := New("Remote", "Remote")
	c.Declare(manifest.SharedDecl{Name: "ui", Version: "1.0.0", Singleton: true}, nil)
	c.Declare(manifest.SharedDecl{Name: "lodash", Version: "4.17.21"}, nil)

	decls := c.Declarations()
	if len(decls) != 2 || decls[0].Name != "lodash" || decls[1].Name != "ui" {
		t.Fatalf("Declarations = %+v", decls)
	}

	inst := &widget{name: "ui"}
	c.Bind("ui", inst)
	if v, ok := c.Shared("ui"); !ok || v != inst {
		t.Errorf("Shared(ui) = %v, %v", v, ok)
	}
	if _, ok := c.Shared("lodash"); ok {
		t.Error("unbound name should report false")
	}
	b := c.Bindings()
	b["x"] = 1
	if _, ok := c.Shared("x"); ok {
		t.Error("Bindings should return a copy")
	}
}

func TestClose(t *testing.T) {
	c := New("Remote", "Remote")
	c.Expose("./A", func(context.Context) (Exports, error) { return Exports{}, nil })

	var order []int
	c.OnClose(func(context.Context) error { order = append(order, 1); return nil })
	c.OnClose(func(context.Context) error { order = append(order, 2); return stderrors.New("second") })

	if err := c.Close(context.Background()); err == nil || err.Error() != "second" {
		t.Errorf("Close err = %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("closer order = %v", order)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := c.Get(context.Background(), "./A", "default"); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("Get after Close err = %v", err)
	}
}

func TestPaths(t *testing.T) {
	c := New("Remote", "Remote")
	for _, p := range []string{"./b", "./a"} {
		c.Expose(p, func(context.Context) (Exports, error) { return nil, nil })
	}
	if p := c.Paths(); len(p) != 2 || p[0] != "./a" {
		t.Errorf("Paths = %v", p)
	}
	ex, err := c.Module(context.Background(), "./a")
	if err != nil || ex == nil {
		t.Errorf("nil exports should become empty bag, got %v, %v", ex, err)
	}
}
