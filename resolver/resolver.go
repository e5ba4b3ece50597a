package resolver

import (
	"sync"

	"github.com/wippyai/federation/errors"
)

// Descriptor identifies what to fetch for a script id and whether the
// fetched bytes may be cached across sessions.
type Descriptor struct {
	ID        string
	URL       string
	Cacheable bool
}

// Caller carries information about who asked for a script.
type Caller struct {
	// SourceContainer names the container whose code triggered the import.
	// Empty for host-initiated imports.
	SourceContainer string
}

// Func maps a script id to a descriptor, or returns nil to decline.
// Resolvers compute locations only; they must not perform I/O.
type Func func(id string, caller Caller) *Descriptor

// Chain tries resolvers in registration order; the first non-nil
// descriptor wins.
type Chain struct {
	funcs []Func
	mu    sync.RWMutex
}

func NewChain(funcs ...Func) *Chain {
	c := &Chain{}
	for _, fn := range funcs {
		c.Add(fn)
	}
	return c
}

// Add appends fn to the end of the chain. Nil resolvers are ignored.
func (c *Chain) Add(fn Func) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.funcs = append(c.funcs, fn)
	c.mu.Unlock()
}

// Resolve returns the first descriptor produced for id. When every resolver
// declines the error is UnknownScriptID, which callers must not retry.
func (c *Chain) Resolve(id string, caller Caller) (Descriptor, error) {
	if id == "" {
		return Descriptor{}, errors.InvalidInput(errors.PhaseResolve, "script id cannot be empty")
	}

	c.mu.RLock()
	funcs := make([]Func, len(c.funcs))
	copy(funcs, c.funcs)
	c.mu.RUnlock()

	for _, fn := range funcs {
		d := fn(id, caller)
		if d == nil {
			continue
		}
		out := *d
		if out.ID == "" {
			out.ID = id
		}
		if out.URL == "" {
			return Descriptor{}, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				ScriptID(id).
				Detail("resolver returned a descriptor without url").
				Build()
		}
		return out, nil
	}
	return Descriptor{}, errors.UnknownScriptID(id)
}

// Len returns the number of registered resolvers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.funcs)
}

// Reset removes all resolvers.
func (c *Chain) Reset() {
	c.mu.Lock()
	c.funcs = nil
	c.mu.Unlock()
}
