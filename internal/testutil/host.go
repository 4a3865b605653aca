package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/scripthost"
)

// ScriptFunc stands in for a script body.
type ScriptFunc func(ctx context.Context, input map[string]any) (any, error)

// Call is one recorded FakeHost invocation.
type Call struct {
	Script string
	Role   ir.Role
	Input  map[string]any
}

// FakeHost is a scripthost.Host whose scripts are Go functions keyed by
// source text. Tests register a ScriptRef whose Source is a handle such
// as "sched" and bind a ScriptFunc to the same handle.
//
// Thread-safety: FakeHost is safe for concurrent use.
type FakeHost struct {
	mu      sync.Mutex
	scripts map[string]ScriptFunc
	calls   []Call
}

// NewFakeHost returns a host with no handlers.
func NewFakeHost() *FakeHost {
	return &FakeHost{scripts: make(map[string]ScriptFunc)}
}

// Handle binds fn to source and returns h for chaining.
func (h *FakeHost) Handle(source string, fn ScriptFunc) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[source] = fn
	return h
}

// Run implements scripthost.Host. A timeout is enforced the same way a
// real host would: an invocation running past it returns an error
// wrapping scripthost.ErrTimeout.
func (h *FakeHost) Run(ctx context.Context, source string, role ir.Role, input map[string]any, timeout time.Duration) (any, error) {
	h.mu.Lock()
	fn, ok := h.scripts[source]
	h.calls = append(h.calls, Call{Script: scripthost.ScriptName(ctx), Role: role, Input: input})
	h.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no handler for script source %q", source)
	}
	if timeout <= 0 {
		return fn(ctx, input)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := fn(ctx, input)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", scripthost.ErrTimeout, timeout)
	}
	return out, err
}

// Calls returns a copy of every invocation so far.
func (h *FakeHost) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Call, len(h.calls))
	copy(out, h.calls)
	return out
}

// CallCount returns how often the named script ran.
func (h *FakeHost) CallCount(script string) int {
	n := 0
	for _, c := range h.Calls() {
		if c.Script == script {
			n++
		}
	}
	return n
}

// Return is a ScriptFunc that always returns v.
func Return(v any) ScriptFunc {
	return func(context.Context, map[string]any) (any, error) {
		return v, nil
	}
}

// Fail is a ScriptFunc that always fails with msg.
func Fail(msg string) ScriptFunc {
	return func(context.Context, map[string]any) (any, error) {
		return nil, errors.New(msg)
	}
}

// Sequence returns each value in order, then keeps returning the last.
func Sequence(vs ...any) ScriptFunc {
	var mu sync.Mutex
	i := 0
	return func(context.Context, map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(vs) == 0 {
			return nil, nil
		}
		v := vs[i]
		if i < len(vs)-1 {
			i++
		}
		return v, nil
	}
}

var _ scripthost.Host = (*FakeHost)(nil)
