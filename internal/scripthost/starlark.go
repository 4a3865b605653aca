package scripthost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/roach88/bitstrat/internal/bitmetrics"
	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
)

// EntryPoint is the function every script must define.
const EntryPoint = "run"

// DefaultMaxExecutionSteps bounds the Starlark interpreter per invocation.
const DefaultMaxExecutionSteps = 10_000_000

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Starlark runs scripts written in Starlark. Each invocation gets a fresh
// thread and fresh globals; there is no load() and no IO.
//
// Scripts define run(input) and may call these builtins:
//
//	get_bits()                          current bits ("bits" or "afterBits" input)
//	log(msg)                            debug log line attributed to the script
//	get_all_metrics(bits=None)          metrics for bits or the current bits
//	execute_operation(op, bits, params) dry-run an operation; None on failure
//	get_cost(op)                        authoritative operation cost
type Starlark struct {
	router   ops.Router
	calc     bitmetrics.Calculator
	logger   *slog.Logger
	maxSteps uint64
}

// StarlarkOption configures a Starlark host.
type StarlarkOption func(*Starlark)

// WithLogger sets the logger for script log() and print() output.
func WithLogger(l *slog.Logger) StarlarkOption {
	return func(s *Starlark) { s.logger = l }
}

// WithMaxExecutionSteps bounds interpreter steps per invocation.
func WithMaxExecutionSteps(n uint64) StarlarkOption {
	return func(s *Starlark) { s.maxSteps = n }
}

// NewStarlark creates a host whose builtins use router and calc.
func NewStarlark(router ops.Router, calc bitmetrics.Calculator, opts ...StarlarkOption) *Starlark {
	s := &Starlark{
		router:   router,
		calc:     calc,
		logger:   slog.Default(),
		maxSteps: DefaultMaxExecutionSteps,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile parses source and checks that it defines run. Used to validate
// scripts before they are stored.
func (s *Starlark) Compile(name, source string) error {
	thread := &starlark.Thread{Name: "compile:" + name}
	thread.SetMaxExecutionSteps(s.maxSteps)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, source, s.predeclared(nil))
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	if _, ok := globals[EntryPoint].(starlark.Callable); !ok {
		return fmt.Errorf("compile %s: script must define %s(input)", name, EntryPoint)
	}
	return nil
}

// Run implements Host.
func (s *Starlark) Run(ctx context.Context, source string, role ir.Role, input map[string]any, timeout time.Duration) (any, error) {
	name := ScriptName(ctx)
	if name == "" {
		name = string(role)
	}
	logger := s.logger.With("script", name, "role", string(role))

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("script print", "msg", msg)
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	var timedOut atomic.Bool
	done := make(chan struct{})
	defer close(done)
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-timer:
			timedOut.Store(true)
			thread.Cancel("timeout")
		}
	}()

	inputValue, err := toStarlark(input)
	if err != nil {
		return nil, fmt.Errorf("convert input: %w", err)
	}

	out, err := s.exec(thread, name, source, input, inputValue, logger)
	if err != nil {
		if timedOut.Load() {
			return nil, fmt.Errorf("%s after %s: %w", name, timeout, ErrTimeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, err
	}
	return out, nil
}

func (s *Starlark) exec(thread *starlark.Thread, name, source string, input map[string]any, inputValue starlark.Value, logger *slog.Logger) (any, error) {
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, source, s.predeclared(input, logger))
	if err != nil {
		return nil, describe(err)
	}
	fn, ok := globals[EntryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: script must define %s(input)", name, EntryPoint)
	}
	ret, err := starlark.Call(thread, fn, starlark.Tuple{inputValue}, nil)
	if err != nil {
		return nil, describe(err)
	}
	out, err := fromStarlark(ret)
	if err != nil {
		return nil, fmt.Errorf("%s: return value: %w", name, err)
	}
	return out, nil
}

// describe keeps the Starlark backtrace, which carries script line numbers.
func describe(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return errors.New(evalErr.Backtrace())
	}
	return err
}

func (s *Starlark) predeclared(input map[string]any, loggers ...*slog.Logger) starlark.StringDict {
	logger := s.logger
	if len(loggers) > 0 {
		logger = loggers[0]
	}
	current := func() bits.Buffer {
		if v, ok := input["bits"].(string); ok {
			return bits.Buffer(v)
		}
		if v, ok := input["afterBits"].(string); ok {
			return bits.Buffer(v)
		}
		return bits.Empty
	}

	return starlark.StringDict{
		"get_bits": starlark.NewBuiltin("get_bits", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.String(current()), nil
		}),
		"log": starlark.NewBuiltin("log", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var msg string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg); err != nil {
				return nil, err
			}
			logger.Debug("script log", "msg", msg)
			return starlark.None, nil
		}),
		"get_all_metrics": starlark.NewBuiltin("get_all_metrics", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var target starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "bits?", &target); err != nil {
				return nil, err
			}
			buf := current()
			if target != starlark.None {
				str, ok := starlark.AsString(target)
				if !ok {
					return nil, fmt.Errorf("%s: bits must be a string", b.Name())
				}
				parsed, err := bits.Parse(str)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", b.Name(), err)
				}
				buf = parsed
			}
			return toStarlark(metricMap(s.calc.Compute(buf)))
		}),
		"execute_operation": starlark.NewBuiltin("execute_operation", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var op, target string
			var params starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "op", &op, "bits", &target, "params?", &params); err != nil {
				return nil, err
			}
			obj := ir.Object{}
			if params != starlark.None {
				raw, err := fromStarlark(params)
				if err != nil {
					return nil, fmt.Errorf("%s: params: %w", b.Name(), err)
				}
				m, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s: params must be a dict", b.Name())
				}
				if obj, err = ir.ObjectFromMap(m); err != nil {
					return nil, fmt.Errorf("%s: params: %w", b.Name(), err)
				}
			}
			buf, err := bits.Parse(target)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			res := s.router.Apply(op, buf, obj)
			if !res.Success {
				return starlark.None, nil
			}
			return starlark.String(res.Bits), nil
		}),
		"get_cost": starlark.NewBuiltin("get_cost", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var op string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "op", &op); err != nil {
				return nil, err
			}
			return starlark.Float(s.router.Cost(op)), nil
		}),
	}
}
