package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roach88/bitstrat/internal/bitmetrics"
	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
	"github.com/roach88/bitstrat/internal/scripthost"
	"github.com/roach88/bitstrat/internal/telemetry"
)

// ScriptResolver looks scripts up by name at run start.
// Implemented by strategy.Library.
type ScriptResolver interface {
	Script(name string) (ir.ScriptRef, bool)
}

// ResultStore persists finalized results. Implemented by store.Store.
type ResultStore interface {
	Save(ctx context.Context, res *ir.ExecutionResult) error
}

const (
	// DefaultMaxSteps is the default maximum number of recorded steps per run.
	DefaultMaxSteps = 1000

	// DefaultScriptTimeout bounds each script invocation.
	DefaultScriptTimeout = 5 * time.Second
)

// Engine executes strategies against bit buffers.
//
// Thread-safety model:
//   - Execute(): safe from any goroutine; each call owns its run state
//   - Subscribe(): safe from any goroutine
//
// INVARIANTS:
//   - current bits and remaining budget are owned by exactly one run
//   - steps are recorded in plan order, never in completion order
//   - only committed steps change the bits or the budget
type Engine struct {
	scripts ScriptResolver
	router  ops.Router
	calc    bitmetrics.Calculator
	host    scripthost.Host

	store     ResultStore
	logger    *slog.Logger
	ids       IDGenerator
	now       TimeSource
	telemetry *telemetry.Telemetry
	clock     *Clock

	maxSteps      int
	scriptTimeout time.Duration
	parallel      bool
	verifyMode    ir.VerifyMode

	mu          sync.Mutex
	subscribers map[int]func(Progress)
	nextSub     int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxSteps sets the maximum steps quota per run.
//
// Default: 1000 steps (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithScriptTimeout bounds each script invocation. Zero disables the
// wall-clock limit; the host's step limit still applies.
func WithScriptTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.scriptTimeout = d
	}
}

// WithResultStore persists every finalized result.
func WithResultStore(s ResultStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the execution ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithTimeSource sets the wall-clock source for timestamps and durations.
func WithTimeSource(t TimeSource) EngineOption {
	return func(e *Engine) {
		e.now = t
	}
}

// WithTelemetry records run metrics.
func WithTelemetry(t *telemetry.Telemetry) EngineOption {
	return func(e *Engine) {
		e.telemetry = t
	}
}

// WithParallelStages enables concurrent algorithm invocation for grouped
// stages with disjoint ranges. Default: enabled.
func WithParallelStages(enabled bool) EngineOption {
	return func(e *Engine) {
		e.parallel = enabled
	}
}

// WithVerifyMode selects the verification run at finalization.
// Default: ir.VerifyStrict.
func WithVerifyMode(m ir.VerifyMode) EngineOption {
	return func(e *Engine) {
		e.verifyMode = m
	}
}

// New creates an Engine. scripts is consulted once per run; later edits
// to a script only affect runs started afterwards.
func New(
	scripts ScriptResolver,
	router ops.Router,
	calc bitmetrics.Calculator,
	host scripthost.Host,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		scripts:       scripts,
		router:        router,
		calc:          calc,
		host:          host,
		logger:        slog.Default(),
		ids:           UUIDv7Generator{},
		now:           SystemTime{},
		clock:         NewClock(),
		maxSteps:      DefaultMaxSteps,
		scriptTimeout: DefaultScriptTimeout,
		parallel:      true,
		verifyMode:    ir.VerifyStrict,
		subscribers:   make(map[int]func(Progress)),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Progress is delivered to subscribers during a run.
type Progress struct {
	Seq         int64
	ExecutionID string
	Status      ir.ExecutionStatus
	Stage       int
	Steps       int
	Percent     float64
	Remaining   float64
	Replanned   bool

	// Result is a snapshot; it is only complete once Status is terminal.
	Result *ir.ExecutionResult
}

// Subscribe registers fn for progress notifications from every run of
// this engine. fn is called synchronously from the running goroutine and
// must not block. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func(Progress)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

func (e *Engine) notify(p Progress) {
	e.mu.Lock()
	subs := make([]func(Progress), 0, len(e.subscribers))
	for i := 0; i < e.nextSub; i++ {
		if fn, ok := e.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	e.mu.Unlock()

	p.Seq = e.clock.Next()
	for _, fn := range subs {
		fn(p)
	}
}

// Execute runs strategy against initial with the given budget.
//
// It always returns a non-nil result. The error is non-nil only for
// fatal outcomes (missing scheduler, scheduler crash, invalid budget,
// cancellation, broken record) and its message is also stored in
// result.Error. Per-step failures and rejections are recorded on the
// steps and never returned.
func (e *Engine) Execute(ctx context.Context, strategy ir.StrategyDefinition, initial bits.Buffer, budget float64) (*ir.ExecutionResult, error) {
	r := e.newRun(strategy, initial)
	r.log.Info("execution starting",
		"bits", initial.Len(),
		"budget", budget,
		"algorithms", len(strategy.Algorithms))

	r.publish(0)
	err := r.execute(ctx, budget)
	return r.finalize(ctx, err)
}

func validBudget(b float64) bool {
	return !math.IsNaN(b) && !math.IsInf(b, 0) && b >= 0
}
