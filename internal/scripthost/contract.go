// Package scripthost defines the boundary between the engine and user
// scripts: the Host interface, the typed input shape for each role, and
// decoders that turn loosely typed script output into validated
// envelopes.
//
// Scripts exchange JSON-like data only: nil, bool, int64, float64,
// string, []any and map[string]any.
package scripthost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// Host executes one script invocation in isolation.
//
// Run returns an error when the script raises, exceeds timeout, or the
// context is cancelled. Implementations must not let one invocation
// observe state from another.
type Host interface {
	Run(ctx context.Context, source string, role ir.Role, input map[string]any, timeout time.Duration) (any, error)
}

// ErrTimeout is wrapped by errors caused by an invocation running past
// its timeout.
var ErrTimeout = errors.New("script timed out")

// IsTimeout reports whether err was caused by a script timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// EnvelopeError reports script output that does not match the role's
// contract.
type EnvelopeError struct {
	Role   ir.Role
	Reason string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("malformed %s output: %s", e.Role, e.Reason)
}

func envelopeErr(role ir.Role, format string, args ...any) error {
	return &EnvelopeError{Role: role, Reason: fmt.Sprintf(format, args...)}
}

type scriptNameKey struct{}

// WithScriptName attaches the invoked script's name to ctx so hosts can
// label log output.
func WithScriptName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scriptNameKey{}, name)
}

// ScriptName returns the name set by WithScriptName, or "".
func ScriptName(ctx context.Context) string {
	name, _ := ctx.Value(scriptNameKey{}).(string)
	return name
}

// SchedulerInput is passed to scheduler scripts.
type SchedulerInput struct {
	Bits                bits.Buffer
	Budget              float64
	AvailableAlgorithms []string
	AvailablePolicies   []string
	BudgetExhausted     bool
}

// Map converts the input to script data.
func (in SchedulerInput) Map() map[string]any {
	return map[string]any{
		"bits":                in.Bits.String(),
		"budget":              in.Budget,
		"availableAlgorithms": stringList(in.AvailableAlgorithms),
		"availablePolicies":   stringList(in.AvailablePolicies),
		"budgetExhausted":     in.BudgetExhausted,
	}
}

// AlgorithmInput is passed to algorithm scripts. Range is set when the
// scheduler declared one for this invocation.
type AlgorithmInput struct {
	Bits   bits.Buffer
	Budget float64
	Range  *bits.Range
}

// Map converts the input to script data.
func (in AlgorithmInput) Map() map[string]any {
	m := map[string]any{
		"bits":   in.Bits.String(),
		"budget": in.Budget,
	}
	if in.Range != nil {
		m["range"] = []any{int64(in.Range.Start), int64(in.Range.End)}
	}
	return m
}

// ScoringInput is passed to scoring scripts.
type ScoringInput struct {
	BeforeBits    bits.Buffer
	AfterBits     bits.Buffer
	MetricsBefore map[string]float64
	MetricsAfter  map[string]float64
}

// Map converts the input to script data.
func (in ScoringInput) Map() map[string]any {
	return map[string]any{
		"beforeBits":    in.BeforeBits.String(),
		"afterBits":     in.AfterBits.String(),
		"metricsBefore": metricMap(in.MetricsBefore),
		"metricsAfter":  metricMap(in.MetricsAfter),
	}
}

// PolicyInput is passed to policy scripts.
type PolicyInput struct {
	Operation       string
	Params          ir.Object
	Cost            float64
	Score           float64
	BudgetRemaining float64
}

// Map converts the input to script data. The cost is exposed as both
// "cost" and "proposedCost".
func (in PolicyInput) Map() map[string]any {
	params := map[string]any{}
	if in.Params != nil {
		params = in.Params.ToMap()
	}
	return map[string]any{
		"operation":       in.Operation,
		"params":          params,
		"cost":            in.Cost,
		"proposedCost":    in.Cost,
		"score":           in.Score,
		"budgetRemaining": in.BudgetRemaining,
	}
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func metricMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
