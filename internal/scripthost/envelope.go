package scripthost

import (
	"math"
	"strings"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// Invocation is one algorithm call requested by a plan.
type Invocation struct {
	Algorithm string      `json:"algorithm"`
	Range     *bits.Range `json:"range,omitempty"`
}

// Stage is one step of a plan. A grouped stage was declared as a list
// and is a candidate for parallel execution.
type Stage struct {
	Invocations []Invocation `json:"invocations"`
	Grouped     bool         `json:"grouped,omitempty"`
}

// Plan is the decoded scheduler output.
type Plan struct {
	Stages []Stage `json:"stages"`
}

// Proposal is the decoded algorithm output.
type Proposal struct {
	Operation     string
	Params        ir.Object
	EstimatedCost float64
}

// Score is the decoded scoring output.
type Score struct {
	Value float64
	Veto  bool
}

// Decision is the decoded policy output.
type Decision struct {
	Accept bool
	Reason string
}

// DecodePlan validates scheduler output. None is an empty plan. Each
// stage is an algorithm name, or a list whose entries are names or
// {"algorithm": name, "range": [start, end]} objects.
func DecodePlan(out any) (Plan, error) {
	plan := Plan{Stages: []Stage{}}
	if out == nil {
		return plan, nil
	}
	list, ok := out.([]any)
	if !ok {
		return Plan{}, envelopeErr(ir.RoleScheduler, "expected a list of stages, got %s", typeName(out))
	}
	for i, raw := range list {
		switch v := raw.(type) {
		case string:
			inv, err := decodeInvocation(v)
			if err != nil {
				return Plan{}, envelopeErr(ir.RoleScheduler, "stage %d: %v", i, err)
			}
			plan.Stages = append(plan.Stages, Stage{Invocations: []Invocation{inv}})
		case []any:
			if len(v) == 0 {
				return Plan{}, envelopeErr(ir.RoleScheduler, "stage %d is empty", i)
			}
			stage := Stage{Grouped: true, Invocations: make([]Invocation, 0, len(v))}
			for j, entry := range v {
				inv, err := decodeInvocation(entry)
				if err != nil {
					return Plan{}, envelopeErr(ir.RoleScheduler, "stage %d entry %d: %v", i, j, err)
				}
				stage.Invocations = append(stage.Invocations, inv)
			}
			plan.Stages = append(plan.Stages, stage)
		case map[string]any:
			inv, err := decodeInvocation(v)
			if err != nil {
				return Plan{}, envelopeErr(ir.RoleScheduler, "stage %d: %v", i, err)
			}
			plan.Stages = append(plan.Stages, Stage{Invocations: []Invocation{inv}})
		default:
			return Plan{}, envelopeErr(ir.RoleScheduler, "stage %d: unexpected %s", i, typeName(raw))
		}
	}
	return plan, nil
}

type invocationError string

func (e invocationError) Error() string { return string(e) }

func decodeInvocation(raw any) (Invocation, error) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Invocation{}, invocationError("empty algorithm name")
		}
		return Invocation{Algorithm: v}, nil
	case map[string]any:
		var name string
		for _, key := range []string{"algorithm", "name"} {
			raw, ok := v[key]
			if !ok || raw == nil {
				continue
			}
			s, ok := raw.(string)
			if !ok {
				return Invocation{}, invocationError(key + " must be a string, got " + typeName(raw))
			}
			if name == "" {
				name = s
			}
		}
		if strings.TrimSpace(name) == "" {
			return Invocation{}, invocationError("missing algorithm name")
		}
		inv := Invocation{Algorithm: name}
		if r, ok := v["range"]; ok && r != nil {
			rng, err := decodeRange(r)
			if err != nil {
				return Invocation{}, err
			}
			inv.Range = &rng
		}
		return inv, nil
	default:
		return Invocation{}, invocationError("expected algorithm name or object, got " + typeName(raw))
	}
}

func decodeRange(raw any) (bits.Range, error) {
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return bits.Range{}, invocationError("range must be [start, end]")
	}
	start, ok1 := asInt(pair[0])
	end, ok2 := asInt(pair[1])
	if !ok1 || !ok2 {
		return bits.Range{}, invocationError("range bounds must be integers")
	}
	return bits.Range{Start: start, End: end}, nil
}

// DecodeProposal validates algorithm output. None declines and returns
// a nil proposal.
func DecodeProposal(out any) (*Proposal, error) {
	if out == nil {
		return nil, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, envelopeErr(ir.RoleAlgorithm, "expected an object or None, got %s", typeName(out))
	}
	op, _ := m["operation"].(string)
	if strings.TrimSpace(op) == "" {
		return nil, envelopeErr(ir.RoleAlgorithm, "missing operation")
	}
	p := &Proposal{Operation: strings.ToUpper(strings.TrimSpace(op)), Params: ir.Object{}}
	if raw, ok := m["params"]; ok && raw != nil {
		pm, ok := raw.(map[string]any)
		if !ok {
			return nil, envelopeErr(ir.RoleAlgorithm, "params must be an object, got %s", typeName(raw))
		}
		params, err := ir.ObjectFromMap(pm)
		if err != nil {
			return nil, envelopeErr(ir.RoleAlgorithm, "params: %v", err)
		}
		p.Params = params
	}
	for _, key := range []string{"estimatedCost", "estimated_cost"} {
		if raw, ok := m[key]; ok && raw != nil {
			c, ok := asFloat(raw)
			if !ok || c < 0 {
				return nil, envelopeErr(ir.RoleAlgorithm, "%s must be a non-negative number", key)
			}
			p.EstimatedCost = c
		}
	}
	return p, nil
}

// DecodeScore validates scoring output: a number, or an object with an
// optional numeric "score" and optional boolean "veto".
func DecodeScore(out any) (Score, error) {
	if f, ok := asFloat(out); ok {
		return Score{Value: f}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return Score{}, envelopeErr(ir.RoleScoring, "expected a number or object, got %s", typeName(out))
	}
	_, hasScore := m["score"]
	_, hasVeto := m["veto"]
	if !hasScore && !hasVeto {
		return Score{}, envelopeErr(ir.RoleScoring, "object needs a score or veto key")
	}
	var s Score
	if raw, ok := m["score"]; ok && raw != nil {
		f, ok := asFloat(raw)
		if !ok {
			return Score{}, envelopeErr(ir.RoleScoring, "score must be a finite number")
		}
		s.Value = f
	}
	if raw, ok := m["veto"]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return Score{}, envelopeErr(ir.RoleScoring, "veto must be a boolean")
		}
		s.Veto = b
	}
	return s, nil
}

// DecodeDecision validates policy output: {"accept": bool, "reason"?: str}
// or a bare boolean.
func DecodeDecision(out any) (Decision, error) {
	if b, ok := out.(bool); ok {
		return Decision{Accept: b}, nil
	}
	m, ok := out.(map[string]any)
	if !ok {
		return Decision{}, envelopeErr(ir.RolePolicy, "expected an object, got %s", typeName(out))
	}
	accept, ok := m["accept"].(bool)
	if !ok {
		return Decision{}, envelopeErr(ir.RolePolicy, "accept must be a boolean")
	}
	d := Decision{Accept: accept}
	if raw, ok := m["reason"]; ok && raw != nil {
		reason, ok := raw.(string)
		if !ok {
			return Decision{}, envelopeErr(ir.RolePolicy, "reason must be a string")
		}
		d.Reason = reason
	}
	return d, nil
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
