package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/bitstrat/internal/ir"
)

// marshalParams converts step params to canonical JSON TEXT.
// Uses RFC 8785 canonical JSON so equal params store identically.
func marshalParams(params ir.Object) (string, error) {
	if params == nil {
		params = ir.Object{}
	}
	data, err := ir.MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// marshalJSON encodes v with HTML escaping disabled, so bit-strings and
// reasons are stored as written.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalResult encodes a result without its steps; steps are stored in
// their own table.
func marshalResult(res *ir.ExecutionResult) (string, error) {
	header := *res
	header.Steps = nil
	data, err := marshalJSON(header)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// marshalStep encodes one step.
func marshalStep(step ir.TransformationStep) (string, error) {
	if step.Params == nil {
		step.Params = ir.Object{}
	}
	data, err := marshalJSON(step)
	if err != nil {
		return "", fmt.Errorf("marshal step %d: %w", step.Index, err)
	}
	return data, nil
}

// unmarshalResult parses a stored result header. Steps are empty until
// the caller attaches them.
func unmarshalResult(data string) (*ir.ExecutionResult, error) {
	var res ir.ExecutionResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	res.Steps = []ir.TransformationStep{}
	if res.ScriptDigests == nil {
		res.ScriptDigests = map[string]string{}
	}
	return &res, nil
}

// unmarshalStep parses a stored step. Params are decoded through
// ir.Object so integers keep full precision.
func unmarshalStep(data string) (ir.TransformationStep, error) {
	var step ir.TransformationStep
	if err := json.Unmarshal([]byte(data), &step); err != nil {
		return ir.TransformationStep{}, fmt.Errorf("unmarshal step: %w", err)
	}
	if step.Params == nil {
		step.Params = ir.Object{}
	}
	return step, nil
}

// boolInt maps a bool to SQLite's 0/1.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
