package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/bitstrat/internal/ir"
)

// CompileStrategy parses a CUE value into a StrategyDefinition. The
// strategy name is the value's label unless a name field overrides it.
// The ID defaults to the name.
func CompileStrategy(v cue.Value) (*ir.StrategyDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := &ir.StrategyDefinition{Name: label(v)}

	name, err := optionalString(v, "name")
	if err != nil {
		return nil, err
	}
	if name != "" {
		d.Name = name
	}

	if d.ID, err = optionalString(v, "id"); err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = d.Name
	}

	if d.Scheduler, err = requiredString(v, "scheduler"); err != nil {
		return nil, err
	}
	if d.Algorithms, err = stringList(v, "algorithms"); err != nil {
		return nil, err
	}
	if d.Scoring, err = stringList(v, "scoring"); err != nil {
		return nil, err
	}
	if d.Policies, err = stringList(v, "policies"); err != nil {
		return nil, err
	}
	if d.Tags, err = stringList(v, "tags"); err != nil {
		return nil, err
	}

	return d, nil
}
