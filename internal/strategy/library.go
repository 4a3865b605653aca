// Package strategy holds the script and strategy registries.
//
// A Library is an explicit repository object. Engines receive it at
// construction so several engines (and tests) can run side by side with
// independent script sets.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/bitstrat/internal/ir"
)

// Library stores scripts by name and strategies by ID.
// Safe for concurrent use.
type Library struct {
	mu         sync.RWMutex
	scripts    map[string]ir.ScriptRef
	strategies map[string]ir.StrategyDefinition
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{
		scripts:    make(map[string]ir.ScriptRef),
		strategies: make(map[string]ir.StrategyDefinition),
	}
}

// PutScript adds or replaces a script. Replacing a script changes what
// future runs resolve; runs already in progress keep their snapshot.
func (l *Library) PutScript(s ir.ScriptRef) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("script name is required")
	}
	switch s.Role {
	case ir.RoleScheduler, ir.RoleAlgorithm, ir.RoleScoring, ir.RolePolicy:
	default:
		return fmt.Errorf("script %q: invalid role %q", s.Name, s.Role)
	}
	if strings.TrimSpace(s.Source) == "" {
		return fmt.Errorf("script %q: source is empty", s.Name)
	}
	if s.VetoCapable && s.Role != ir.RoleScoring {
		return fmt.Errorf("script %q: only scoring scripts can be veto-capable", s.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[s.Name] = s
	return nil
}

// Script resolves a script by name.
func (l *Library) Script(name string) (ir.ScriptRef, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scripts[name]
	return s, ok
}

// DeleteScript removes a script, reporting whether it existed.
func (l *Library) DeleteScript(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.scripts[name]
	delete(l.scripts, name)
	return ok
}

// Scripts returns all scripts sorted by name.
func (l *Library) Scripts() []ir.ScriptRef {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ir.ScriptRef, 0, len(l.scripts))
	for _, s := range l.scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScriptsByRole returns scripts with the given role sorted by name.
func (l *Library) ScriptsByRole(role ir.Role) []ir.ScriptRef {
	out := []ir.ScriptRef{}
	for _, s := range l.Scripts() {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// PutStrategy adds or replaces a strategy. An empty ID defaults to the
// strategy name.
func (l *Library) PutStrategy(d ir.StrategyDefinition) (ir.StrategyDefinition, error) {
	if err := d.Validate(); err != nil {
		return ir.StrategyDefinition{}, err
	}
	if d.ID == "" {
		d.ID = d.Name
	}
	d.Algorithms = nonNil(d.Algorithms)
	d.Scoring = nonNil(d.Scoring)
	d.Policies = nonNil(d.Policies)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.strategies[d.ID] = d
	return d, nil
}

// Strategy returns the strategy with the given ID.
func (l *Library) Strategy(id string) (ir.StrategyDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.strategies[id]
	return d, ok
}

// FindStrategy resolves by ID first, then by name.
func (l *Library) FindStrategy(ref string) (ir.StrategyDefinition, bool) {
	if d, ok := l.Strategy(ref); ok {
		return d, true
	}
	for _, d := range l.Strategies() {
		if d.Name == ref {
			return d, true
		}
	}
	return ir.StrategyDefinition{}, false
}

// DeleteStrategy removes a strategy, reporting whether it existed.
func (l *Library) DeleteStrategy(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.strategies[id]
	delete(l.strategies, id)
	return ok
}

// Strategies returns all strategies sorted by ID.
func (l *Library) Strategies() []ir.StrategyDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ir.StrategyDefinition, 0, len(l.strategies))
	for _, d := range l.strategies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReferenceError describes one unresolvable or mistyped script reference.
type ReferenceError struct {
	Strategy string
	Script   string
	Want     ir.Role
	Got      ir.Role
}

func (e *ReferenceError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("strategy %q: %s script %q not found", e.Strategy, e.Want, e.Script)
	}
	return fmt.Sprintf("strategy %q: script %q has role %s, want %s", e.Strategy, e.Script, e.Got, e.Want)
}

// Check reports every reference in d that does not resolve to a script
// of the expected role. The result is empty when d is runnable.
func (l *Library) Check(d ir.StrategyDefinition) []error {
	errs := []error{}
	check := func(name string, want ir.Role) {
		s, ok := l.Script(name)
		switch {
		case !ok:
			errs = append(errs, &ReferenceError{Strategy: d.Name, Script: name, Want: want})
		case s.Role != want:
			errs = append(errs, &ReferenceError{Strategy: d.Name, Script: name, Want: want, Got: s.Role})
		}
	}
	check(d.Scheduler, ir.RoleScheduler)
	for _, n := range d.Algorithms {
		check(n, ir.RoleAlgorithm)
	}
	for _, n := range d.Scoring {
		check(n, ir.RoleScoring)
	}
	for _, n := range d.Policies {
		check(n, ir.RolePolicy)
	}
	return errs
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
