package queryir

import (
	"fmt"
	"regexp"

	"github.com/roach88/bitstrat/internal/ir"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidationResult lists every problem found in a query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	Problems []string
}

// Err returns the problems as one error, or nil.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid query: %v", r.Problems)
}

// Validate checks identifiers, operators and literal types.
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) ident(kind, name string) {
	if !identPattern.MatchString(name) {
		v.add("%s %q is not a plain identifier", kind, name)
	}
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.add("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.add("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	v.ident("table", sel.From)
	for _, c := range sel.Columns {
		v.ident("column", c)
	}
	for _, o := range sel.OrderBy {
		v.ident("order field", o.Field)
	}
	if sel.Limit < 0 {
		v.add("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.ident("field", pred.Field)
		v.literal(pred.Field, pred.Value)
	case *Equals:
		v.validatePredicate(*pred)
	case Compare:
		v.ident("field", pred.Field)
		if !pred.Op.Valid() {
			v.add("field %q: unknown operator %q", pred.Field, pred.Op)
		}
		v.literal(pred.Field, pred.Value)
	case *Compare:
		v.validatePredicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case *And:
		v.validatePredicate(*pred)
	case Exists:
		v.ident("table", pred.From)
		v.ident("link column", pred.Link)
		v.ident("outer column", pred.Outer)
		v.validatePredicate(pred.Filter)
	case *Exists:
		v.validatePredicate(*pred)
	default:
		v.add("unknown predicate type %T", p)
	}
}

// literal allows scalar values only.
func (v *validator) literal(field string, val ir.Value) {
	switch val.(type) {
	case ir.String, ir.Int, ir.Bool:
	case nil:
		v.add("field %q compared to nothing", field)
	default:
		v.add("field %q: %T cannot be compared", field, val)
	}
}
