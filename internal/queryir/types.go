package queryir

import "github.com/roach88/bitstrat/internal/ir"

// Query is an abstract query. Sealed to this package.
type Query interface {
	queryNode()
}

// Predicate is a filter condition. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Select reads Columns from a table.
//
//	Select{
//	  From:    "executions",
//	  Columns: []string{"id"},
//	  Filter:  And{Predicates: []Predicate{Equals{Field: "status", Value: ir.String("failed")}}},
//	  OrderBy: []Order{{Field: "start_time", Desc: true}},
//	  Limit:   20,
//	}
//
// translates to
//
//	SELECT id FROM executions WHERE status = ?
//	ORDER BY start_time DESC, id ASC COLLATE BINARY LIMIT ?
//
// Every compiled select ends with the id tiebreaker so results are
// deterministic regardless of OrderBy.
type Select struct {
	From    string
	Columns []string  // empty = backend default columns
	Filter  Predicate // nil = no filter
	OrderBy []Order
	Limit   int // 0 = unlimited
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Op is a comparison operator.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpNE Op = "<>"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpNE:
		return true
	}
	return false
}

// Equals is field = value.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// Compare is field <op> value, used for time windows.
//
//	Compare{Field: "start_time", Op: OpGE, Value: ir.Int(since.UnixNano())}
type Compare struct {
	Field string
	Op    Op
	Value ir.Value
}

func (Compare) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Exists holds when at least one row of From links to the outer row and
// matches Filter. Used for tag and annotation lookups:
//
//	Exists{
//	  From:   "annotation_tags",
//	  Link:   "execution_id", // column in From
//	  Outer:  "id",           // column in the outer table
//	  Filter: Equals{Field: "tag", Value: ir.String("baseline")},
//	}
type Exists struct {
	From   string
	Link   string
	Outer  string
	Filter Predicate
}

func (Exists) predicateNode() {}

// Conjoin returns an And over the non-nil predicates, or nil when there
// are none.
func Conjoin(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return And{Predicates: out}
}
