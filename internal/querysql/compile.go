// Package querysql compiles queryir queries to parameterized SQLite.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/queryir"
)

// SQLCompiler compiles queryir to parameterized SQL for SQLite.
//
// CRITICAL: every select ends with "id ASC COLLATE BINARY" so results are
// deterministic.
// CRITICAL: values are always parameters, never interpolated.
type SQLCompiler struct {
	// DefaultColumns is used when a Select lists no columns.
	DefaultColumns []string
}

// NewSQLCompiler creates a compiler that selects id by default.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{DefaultColumns: []string{"id"}}
}

// Compile converts a query to (sql, params). The query is validated
// first; identifiers that are not plain names are refused.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q).Err(); err != nil {
		return "", nil, err
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = c.DefaultColumns
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("select from %s: no columns", q.From)
	}

	var sb strings.Builder
	var params []any

	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(cols, ", "), q.From)

	if q.Filter != nil {
		where, ps, err := c.compilePredicate(q.Filter, q.From)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = append(params, ps...)
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(c.orderBy(q))

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return sb.String(), params, nil
}

// orderBy renders the requested terms followed by the id tiebreaker.
func (c *SQLCompiler) orderBy(q queryir.Select) string {
	terms := make([]string, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		if o.Field == "id" {
			continue
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, o.Field+" "+dir)
	}
	return strings.Join(append(terms, "id ASC COLLATE BINARY"), ", ")
}

// compilePredicate renders p. outer names the enclosing table so Exists
// can correlate against it.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, outer string) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.compileComparison(pred.Field, "=", pred.Value)
	case *queryir.Equals:
		return c.compileComparison(pred.Field, "=", pred.Value)
	case queryir.Compare:
		return c.compileComparison(pred.Field, string(pred.Op), pred.Value)
	case *queryir.Compare:
		return c.compileComparison(pred.Field, string(pred.Op), pred.Value)
	case queryir.And:
		return c.compileAnd(pred, outer)
	case *queryir.And:
		return c.compileAnd(*pred, outer)
	case queryir.Exists:
		return c.compileExists(pred, outer)
	case *queryir.Exists:
		return c.compileExists(*pred, outer)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileComparison(field, op string, v ir.Value) (string, []any, error) {
	param, err := irValueToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And, outer string) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, ps, err := c.compilePredicate(pred, outer)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// compileExists renders a correlated subquery:
//
//	EXISTS (SELECT 1 FROM t WHERE t.link = outer.col AND <filter>)
func (c *SQLCompiler) compileExists(e queryir.Exists, outer string) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s.%s",
		e.From, e.From, e.Link, outer, e.Outer)

	var params []any
	if e.Filter != nil {
		sql, ps, err := c.compilePredicate(e.Filter, e.From)
		if err != nil {
			return "", nil, fmt.Errorf("exists %s: %w", e.From, err)
		}
		sb.WriteString(" AND ")
		sb.WriteString(sql)
		params = ps
	}
	sb.WriteString(")")
	return sb.String(), params, nil
}

// irValueToParam converts a scalar ir.Value to a driver parameter.
func irValueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("%T cannot be used as a SQL parameter", v)
	}
}
