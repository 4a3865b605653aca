package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] stage %d %s %s %s\n",
				event.Index, event.Stage, event.Algorithm, event.Operation, event.Status)
		}
	}

	return buf.String()
}

// matchesFilter reports whether event passes the operation, algorithm and
// status filters of a. Operation names compare case-insensitively, as the
// router resolves them.
func matchesFilter(event TraceEvent, a Assertion) bool {
	if a.Operation != "" && !strings.EqualFold(event.Operation, a.Operation) {
		return false
	}
	if a.Algorithm != "" && event.Algorithm != a.Algorithm {
		return false
	}
	if a.Status != "" && event.Status != a.Status {
		return false
	}
	return true
}

// assertStepContains checks that some step matches the filters and
// params (subset match).
func assertStepContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchesFilter(event, assertion) && matchParams(event.Params, assertion.Params) {
			return nil
		}
	}

	return &AssertionError{
		Type: AssertStepContains,
		Expected: fmt.Sprintf("step %s (algorithm %q, status %q) with params %v",
			assertion.Operation, assertion.Algorithm, assertion.Status, assertion.Params),
		Actual: "not found in trace",
		Trace:  trace,
	}
}

// assertStepOrder checks that operations appear in the given order.
// Operations don't need to be consecutive (intervening steps are allowed).
func assertStepOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Operations) && strings.EqualFold(event.Operation, assertion.Operations[next]) {
			next++
		}
	}

	if next < len(assertion.Operations) {
		return &AssertionError{
			Type:     AssertStepOrder,
			Expected: fmt.Sprintf("operations in order: %v", assertion.Operations),
			Actual:   fmt.Sprintf("missing %s after %v", assertion.Operations[next], assertion.Operations[:next]),
			Trace:    trace,
		}
	}

	return nil
}

// assertStepCount checks that exactly Count steps match the filters.
func assertStepCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesFilter(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type: AssertStepCount,
			Expected: fmt.Sprintf("%d steps (operation %q, algorithm %q, status %q)",
				assertion.Count, assertion.Operation, assertion.Algorithm, assertion.Status),
			Actual: fmt.Sprintf("%d steps", count),
			Trace:  trace,
		}
	}

	return nil
}

// assertFinalState checks that one archive row contains the expected
// values. Queries use parameterized SQL; table and column names are
// validated against a whitelist pattern since identifiers can't be
// parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, float64:
		return val
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML value with a SQLite column value.
// SQLite returns int64 for integers, float64 for reals and stores
// booleans as 0/1, so numbers compare by value.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	if b, ok := expected.(bool); ok {
		if n, ok := asNumber(actual); ok {
			return b == (n != 0)
		}
		return false
	}

	if e, ok := asNumber(expected); ok {
		a, ok := asNumber(actual)
		return ok && e == a
	}

	if s, ok := expected.(string); ok {
		switch a := actual.(type) {
		case string:
			return s == a
		case []byte:
			return s == string(a)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// matchParams checks that actual params contain every expected param
// (subset match). Expected values are converted to IR values first so YAML
// ints compare equal to recorded ints.
func matchParams(actual ir.Object, expected map[string]interface{}) bool {
	if len(expected) == 0 {
		return true
	}

	want, err := ir.ObjectFromMap(expected)
	if err != nil {
		return false
	}

	for key, expectedVal := range want {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !reflect.DeepEqual(actualVal, expectedVal) {
			return false
		}
	}

	return true
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStepContains:
			err = assertStepContains(result.Trace, assertion)
		case AssertStepOrder:
			err = assertStepOrder(result.Trace, assertion)
		case AssertStepCount:
			err = assertStepCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
