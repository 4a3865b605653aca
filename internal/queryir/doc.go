// Package queryir is the abstract query representation for the result
// archive.
//
// Result lookups (by strategy, status, tag, bookmark, time window) are
// built as a small tree of Query and Predicate nodes and handed to a
// backend compiler. The only backend today is querysql, which produces
// parameterized SQLite:
//
//	[store.Filter] → [Query IR] → [querysql] → SELECT ... WHERE ... ORDER BY ...
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with marker methods, so backends can
// switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case Compare:
//	case And:
//	case Exists:
//	}
//
// VALUES:
//
// Literal values are ir.Value (strings, integers, booleans). There are
// no floats and no NULLs; timestamps are Unix nanoseconds.
//
// IDENTIFIERS:
//
// Table and column names are interpolated by backends, so Validate
// rejects anything that is not a plain lower-case identifier. Values are
// never interpolated.
package queryir
