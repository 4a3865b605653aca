package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/queryir"
	"github.com/roach88/bitstrat/internal/querysql"
)

// Get retrieves a result with all of its steps.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) Get(ctx context.Context, id string) (*ir.ExecutionResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM executions WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	res, err := unmarshalResult(data)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	steps, err := s.Steps(ctx, id)
	if err != nil {
		return nil, err
	}
	res.Steps = steps
	return res, nil
}

// Steps returns the recorded steps of an execution ordered by index.
// Returns an empty slice (not nil) if there are none.
func (s *Store) Steps(ctx context.Context, executionID string) ([]ir.TransformationStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step FROM steps
		WHERE execution_id = ?
		ORDER BY idx ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []ir.TransformationStep{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step, err := unmarshalStep(data)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// Filter selects archived executions. Zero fields do not constrain.
type Filter struct {
	StrategyID string
	Status     ir.ExecutionStatus
	Tag        string
	Bookmarked bool      // only bookmarked executions
	Since      time.Time // start_time >= Since
	Until      time.Time // start_time < Until
	Limit      int
}

// Summary is one row of a result listing.
type Summary struct {
	ID            string             `json:"id"`
	StrategyID    string             `json:"strategy_id"`
	StrategyName  string             `json:"strategy_name"`
	Status        ir.ExecutionStatus `json:"status"`
	StopReason    ir.StopReason      `json:"stop_reason,omitempty"`
	InitialLen    int                `json:"initial_len"`
	FinalLen      int                `json:"final_len"`
	BudgetInitial float64            `json:"budget_initial"`
	BudgetUsed    float64            `json:"budget_used"`
	Counts        ir.StepCounts      `json:"counts"`
	Verified      *bool              `json:"verified,omitempty"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
}

var summaryColumns = []string{
	"id", "strategy_id", "strategy_name", "status", "stop_reason",
	"initial_len", "final_len", "budget_initial", "budget_used",
	"committed", "rejected", "failed", "verified", "start_time", "end_time",
}

// query builds the archive query for f: newest first, id as tiebreaker.
func (f Filter) query() queryir.Select {
	var preds []queryir.Predicate
	if f.StrategyID != "" {
		preds = append(preds, queryir.Equals{Field: "strategy_id", Value: ir.String(f.StrategyID)})
	}
	if f.Status != "" {
		preds = append(preds, queryir.Equals{Field: "status", Value: ir.String(string(f.Status))})
	}
	if !f.Since.IsZero() {
		preds = append(preds, queryir.Compare{Field: "start_time", Op: queryir.OpGE, Value: ir.Int(f.Since.UnixNano())})
	}
	if !f.Until.IsZero() {
		preds = append(preds, queryir.Compare{Field: "start_time", Op: queryir.OpLT, Value: ir.Int(f.Until.UnixNano())})
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		preds = append(preds, queryir.Exists{
			From: "annotation_tags", Link: "execution_id", Outer: "id",
			Filter: queryir.Equals{Field: "tag", Value: ir.String(tag)},
		})
	}
	if f.Bookmarked {
		preds = append(preds, queryir.Exists{
			From: "annotations", Link: "execution_id", Outer: "id",
			Filter: queryir.Equals{Field: "bookmarked", Value: ir.Int(1)},
		})
	}

	return queryir.Select{
		From:    "executions",
		Columns: summaryColumns,
		Filter:  queryir.Conjoin(preds...),
		OrderBy: []queryir.Order{{Field: "start_time", Desc: true}},
		Limit:   f.Limit,
	}
}

// Query lists executions matching f, newest first.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Query(ctx context.Context, f Filter) ([]Summary, error) {
	sqlText, params, err := querysql.NewSQLCompiler().Compile(f.query())
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func scanSummary(rows *sql.Rows) (Summary, error) {
	var (
		sum            Summary
		status, stop   string
		verified       sql.NullInt64
		startNs, endNs int64
	)
	err := rows.Scan(
		&sum.ID, &sum.StrategyID, &sum.StrategyName, &status, &stop,
		&sum.InitialLen, &sum.FinalLen, &sum.BudgetInitial, &sum.BudgetUsed,
		&sum.Counts.Committed, &sum.Counts.Rejected, &sum.Counts.Failed,
		&verified, &startNs, &endNs,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("scan execution: %w", err)
	}
	sum.Status = ir.ExecutionStatus(status)
	sum.StopReason = ir.StopReason(stop)
	if verified.Valid {
		v := verified.Int64 == 1
		sum.Verified = &v
	}
	sum.StartTime = time.Unix(0, startNs).UTC()
	sum.EndTime = time.Unix(0, endNs).UTC()
	return sum, nil
}

// Annotation returns the annotation of an execution. An execution that
// was never annotated yields an empty annotation.
// Returns an error wrapping sql.ErrNoRows if the execution does not exist.
func (s *Store) Annotation(ctx context.Context, executionID string) (ir.Annotation, error) {
	a := ir.Annotation{ExecutionID: executionID, Tags: []string{}}

	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, executionID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Annotation{}, fmt.Errorf("execution %s not found: %w", executionID, err)
		}
		return ir.Annotation{}, fmt.Errorf("annotation %s: %w", executionID, err)
	}

	var (
		bookmarked int
		updatedNs  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT notes, bookmarked, updated_at FROM annotations WHERE execution_id = ?
	`, executionID).Scan(&a.Notes, &bookmarked, &updatedNs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return a, nil
	case err != nil:
		return ir.Annotation{}, fmt.Errorf("annotation %s: %w", executionID, err)
	}
	a.Bookmarked = bookmarked == 1
	a.UpdatedAt = time.Unix(0, updatedNs).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM annotation_tags
		WHERE execution_id = ?
		ORDER BY tag COLLATE BINARY ASC
	`, executionID)
	if err != nil {
		return ir.Annotation{}, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return ir.Annotation{}, fmt.Errorf("scan tag: %w", err)
		}
		a.Tags = append(a.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return ir.Annotation{}, fmt.Errorf("iterate tags: %w", err)
	}
	return a, nil
}
