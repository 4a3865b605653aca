package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/bitstrat/internal/ir"
)

// Save writes a finalized result and its steps in one transaction.
// Uses ON CONFLICT(id) DO NOTHING: a result is immutable, so saving the
// same ID twice keeps the first record and is not an error.
//
// Save implements engine.ResultStore.
func (s *Store) Save(ctx context.Context, res *ir.ExecutionResult) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("save result: missing execution id")
	}

	resultJSON, err := marshalResult(res)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save result %s: begin tx: %w", res.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	counts := res.Counts()
	var verified sql.NullInt64
	if res.Verification != nil {
		verified = sql.NullInt64{Int64: int64(boolInt(res.Verification.Verified)), Valid: true}
	}

	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO executions
		(id, strategy_id, strategy_name, status, stop_reason, error,
		 initial_len, final_len, initial_hash, final_hash,
		 budget_initial, budget_used, committed, rejected, failed,
		 replanned, verified, start_time, end_time, engine_version, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.ID,
		res.Strategy.ID,
		res.Strategy.Name,
		string(res.Status),
		string(res.StopReason),
		res.Error,
		res.InitialBits.Len(),
		res.FinalBits.Len(),
		ir.BitsHash(string(res.InitialBits)),
		ir.BitsHash(string(res.FinalBits)),
		res.Budget.Initial,
		res.Budget.Used,
		counts.Committed,
		counts.Rejected,
		counts.Failed,
		boolInt(res.Replanned),
		verified,
		res.StartTime.UnixNano(),
		res.EndTime.UnixNano(),
		res.EngineVersion,
		resultJSON,
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.ID, err)
	}
	n, err := inserted.RowsAffected()
	if err != nil {
		return fmt.Errorf("save result %s: rows affected: %w", res.ID, err)
	}
	if n == 0 {
		// Already archived; the stored record wins.
		return nil
	}

	for _, step := range res.Steps {
		if err := writeStep(ctx, tx, res.ID, step); err != nil {
			return fmt.Errorf("save result %s: %w", res.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save result %s: commit: %w", res.ID, err)
	}
	return nil
}

func writeStep(ctx context.Context, tx *sql.Tx, executionID string, step ir.TransformationStep) error {
	paramsJSON, err := marshalParams(step.Params)
	if err != nil {
		return fmt.Errorf("step %d: %w", step.Index, err)
	}
	stepJSON, err := marshalStep(step)
	if err != nil {
		return err
	}
	hash, err := ir.StepHash(step.Operation, step.Params, string(step.BeforeBits), string(step.AfterBits))
	if err != nil {
		return fmt.Errorf("step %d: %w", step.Index, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps
		(execution_id, idx, stage, algorithm, operation, params, status, reason,
		 cost, score, budget_remaining, step_hash, step)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		executionID,
		step.Index,
		step.Stage,
		step.Algorithm,
		step.Operation,
		paramsJSON,
		string(step.Status),
		step.Reason,
		step.Cost,
		step.Score,
		step.BudgetRemaining,
		hash,
		stepJSON,
	)
	if err != nil {
		return fmt.Errorf("step %d: %w", step.Index, err)
	}
	return nil
}

// Annotate replaces the annotation of an execution. Tags are trimmed,
// de-duplicated and sorted; a zero UpdatedAt is set to now.
//
// Returns an error wrapping sql.ErrNoRows if the execution does not exist.
func (s *Store) Annotate(ctx context.Context, a ir.Annotation) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("annotate %s: begin tx: %w", a.ExecutionID, err)
	}
	defer tx.Rollback()

	if err := requireExecution(ctx, tx, a.ExecutionID); err != nil {
		return fmt.Errorf("annotate %s: %w", a.ExecutionID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO annotations (execution_id, notes, bookmarked, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			notes = excluded.notes,
			bookmarked = excluded.bookmarked,
			updated_at = excluded.updated_at
	`, a.ExecutionID, a.Notes, boolInt(a.Bookmarked), a.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("annotate %s: %w", a.ExecutionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotation_tags WHERE execution_id = ?`, a.ExecutionID); err != nil {
		return fmt.Errorf("annotate %s: clear tags: %w", a.ExecutionID, err)
	}
	for _, tag := range normalizeTags(a.Tags) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_tags (execution_id, tag) VALUES (?, ?)
		`, a.ExecutionID, tag); err != nil {
			return fmt.Errorf("annotate %s: tag %q: %w", a.ExecutionID, tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("annotate %s: commit: %w", a.ExecutionID, err)
	}
	return nil
}

// Delete removes an execution with its steps and annotation, reporting
// whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: rows affected: %w", id, err)
	}
	return n > 0, nil
}

func requireExecution(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("execution not found: %w", err)
	}
	return err
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
