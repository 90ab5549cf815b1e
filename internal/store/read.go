package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

const runSelect = `
	SELECT seq, id, market_id, question, stage, failure_stage, failure_kind, failure_message,
	       result, confidence_bps, report_payload, tx_hash, attempt
	FROM runs`

const submissionSelect = `
	SELECT seq, report_digest, chain_selector, receiver, tx_hash, gas_limit, seq_nr
	FROM submissions`

type rowScanner interface {
	Scan(dest ...any) error
}

// ListRuns returns journaled runs in insertion order. A limit <= 0 returns
// every run; otherwise the most recent limit runs are returned, still oldest
// first. Returns an empty slice (not nil) when the journal is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := runSelect + ` ORDER BY seq ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT * FROM (` + runSelect + ` ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunsForMarket returns every run for marketID, oldest first.
func (s *Store) ListRunsForMarket(ctx context.Context, marketID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, runSelect+` WHERE market_id = ? ORDER BY seq ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("query runs for market: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run and its steps ordered by seq.
// Returns sql.ErrNoRows if the run does not exist.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, []StepRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id))
	if err != nil {
		return RunRecord{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, detail
		FROM run_steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return RunRecord{}, nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []StepRecord{}
	for rows.Next() {
		var step StepRecord
		var detail string
		if err := rows.Scan(&step.Seq, &step.Stage, &detail); err != nil {
			return RunRecord{}, nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &step.Detail); err != nil {
			return RunRecord{}, nil, fmt.Errorf("decode step %d detail: %w", step.Seq, err)
		}
		if len(step.Detail) == 0 {
			step.Detail = nil
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, nil, fmt.Errorf("iterate steps: %w", err)
	}
	return run, steps, nil
}

// ReadSubmission looks up a chain write by report digest.
// Returns sql.ErrNoRows if none was recorded.
func (s *Store) ReadSubmission(ctx context.Context, reportDigest string) (Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx, submissionSelect+` WHERE report_digest = ?`, reportDigest))
}

// CountSubmissions returns the number of recorded chain writes.
func (s *Store) CountSubmissions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	err := row.Scan(
		&r.Seq, &r.ID, &r.MarketID, &r.Question, &r.Stage,
		&r.FailureStage, &r.FailureKind, &r.FailureMessage,
		&r.Result, &r.ConfidenceBps, &r.ReportPayload, &r.TxHash, &r.Attempt,
	)
	if err == sql.ErrNoRows {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	var selector string
	var seqNr int64
	err := row.Scan(&sub.Seq, &sub.ReportDigest, &selector, &sub.Receiver, &sub.TxHash, &sub.GasLimit, &seqNr)
	if err == sql.ErrNoRows {
		return Submission{}, err
	}
	if err != nil {
		return Submission{}, fmt.Errorf("scan submission: %w", err)
	}
	sub.ChainSelector, err = strconv.ParseUint(selector, 10, 64)
	if err != nil {
		return Submission{}, fmt.Errorf("scan submission: chain selector %q: %w", selector, err)
	}
	sub.SeqNr = uint64(seqNr)
	return sub, nil
}
