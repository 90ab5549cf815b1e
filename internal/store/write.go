package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/verdict/internal/ir"
)

// SaveRun stores a run snapshot and its steps in one transaction.
// Uses ON CONFLICT(id) DO NOTHING: saving the same run id twice keeps the
// first snapshot and reports inserted=false.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, steps []StepRecord) (inserted bool, err error) {
	if run.ID == "" {
		return false, errors.New("save run: empty run id")
	}
	attempt := run.Attempt
	if attempt < 1 {
		attempt = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("save run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, market_id, question, stage, failure_stage, failure_kind, failure_message,
		 result, confidence_bps, report_payload, tx_hash, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.MarketID,
		run.Question,
		run.Stage,
		run.FailureStage,
		run.FailureKind,
		run.FailureMessage,
		run.Result,
		run.ConfidenceBps,
		run.ReportPayload,
		run.TxHash,
		attempt,
	)
	if err != nil {
		return false, fmt.Errorf("save run: insert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save run: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, step := range steps {
		detail, err := ir.MarshalCanonical(ir.StringMap(step.Detail))
		if err != nil {
			return false, fmt.Errorf("save run: step %d detail: %w", step.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, seq, stage, detail)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`, run.ID, step.Seq, step.Stage, string(detail))
		if err != nil {
			return false, fmt.Errorf("save run: step %d: %w", step.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("save run: commit: %w", err)
	}
	return true, nil
}

// RecordSubmission stores a chain write keyed by report digest.
// If the digest was already recorded, the existing submission is returned
// with inserted=false and nothing is written.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) (Submission, bool, error) {
	if sub.ReportDigest == "" {
		return Submission{}, false, errors.New("record submission: empty report digest")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Submission{}, false, fmt.Errorf("record submission: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO submissions
		(report_digest, chain_selector, receiver, tx_hash, gas_limit, seq_nr)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_digest) DO NOTHING
	`,
		sub.ReportDigest,
		strconv.FormatUint(sub.ChainSelector, 10),
		sub.Receiver,
		sub.TxHash,
		sub.GasLimit,
		int64(sub.SeqNr),
	)
	if err != nil {
		return Submission{}, false, fmt.Errorf("record submission: insert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return Submission{}, false, fmt.Errorf("record submission: rows affected: %w", err)
	}
	inserted := rows > 0

	stored, err := scanSubmission(tx.QueryRowContext(ctx, submissionSelect+` WHERE report_digest = ?`, sub.ReportDigest))
	if err != nil {
		return Submission{}, false, fmt.Errorf("record submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Submission{}, false, fmt.Errorf("record submission: commit: %w", err)
	}
	return stored, inserted, nil
}
