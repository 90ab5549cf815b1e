package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	MarketID string
	Limit    int
	RunID    string
}

// HistoryEntry is one journaled run.
type HistoryEntry struct {
	ID             string        `json:"id"`
	Attempt        int           `json:"attempt"`
	MarketID       string        `json:"market_id"`
	Question       string        `json:"question"`
	Stage          string        `json:"stage"`
	FailureStage   string        `json:"failure_stage,omitempty"`
	FailureKind    string        `json:"failure_kind,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`
	Result         string        `json:"result,omitempty"`
	ConfidenceBps  int           `json:"confidence_bps,omitempty"`
	TxHash         string        `json:"tx_hash,omitempty"`
	Steps          []HistoryStep `json:"steps,omitempty"`
}

// HistoryStep is one stage transition of a journaled run.
type HistoryStep struct {
	Seq    int64             `json:"seq"`
	Stage  string            `json:"stage"`
	Detail map[string]string `json:"detail,omitempty"`
}

// History is the history command result.
type History struct {
	Runs []HistoryEntry `json:"runs"`
}

// WriteText renders runs as a table, with steps when present.
func (h History) WriteText(w io.Writer) error {
	if len(h.Runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tATTEMPT\tMARKET\tSTAGE\tRESULT\tTX/FAILURE")
	for _, r := range h.Runs {
		result := "-"
		if r.Result != "" {
			result = fmt.Sprintf("%s (%d bps)", r.Result, r.ConfidenceBps)
		}
		last := r.TxHash
		if r.FailureKind != "" {
			last = fmt.Sprintf("%s at %s: %s", r.FailureKind, r.FailureStage, r.FailureMessage)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", r.ID, r.Attempt, r.MarketID, r.Stage, result, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range h.Runs {
		if len(r.Steps) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", r.ID)
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  %3d %-17s %v\n", s.Seq, s.Stage, s.Detail)
		}
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled settlement runs",
		Long: `List settlement runs recorded by settle --db, oldest first.

Example:
  verdict history --db ./verdict.db --limit 20
  verdict history --db ./verdict.db --market-id 1 --format json
  verdict history --db ./verdict.db --run <run-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.MarketID, "market-id", "", "only runs for this market")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum runs to list")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run with its steps")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, "failed to open database", nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var history History
	switch {
	case opts.RunID != "":
		run, steps, err := st.ReadRun(ctx, opts.RunID)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, fmt.Sprintf("run %s not found", opts.RunID), nil)
			return WrapExitError(ExitCommandError, "read run", err)
		}
		entry := historyEntry(run)
		for _, s := range steps {
			entry.Steps = append(entry.Steps, HistoryStep{Seq: s.Seq, Stage: s.Stage, Detail: s.Detail})
		}
		history.Runs = []HistoryEntry{entry}
	default:
		var runs []store.RunRecord
		if opts.MarketID != "" {
			runs, err = st.ListRunsForMarket(ctx, opts.MarketID)
		} else {
			runs, err = st.ListRuns(ctx, opts.Limit)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "list runs", err)
		}
		history.Runs = make([]HistoryEntry, 0, len(runs))
		for _, r := range runs {
			history.Runs = append(history.Runs, historyEntry(r))
		}
	}
	return formatter.Success(history)
}

func historyEntry(r store.RunRecord) HistoryEntry {
	e := HistoryEntry{
		ID:             r.ID,
		Attempt:        r.Attempt,
		MarketID:       r.MarketID,
		Question:       r.Question,
		Stage:          r.Stage,
		FailureStage:   r.FailureStage,
		FailureKind:    r.FailureKind,
		FailureMessage: r.FailureMessage,
		Result:         r.Result,
		ConfidenceBps:  r.ConfidenceBps,
	}
	if len(r.TxHash) > 0 {
		e.TxHash = "0x" + hex.EncodeToString(r.TxHash)
	}
	return e
}
