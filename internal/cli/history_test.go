package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/store"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdict.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	_, err = st.SaveRun(ctx, store.RunRecord{
		ID: "run-0001", Attempt: 1, MarketID: "1", Question: "rain?",
		Stage: "Succeeded", Result: "YES", ConfidenceBps: 9500, TxHash: []byte{0xab, 0xcd},
	}, []store.StepRecord{
		{Seq: 1, Stage: "Triggered"},
		{Seq: 2, Stage: "Succeeded", Detail: map[string]string{"tx_hash": "0xabcd"}},
	})
	require.NoError(t, err)
	_, err = st.SaveRun(ctx, store.RunRecord{
		ID: "run-0002", Attempt: 1, MarketID: "2", Question: "snow?",
		Stage: "Failed", FailureStage: "Aggregating", FailureKind: "CONSENSUS_MISMATCH", FailureMessage: "nodes disagree",
	}, []store.StepRecord{{Seq: 1, Stage: "Triggered"}, {Seq: 2, Stage: "Failed"}})
	require.NoError(t, err)
	return path
}

func executeHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"history"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryText(t *testing.T) {
	out, err := executeHistory(t, "--db", seedJournal(t))
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "run-0001")
	assert.Contains(t, out, "YES (9500 bps)")
	assert.Contains(t, out, "0xabcd")
	assert.Contains(t, out, "CONSENSUS_MISMATCH at Aggregating: nodes disagree")
}

func TestHistoryJSON(t *testing.T) {
	out, err := executeHistory(t, "--db", seedJournal(t), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string  `json:"status"`
		Data   History `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Runs, 2)
	assert.Equal(t, "run-0001", resp.Data.Runs[0].ID)
	assert.Equal(t, "run-0002", resp.Data.Runs[1].ID)
	assert.Empty(t, resp.Data.Runs[0].Steps, "listings omit steps")
}

func TestHistoryFilters(t *testing.T) {
	db := seedJournal(t)

	out, err := executeHistory(t, "--db", db, "--market-id", "2", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data History `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, "run-0002", resp.Data.Runs[0].ID)

	out, err = executeHistory(t, "--db", db, "--limit", "1", "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.Runs, 1)
}

func TestHistorySingleRunWithSteps(t *testing.T) {
	out, err := executeHistory(t, "--db", seedJournal(t), "--run", "run-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "run-0001:")
	assert.Contains(t, out, "Triggered")
	assert.Contains(t, out, "map[tx_hash:0xabcd]")
}

func TestHistoryUnknownRun(t *testing.T) {
	out, err := executeHistory(t, "--db", seedJournal(t), "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "run nope not found")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := executeHistory(t, "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "no runs")
}

func TestHistoryRequiresDB(t *testing.T) {
	_, err := executeHistory(t)
	require.Error(t, err)
}
