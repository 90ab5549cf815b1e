package settlement

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/evm"
	"github.com/roach88/verdict/internal/fixture"
	"github.com/roach88/verdict/internal/gemini"
	"github.com/roach88/verdict/internal/secrets"
	"github.com/roach88/verdict/internal/store"
	"github.com/roach88/verdict/internal/telemetry"
	tu "github.com/roach88/verdict/internal/testutil"
)

var apiKey = map[string]string{DefaultAPIKeySecret: "test-key"}

func newExecutor(t *testing.T, cfg config.Config, emu *fixture.Emulator, opts ...Option) *Executor {
	t.Helper()
	base := []Option{WithLogger(tu.QuietLogger()), WithIDGenerator(tu.NewSequentialIDs("run"))}
	ex, err := NewExecutor(cfg, func() capability.Host { return emu.Host() }, emu.NodeFactory(), append(base, opts...)...)
	require.NoError(t, err)
	return ex
}

func stages(r *Run) []Stage {
	out := make([]Stage, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Stage
	}
	return out
}

func TestSettlementSucceeds(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey))
	ex := newExecutor(t, tu.Config(), emu)

	run, err := ex.Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.NoError(t, err)

	assert.Equal(t, StageSucceeded, run.Stage)
	assert.Equal(t, []Stage{
		StageTriggered, StageDecodingEvent, StageFetchingOutcome, StageAggregating,
		StageGeneratingReport, StageWritingChain, StageSucceeded,
	}, stages(run))
	assert.Equal(t, "1", run.MarketID.String())
	assert.Equal(t, tu.RainQuestion, run.Question)
	assert.Equal(t, gemini.ResultYes, run.Outcome.Result)
	assert.Equal(t, uint16(9500), run.Outcome.ConfidenceBps)
	assert.Equal(t, "0x"+fixture.MockTxHash, common.BytesToHash(run.TxHash).Hex())

	report, err := evm.DecodeReport(run.ReportPayload)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), report.Outcome)
	assert.Equal(t, uint16(9500), report.ConfidenceBps)
	assert.Equal(t, int64(1), report.MarketID.Int64())
	assert.Equal(t, config.DefaultEvidenceURI, report.EvidenceURI)

	assert.Equal(t, 3, emu.Fetches())
	assert.Equal(t, 1, emu.ChainWrites())
}

func TestConsensusMismatchNeverWrites(t *testing.T) {
	emu := fixture.New(
		fixture.WithSecrets(apiKey),
		fixture.WithNode(0, fixture.Node{AIText: `{"result":"NO","confidence":8000}`}),
		fixture.WithNode(1, fixture.Node{AIText: `{"result":"YES","confidence":8000}`}),
	)
	cfg := tu.Config()
	cfg.NodeCount = 2
	ex := newExecutor(t, cfg, emu)

	run, err := ex.Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.Error(t, err)
	assert.True(t, IsConsensusMismatch(err))
	assert.ErrorIs(t, err, ErrConsensusMismatch)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageAggregating, se.Stage)
	assert.Equal(t, StageFailed, run.Stage)
	assert.NotContains(t, stages(run), StageWritingChain)
	assert.Nil(t, run.Outcome)

	assert.Equal(t, 0, emu.ChainWrites())
	assert.Equal(t, 0, emu.CountMethod(capability.MethodReport))
}

func TestEmptySecretFailsBeforeFanOut(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(map[string]string{DefaultAPIKeySecret: ""}))
	ex := newExecutor(t, tu.Config(), emu)

	_, err := ex.Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.Error(t, err)
	assert.True(t, IsCapabilityError(err))
	assert.ErrorIs(t, err, ErrEmptySecret)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageFetchingOutcome, se.Stage)
	assert.Equal(t, 0, emu.Fetches(), "no fan-out")
	assert.Equal(t, 1, emu.CountMethod(capability.MethodGetSecret))
}

func TestFencedOutcomeIsParsed(t *testing.T) {
	emu := fixture.New(
		fixture.WithSecrets(apiKey),
		fixture.WithDefaultNode(fixture.Node{AIText: "```json\n{\"result\":\"NO\",\"confidence\":7000}\n```"}),
	)
	ex := newExecutor(t, tu.Config(), emu)

	run, err := ex.Execute(context.Background(), tu.TriggerLog(t, 3, "Will BTC close above 100k?"))
	require.NoError(t, err)
	assert.Equal(t, gemini.ResultNo, run.Outcome.Result)
	assert.Equal(t, uint16(7000), run.Outcome.ConfidenceBps)

	report, err := evm.DecodeReport(run.ReportPayload)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), report.Outcome)
}

func TestStructuredResponseSucceeds(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey), fixture.WithDefaultNode(fixture.Node{Structured: true}))
	run, err := newExecutor(t, tu.Config(), emu).Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.NoError(t, err)
	assert.True(t, run.Succeeded())
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name  string
		node  fixture.Node
		kind  FailureKind
		stage Stage
	}{
		{"non-2xx", fixture.Node{StatusCode: 503}, KindCapabilityError, StageAggregating},
		{"unparseable text", fixture.Node{AIText: "I think yes"}, KindDecodeError, StageAggregating},
		{"unknown verdict", fixture.Node{AIText: `{"result":"MAYBE","confidence":10}`}, KindDecodeError, StageAggregating},
		{"confidence out of range", fixture.Node{AIText: `{"result":"YES","confidence":10001}`}, KindDecodeError, StageAggregating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emu := fixture.New(fixture.WithSecrets(apiKey), fixture.WithDefaultNode(tt.node))
			_, err := newExecutor(t, tu.Config(), emu).Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, 0, emu.ChainWrites())
		})
	}
}

func TestMalformedTrigger(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey))
	log := tu.TriggerLog(t, 1, tu.RainQuestion)
	log.Topics = log.Topics[:1]

	run, err := newExecutor(t, tu.Config(), emu).Execute(context.Background(), log)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.ErrorIs(t, err, evm.ErrMalformedLog)
	assert.Equal(t, StageDecodingEvent, run.Failure.Stage)
	assert.Empty(t, emu.Calls())
}

func TestTriggerFromOtherContract(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey))
	log := tu.TriggerLog(t, 1, tu.RainQuestion)
	log.Address = common.HexToAddress("0x00000000000000000000000000000000000000aa")

	_, err := newExecutor(t, tu.Config(), emu).Execute(context.Background(), log)
	assert.True(t, IsDecodeError(err))
	assert.ErrorIs(t, err, ErrWrongContract)
	assert.Empty(t, emu.Calls())
}

func TestHangingNodeTimesOut(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey), fixture.WithNode(1, fixture.Node{Hang: true}))
	defer emu.Close()
	cfg := tu.Config()
	cfg.AwaitTimeoutMs = 50

	start := time.Now()
	run, err := newExecutor(t, cfg, emu).Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, capability.IsTimeout(err))
	assert.Equal(t, StageFetchingOutcome, run.Failure.Stage)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, emu.ChainWrites())
	assert.True(t, Retryable(err))
}

func TestInvalidConfigAbortsBeforeCalls(t *testing.T) {
	emu := fixture.New(fixture.WithSecrets(apiKey))
	cfg := tu.Config()
	cfg.ChainName = "nowhere"

	ex, err := NewExecutor(cfg, func() capability.Host { return emu.Host() }, emu.NodeFactory())
	require.Error(t, err)
	assert.Nil(t, ex)
	assert.True(t, IsConfigError(err))
	assert.False(t, Retryable(err))
	assert.Empty(t, emu.Calls())
}

func TestRerunAfterFailureIsSafe(t *testing.T) {
	dir := t.TempDir()
	journal, err := store.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer journal.Close()

	trigger := tu.TriggerLog(t, 1, tu.RainQuestion)
	failing := fixture.New(
		fixture.WithSecrets(apiKey),
		fixture.WithNode(2, fixture.Node{AIText: `{"result":"NO","confidence":9500}`}),
	)
	ex := newExecutor(t, tu.Config(), failing, WithJournal(journal))

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := ex.Execute(context.Background(), trigger, WithAttempt(attempt))
		require.True(t, IsConsensusMismatch(err))
	}
	assert.Equal(t, 0, failing.ChainWrites())

	healthy := fixture.New(fixture.WithSecrets(apiKey))
	ex = newExecutor(t, tu.Config(), healthy, WithJournal(journal), WithIDGenerator(tu.NewSequentialIDs("retry")))
	run, err := ex.Execute(context.Background(), trigger, WithAttempt(3))
	require.NoError(t, err)
	assert.Equal(t, 1, healthy.ChainWrites())

	runs, err := journal.ListRunsForMarket(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "CONSENSUS_MISMATCH", runs[0].FailureKind)
	assert.Equal(t, "Aggregating", runs[0].FailureStage)
	assert.Empty(t, runs[0].TxHash)
	assert.Equal(t, 2, runs[1].Attempt)
	assert.Equal(t, run.ID, runs[2].ID)
	assert.Equal(t, "Succeeded", runs[2].Stage)
	assert.Equal(t, "YES", runs[2].Result)

	_, steps, err := journal.ReadRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 7)
	assert.Equal(t, "2", steps[4].Detail["outcome_code"])
}

func TestMetricsObserveRuns(t *testing.T) {
	metrics := telemetry.NewMetrics()
	emu := fixture.New(fixture.WithSecrets(apiKey))
	ex := newExecutor(t, tu.Config(), emu, WithRunObserver(metrics), WithConsensusObserver(metrics))

	_, err := ex.Execute(context.Background(), tu.TriggerLog(t, 1, tu.RainQuestion))
	require.NoError(t, err)

	expected := `
# HELP verdict_runs_total Settlement runs by terminal stage and failure kind.
# TYPE verdict_runs_total counter
verdict_runs_total{kind="none",stage="Succeeded"} 1
# HELP verdict_consensus_total Fan-out aggregation outcomes.
# TYPE verdict_consensus_total counter
verdict_consensus_total{status="agreed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"verdict_runs_total", "verdict_consensus_total"))
}

// TestLiveCapabilities runs the machine on the production handlers: a real
// signer and the journaled chain writer, with only the AI call emulated.
func TestLiveCapabilities(t *testing.T) {
	journal, err := store.Open(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	defer journal.Close()

	key, err := evm.LoadKey("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	cfg := tu.Config()

	emu := fixture.New()
	newHost := func() capability.Host {
		signer := evm.NewSigner(key, cfg.ChainSelector(), cfg.Receiver())
		writer := evm.NewJournalWriter(cfg.ChainSelector(),
			evm.WithLedger(journal),
			evm.WithTrustedSigners(signer.Address()),
			evm.WithWriterLogger(tu.QuietLogger()))

		g := capability.New(capability.WithLogger(tu.QuietLogger()))
		g.Register(capability.Prefix(capability.PrefixSecrets), capability.Sync, secrets.Handler(secrets.MapStore(apiKey)))
		g.Register(capability.Prefix(capability.PrefixConsensus), capability.Sync, signer.Handler())
		g.Register(capability.Exact(cfg.ChainWriteTarget()), capability.Sync, writer.Handler())
		return g
	}
	ex, err := NewExecutor(cfg, newHost, emu.NodeFactory(),
		WithLogger(tu.QuietLogger()), WithIDGenerator(tu.NewSequentialIDs("live")))
	require.NoError(t, err)

	trigger := tu.TriggerLog(t, 42, tu.RainQuestion)
	first, err := ex.Execute(context.Background(), trigger)
	require.NoError(t, err)
	second, err := ex.Execute(context.Background(), trigger)
	require.NoError(t, err)

	assert.Equal(t, first.TxHash, second.TxHash, "identical report resolves to the recorded write")
	n, err := journal.CountSubmissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
