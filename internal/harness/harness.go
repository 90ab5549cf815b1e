package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/evm"
	"github.com/roach88/verdict/internal/fixture"
	"github.com/roach88/verdict/internal/settlement"
	"github.com/roach88/verdict/internal/store"
	"github.com/roach88/verdict/internal/testutil"
)

// Harness is the scenario execution context.
type Harness struct {
	store  *store.Store
	emu    *fixture.Emulator
	ids    *testutil.SequentialIDs
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal with its own emulator.
// Execution flow:
// 1. Build the config and the trigger log
// 2. Script the emulator from the scenario's nodes and secrets
// 3. Execute the settlement run
// 4. Check the expectation and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg, err := scenarioConfig(scenario.Config)
	if err != nil {
		return nil, err
	}
	trigger, err := scenario.Trigger.log(cfg.Receiver())
	if err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}

	h := &Harness{
		store:  st,
		ids:    testutil.NewSequentialIDs("run"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.emu = fixture.New(h.emulatorOptions(scenario)...)
	defer h.emu.Close()

	ex, err := settlement.NewExecutor(cfg,
		func() capability.Host { return h.emu.Host() },
		h.emu.NodeFactory(),
		settlement.WithLogger(h.logger),
		settlement.WithIDGenerator(h.ids),
		settlement.WithJournal(st),
	)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	ctx := context.Background()
	run, err := ex.Execute(ctx, trigger)
	if err != nil && run.Failure == nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	result := h.collect(run)
	for _, msg := range checkExpectation(scenario.Expect, result) {
		result.AddError(msg)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"run_id", result.RunID,
		"stage", result.Stage,
		"pass", result.Pass,
	)
	return result, nil
}

func scenarioConfig(o ConfigOverrides) (config.Config, error) {
	cfg := config.Config{
		GeminiModel:     "gemini-2.0-flash",
		ContractAddress: testutil.Contract.Hex(),
		ChainName:       "ethereum-testnet-sepolia",
		NodeCount:       o.NodeCount,
		AwaitTimeoutMs:  o.AwaitTimeoutMs,
		EvidenceURI:     o.EvidenceURI,
	}
	if o.ChainName != "" {
		cfg.ChainName = o.ChainName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

func (t Trigger) log(receiver common.Address) (types.Log, error) {
	contract := receiver
	if t.Contract != "" {
		if !common.IsHexAddress(t.Contract) {
			return types.Log{}, fmt.Errorf("invalid contract %q", t.Contract)
		}
		contract = common.HexToAddress(t.Contract)
	}
	id, ok := new(big.Int).SetString(t.MarketID, 10)
	if !ok {
		return types.Log{}, fmt.Errorf("invalid market id %q", t.MarketID)
	}
	log, err := evm.EncodeSettlementRequested(contract, id, t.Question)
	if err != nil {
		return types.Log{}, err
	}
	if t.Topic0 != "" {
		log.Topics[0] = common.HexToHash(t.Topic0)
	}
	log.Removed = t.Removed
	return log, nil
}

func (h *Harness) emulatorOptions(s *Scenario) []fixture.Option {
	opts := []fixture.Option{
		fixture.WithLogger(h.logger),
		fixture.WithSecrets(s.Secrets),
		fixture.WithDefaultNode(s.Nodes.Default.node()),
	}
	for i, n := range s.Nodes.Overrides {
		opts = append(opts, fixture.WithNode(i, n.node()))
	}
	return opts
}

func (n NodeScript) node() fixture.Node {
	return fixture.Node{
		AIText:     n.AIText,
		StatusCode: n.Status,
		Structured: n.Structured,
		Delay:      time.Duration(n.DelayMs) * time.Millisecond,
		Hang:       n.Hang,
	}
}

// collect converts the run and the emulator's call log into a Result.
func (h *Harness) collect(run *settlement.Run) *Result {
	result := NewResult()
	result.RunID = run.ID
	result.Stage = string(run.Stage)
	if run.Failure != nil {
		result.Failure = &Failure{
			Stage:   string(run.Failure.Stage),
			Kind:    string(run.Failure.Kind),
			Message: run.Failure.Err.Error(),
		}
	}
	if run.Outcome != nil {
		result.Result = string(run.Outcome.Result)
		result.ConfidenceBps = int(run.Outcome.ConfidenceBps)
	}
	for _, s := range run.Steps {
		result.Trace = append(result.Trace, TraceEvent{Seq: s.Seq, Stage: string(s.Stage), Detail: maps.Clone(s.Detail)})
	}
	for _, c := range h.emu.Calls() {
		result.Calls[c.Method]++
	}
	return result
}

func checkExpectation(want Expectation, got *Result) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("expect.%s: want %v, got %v", field, want, got))
	}

	if got.Stage != want.Stage {
		mismatch("stage", want.Stage, got.Stage)
	}
	var failStage, kind, message string
	if got.Failure != nil {
		failStage, kind, message = got.Failure.Stage, got.Failure.Kind, got.Failure.Message
	}
	if want.FailureStage != "" && failStage != want.FailureStage {
		mismatch("failure_stage", want.FailureStage, failStage)
	}
	if kind != want.Kind {
		mismatch("kind", want.Kind, kind)
	}
	if want.ErrorContains != "" && !strings.Contains(message, want.ErrorContains) {
		mismatch("error_contains", want.ErrorContains, message)
	}
	if want.Result != "" && got.Result != want.Result {
		mismatch("result", want.Result, got.Result)
	}
	if want.ConfidenceBps != 0 && got.ConfidenceBps != want.ConfidenceBps {
		mismatch("confidence_bps", want.ConfidenceBps, got.ConfidenceBps)
	}
	return errs
}
