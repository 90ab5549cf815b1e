package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/consensus"
	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/evm"
	"github.com/roach88/verdict/internal/gemini"
	"github.com/roach88/verdict/internal/store"
)

// DefaultAPIKeySecret names the AI provider key in the secret store.
const DefaultAPIKeySecret = "GEMINI_API_KEY"

// HostFactory builds the host one run calls through. It is called once per
// run so each run gets its own pending table.
type HostFactory func() capability.Host

// RunObserver is notified of every finished run. kind is empty on success.
type RunObserver interface {
	ObserveRun(stage, kind string)
}

// Journal stores run snapshots.
type Journal interface {
	SaveRun(ctx context.Context, run store.RunRecord, steps []store.StepRecord) (bool, error)
}

// Executor runs the settlement machine. It holds no per-run state and is
// safe for concurrent use.
type Executor struct {
	cfg       config.Config
	newHost   HostFactory
	nodes     consensus.NodeFactory
	runner    *consensus.Runner
	policy    consensus.AgreementPolicy
	ids       IDGenerator
	secretID  string
	logger    *slog.Logger
	observer  RunObserver
	consensus consensus.Observer
	tracer    trace.Tracer
	journal   Journal
}

// Option configures an Executor.
type Option func(*Executor)

// WithIDGenerator sets the run id generator. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Executor) { e.ids = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithRunObserver attaches a run observer, typically metrics.
func WithRunObserver(o RunObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// WithConsensusObserver attaches an aggregation observer.
func WithConsensusObserver(o consensus.Observer) Option {
	return func(e *Executor) { e.consensus = o }
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithJournal saves a snapshot of every finished run.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithPolicy replaces the agreement policy. Defaults to consensus.Unanimous.
func WithPolicy(p consensus.AgreementPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithAPIKeySecret changes the secret id of the AI provider key.
func WithAPIKeySecret(id string) Option {
	return func(e *Executor) { e.secretID = id }
}

// NewExecutor validates cfg and builds an executor. An invalid config is a
// CONFIG_ERROR StageError and no executor is returned.
func NewExecutor(cfg config.Config, newHost HostFactory, nodes consensus.NodeFactory, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &StageError{Stage: StageTriggered, Kind: KindConfigError, Err: err}
	}
	e := &Executor{
		cfg:      cfg,
		newHost:  newHost,
		nodes:    nodes,
		policy:   consensus.Unanimous{},
		ids:      UUIDv7Generator{},
		secretID: DefaultAPIKeySecret,
		logger:   slog.Default(),
		tracer:   otel.Tracer("verdict/settlement"),
	}
	for _, opt := range opts {
		opt(e)
	}
	runnerOpts := []consensus.RunnerOption{
		consensus.WithTimeout(cfg.AwaitTimeout()),
		consensus.WithLogger(e.logger),
	}
	if e.consensus != nil {
		runnerOpts = append(runnerOpts, consensus.WithObserver(e.consensus))
	}
	e.runner = consensus.NewRunner(nodes, runnerOpts...)
	return e, nil
}

// RunOption configures a single Execute call.
type RunOption func(*Run)

// WithAttempt records which attempt of a retried settlement this run is.
func WithAttempt(n int) RunOption {
	return func(r *Run) { r.Attempt = n }
}

// Execute drives one run from the trigger log to a terminal stage. The run
// is always returned; the error is its *StageError when it failed, or a
// journal failure after the run finished.
func (e *Executor) Execute(ctx context.Context, trigger types.Log, opts ...RunOption) (*Run, error) {
	run := newRun(e.ids.Generate(), 1)
	for _, opt := range opts {
		opt(run)
	}
	logger := e.logger.With("run_id", run.ID)

	ctx, span := e.tracer.Start(ctx, "settlement.run", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.Int("attempt", run.Attempt),
	))
	defer span.End()

	s := &session{e: e, run: run, host: e.newHost(), trigger: trigger, logger: logger, span: span}
	if err := s.execute(ctx); err != nil {
		run.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
		logger.Error("settlement failed",
			"market_id", marketIDString(run),
			"stage", string(err.Stage),
			"kind", string(err.Kind),
			"error", err.Err)
	} else {
		logger.Info("settlement succeeded",
			"market_id", marketIDString(run),
			"result", string(run.Outcome.Result),
			"confidence_bps", run.Outcome.ConfidenceBps,
			"tx_hash", common.BytesToHash(run.TxHash).Hex())
	}

	if e.observer != nil {
		kind := ""
		stage := run.Stage
		if run.Failure != nil {
			kind = string(run.Failure.Kind)
			stage = run.Failure.Stage
		}
		e.observer.ObserveRun(string(stage), kind)
	}

	if e.journal != nil {
		rec, steps := run.Record()
		if _, err := e.journal.SaveRun(ctx, rec, steps); err != nil {
			return run, fmt.Errorf("journal run %s: %w", run.ID, err)
		}
	}

	if run.Failure != nil {
		return run, run.Failure
	}
	return run, nil
}

func marketIDString(r *Run) string {
	if r.MarketID == nil {
		return ""
	}
	return r.MarketID.String()
}

// session is the state of one Execute call.
type session struct {
	e       *Executor
	run     *Run
	host    capability.Host
	trigger types.Log
	logger  *slog.Logger
	span    trace.Span

	agreed consensus.Outcome
	report *envelope.ReportResponse
}

func (s *session) advance(stage Stage, detail map[string]string) {
	s.run.advance(stage, detail)
	attrs := make([]attribute.KeyValue, 0, len(detail))
	args := []any{"stage", string(stage)}
	for _, k := range sortedKeys(detail) {
		attrs = append(attrs, attribute.String(k, detail[k]))
		args = append(args, k, detail[k])
	}
	s.span.AddEvent(string(stage), trace.WithAttributes(attrs...))
	s.logger.Info("stage entered", args...)
}

func (s *session) timeout() time.Duration {
	return s.e.cfg.AwaitTimeout()
}

func (s *session) fail(kind FailureKind, err error) *StageError {
	return &StageError{Stage: s.run.Stage, Kind: kind, Err: err}
}

func (s *session) execute(ctx context.Context) *StageError {
	for _, step := range []func(context.Context) *StageError{
		s.decodeEvent,
		s.fetchOutcome,
		s.aggregate,
		s.generateReport,
		s.writeChain,
	} {
		if err := step(ctx); err != nil {
			return err
		}
	}
	s.advance(StageSucceeded, map[string]string{"tx_hash": common.BytesToHash(s.run.TxHash).Hex()})
	return nil
}

func (s *session) decodeEvent(context.Context) *StageError {
	s.advance(StageDecodingEvent, map[string]string{
		"contract": s.trigger.Address.Hex(),
		"topics":   strconv.Itoa(len(s.trigger.Topics)),
	})

	ev, err := evm.DecodeSettlementRequested(s.trigger)
	if err != nil {
		return s.fail(KindDecodeError, err)
	}
	if want := s.e.cfg.Receiver(); ev.Contract != want {
		return s.fail(KindDecodeError, fmt.Errorf("%w: got %s, want %s", ErrWrongContract, ev.Contract.Hex(), want.Hex()))
	}
	s.run.MarketID = ev.MarketID
	s.run.Question = ev.Question
	return nil
}

func (s *session) fetchOutcome(ctx context.Context) *StageError {
	s.advance(StageFetchingOutcome, map[string]string{
		"market_id": s.run.MarketID.String(),
		"question":  s.run.Question,
		"nodes":     strconv.Itoa(s.e.cfg.NodeCount),
	})

	secretReq, err := capability.NewRequest(capability.TargetSecrets, capability.MethodGetSecret, &envelope.SecretRequest{ID: s.e.secretID})
	if err != nil {
		return s.fail(KindCapabilityError, err)
	}
	secret, err := capability.Call[*envelope.SecretResponse](ctx, s.host, secretReq, s.timeout())
	if err != nil {
		return classify(s.run.Stage, fmt.Errorf("secret %s: %w", s.e.secretID, err))
	}
	if secret.Value == "" {
		return s.fail(KindCapabilityError, fmt.Errorf("%w: %s", ErrEmptySecret, s.e.secretID))
	}

	httpReq, err := gemini.BuildRequest(s.e.cfg.GeminiModel, secret.Value, s.run.Question)
	if err != nil {
		return s.fail(KindCapabilityError, err)
	}
	call, err := capability.NewRequest(capability.TargetHTTP, capability.MethodSendRequest, httpReq)
	if err != nil {
		return s.fail(KindCapabilityError, err)
	}

	out, err := s.e.runner.RunWithConsensus(ctx, call, s.e.cfg.NodeCount, s.e.policy)
	if err != nil {
		return classify(s.run.Stage, err)
	}
	s.agreed = out
	return nil
}

func (s *session) aggregate(context.Context) *StageError {
	detail := map[string]string{
		"policy":   s.e.policy.Name(),
		"status":   s.agreed.Status.String(),
		"distinct": strconv.Itoa(s.agreed.Distinct),
	}
	if s.agreed.Value != nil {
		detail["digest"] = s.agreed.Value.Digest()
	}
	s.advance(StageAggregating, detail)

	if s.agreed.Status != consensus.Agreed || s.agreed.Value == nil {
		return s.fail(KindConsensusMismatch, fmt.Errorf("%w: %d distinct responses from %d nodes",
			ErrConsensusMismatch, s.agreed.Distinct, s.e.cfg.NodeCount))
	}

	env := *s.agreed.Value
	if reply, ok := envelope.AsError(env); ok {
		return s.fail(KindCapabilityError, &capability.CapabilityError{
			Code: reply.Code, Target: capability.TargetHTTP, Message: reply.Message,
		})
	}
	resp, err := envelope.AsHTTPResponse(env)
	if err != nil {
		return s.fail(KindDecodeError, err)
	}
	if !resp.OK() {
		return s.fail(KindCapabilityError, fmt.Errorf("%w: %d", ErrNon2xx, resp.StatusCode))
	}
	outcome, err := gemini.ParseOutcome(resp.Body)
	if err != nil {
		return s.fail(KindDecodeError, err)
	}
	s.run.Outcome = &outcome
	return nil
}

func (s *session) generateReport(ctx context.Context) *StageError {
	s.advance(StageGeneratingReport, map[string]string{
		"result":         string(s.run.Outcome.Result),
		"outcome_code":   strconv.Itoa(int(s.run.Outcome.Result.Code())),
		"confidence_bps": strconv.Itoa(int(s.run.Outcome.ConfidenceBps)),
	})

	payload, err := evm.EncodeReport(evm.Report{
		MarketID:      s.run.MarketID,
		Outcome:       s.run.Outcome.Result.Code(),
		ConfidenceBps: s.run.Outcome.ConfidenceBps,
		EvidenceURI:   s.e.cfg.EvidenceURI,
	})
	if err != nil {
		return s.fail(KindDecodeError, err)
	}
	s.run.ReportPayload = payload

	req, err := capability.NewRequest(capability.TargetConsensus, capability.MethodReport, &envelope.ReportRequest{
		EncodedPayload: payload,
		EncoderName:    evm.EncoderEVM,
		SigningAlgo:    evm.SigningECDSA,
		HashingAlgo:    evm.HashingKeccak256,
	})
	if err != nil {
		return s.fail(KindCapabilityError, err)
	}
	report, err := capability.Call[*envelope.ReportResponse](ctx, s.host, req, s.timeout())
	if err != nil {
		return classify(s.run.Stage, err)
	}
	s.report = report
	return nil
}

func (s *session) writeChain(ctx context.Context) *StageError {
	target := s.e.cfg.ChainWriteTarget()
	s.advance(StageWritingChain, map[string]string{
		"target":   target,
		"receiver": s.e.cfg.Receiver().Hex(),
		"seq_nr":   strconv.FormatUint(s.report.SeqNr, 10),
		"sigs":     strconv.Itoa(len(s.report.Sigs)),
	})

	req, err := capability.NewRequest(target, capability.MethodWriteReport, &envelope.WriteReportRequest{
		Receiver: s.e.cfg.Receiver().Hex(),
		Report:   *s.report,
		GasLimit: s.e.cfg.GasLimit,
	})
	if err != nil {
		return s.fail(KindCapabilityError, err)
	}
	reply, err := capability.Call[*envelope.WriteReportReply](ctx, s.host, req, s.timeout())
	if err != nil {
		return classify(s.run.Stage, err)
	}
	if reply.TxStatus != "" && reply.TxStatus != evm.TxStatusSuccess {
		return s.fail(KindCapabilityError, fmt.Errorf("%w: %s", ErrWriteRejected, reply.TxStatus))
	}
	if len(reply.TxHash) == 0 {
		return s.fail(KindCapabilityError, fmt.Errorf("%w: empty tx hash", ErrWriteRejected))
	}
	s.run.TxHash = reply.TxHash
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
