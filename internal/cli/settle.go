package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/consensus"
	"github.com/roach88/verdict/internal/evm"
	"github.com/roach88/verdict/internal/fixture"
	"github.com/roach88/verdict/internal/httpfetch"
	"github.com/roach88/verdict/internal/secrets"
	"github.com/roach88/verdict/internal/settlement"
	"github.com/roach88/verdict/internal/store"
	"github.com/roach88/verdict/internal/telemetry"
)

// SigningKeySecret names the report signing key in the secret store.
const SigningKeySecret = "SIGNING_KEY"

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	*RootOptions
	ConfigPath  string
	LogPath     string
	MarketID    string
	Question    string
	Simulate    bool
	AIText      string
	Nodes       int
	Database    string
	Retries     int
	RetryDelay  time.Duration
	MetricsFile string
	SecretFiles []string
	EnvFile     string
	SigningKey  string
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement",
		Long: `Run the settlement machine for one SettlementRequested event.

The trigger is read from --log (JSON, as printed by "verdict event") or
synthesized from --market-id and --question for the configured contract.

With --simulate every capability is answered by the deterministic emulator:
no network access, no keys, no chain. Without it the AI call goes over
HTTP on every node, the report is signed with SIGNING_KEY and the write is
recorded in the journal.

Example:
  verdict settle --config config.json --simulate --question "Will it rain in New York tomorrow?"
  verdict settle --config config.json --log trigger.json --secrets secrets.yaml --db verdict.db --retries 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "config.json", "path to config file")
	f.StringVar(&opts.LogPath, "log", "", "trigger log JSON file")
	f.StringVar(&opts.MarketID, "market-id", "1", "market id for a synthesized trigger")
	f.StringVar(&opts.Question, "question", "", "question for a synthesized trigger")
	f.BoolVar(&opts.Simulate, "simulate", false, "answer every capability with the emulator")
	f.StringVar(&opts.AIText, "ai-text", "", "model text the emulator answers with (simulate only)")
	f.IntVar(&opts.Nodes, "nodes", 0, "override the configured node count")
	f.StringVar(&opts.Database, "db", "", "journal runs and chain writes to this SQLite database")
	f.IntVar(&opts.Retries, "retries", 0, "re-run from Triggered this many times on retryable failures")
	f.DurationVar(&opts.RetryDelay, "retry-delay", time.Second, "base delay between retries (exponential)")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.StringSliceVar(&opts.SecretFiles, "secrets", nil, "YAML secret files, later files override earlier ones")
	f.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	f.StringVar(&opts.SigningKey, "signing-key", "", "hex secp256k1 report signing key (overrides SIGNING_KEY)")
	cmd.MarkFlagsMutuallyExclusive("log", "question")

	return cmd
}

// SettleResult is the settle command result.
type SettleResult struct {
	RunID         string         `json:"run_id"`
	Attempts      int            `json:"attempts"`
	MarketID      string         `json:"market_id,omitempty"`
	Question      string         `json:"question,omitempty"`
	Stage         string         `json:"stage"`
	Result        string         `json:"result,omitempty"`
	OutcomeCode   uint8          `json:"outcome_code,omitempty"`
	ConfidenceBps uint16         `json:"confidence_bps,omitempty"`
	ReportPayload string         `json:"report_payload,omitempty"`
	TxHash        string         `json:"tx_hash,omitempty"`
	Failure       *SettleFailure `json:"failure,omitempty"`
	Steps         []HistoryStep  `json:"steps"`
}

// SettleFailure describes a failed run.
type SettleFailure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteText renders the run for humans.
func (r SettleResult) WriteText(w io.Writer) error {
	for _, s := range r.Steps {
		fmt.Fprintf(w, "  %3d %-17s %v\n", s.Seq, s.Stage, s.Detail)
	}
	if r.Failure != nil {
		fmt.Fprintf(w, "✗ run %s failed after %d attempt(s): %s at %s: %s\n",
			r.RunID, r.Attempts, r.Failure.Kind, r.Failure.Stage, r.Failure.Message)
		return nil
	}
	fmt.Fprintf(w, "✓ run %s settled market %s: %s (%d bps)\n", r.RunID, r.MarketID, r.Result, r.ConfidenceBps)
	fmt.Fprintf(w, "  tx: %s\n", r.TxHash)
	return nil
}

func settleResult(run *settlement.Run, attempts int) SettleResult {
	res := SettleResult{
		RunID:    run.ID,
		Attempts: attempts,
		Question: run.Question,
		Stage:    string(run.Stage),
	}
	if run.MarketID != nil {
		res.MarketID = run.MarketID.String()
	}
	if run.Outcome != nil {
		res.Result = string(run.Outcome.Result)
		res.OutcomeCode = run.Outcome.Result.Code()
		res.ConfidenceBps = run.Outcome.ConfidenceBps
	}
	if len(run.ReportPayload) > 0 {
		res.ReportPayload = hexutil.Encode(run.ReportPayload)
	}
	if len(run.TxHash) > 0 {
		res.TxHash = common.BytesToHash(run.TxHash).Hex()
	}
	if run.Failure != nil {
		res.Failure = &SettleFailure{
			Stage:   string(run.Failure.Stage),
			Kind:    string(run.Failure.Kind),
			Message: run.Failure.Err.Error(),
		}
	}
	for _, s := range run.Steps {
		res.Steps = append(res.Steps, HistoryStep{Seq: s.Seq, Stage: string(s.Stage), Detail: s.Detail})
	}
	return res
}

func runSettle(opts *SettleOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracing(ctx)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	if err := secrets.LoadEnvFile(opts.EnvFile); err != nil {
		_ = formatter.Error(ErrCodeSecrets, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load env file", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err == nil && opts.Nodes > 0 {
		cfg.NodeCount = opts.Nodes
		err = cfg.Validate()
	}
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, "config invalid", ValidationResult{Errors: configErrors(err)})
		return WrapExitError(ExitCommandError, "config invalid", err)
	}

	trigger, err := opts.trigger(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeTrigger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "trigger", err)
	}

	secretStore, err := opts.secretStore()
	if err != nil {
		_ = formatter.Error(ErrCodeSecrets, err.Error(), nil)
		return WrapExitError(ExitCommandError, "secrets", err)
	}

	var journal *store.Store
	if opts.Database != "" {
		journal, err = store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, "failed to open database", nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("error closing database", "error", err)
			}
		}()
	}

	metrics := telemetry.NewMetrics()
	newHost, nodes, err := opts.hosts(ctx, cfg, secretStore, journal, metrics, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeSigner, err.Error(), nil)
		return WrapExitError(ExitCommandError, "capabilities", err)
	}

	exOpts := []settlement.Option{
		settlement.WithLogger(logger),
		settlement.WithRunObserver(metrics),
		settlement.WithConsensusObserver(metrics),
		settlement.WithTracer(telemetry.Tracer()),
	}
	if journal != nil {
		exOpts = append(exOpts, settlement.WithJournal(journal))
	}
	ex, err := settlement.NewExecutor(cfg, newHost, nodes, exOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "config invalid", err)
	}

	run, attempts, runErr := settle(ctx, ex, trigger, opts.Retries, opts.RetryDelay, logger)

	if opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(opts.MetricsFile); err != nil {
			logger.Error("metrics not written", "error", err)
		}
	}

	if run == nil {
		_ = formatter.Error(ErrCodeRun, runErr.Error(), nil)
		return WrapExitError(ExitCommandError, "settle", runErr)
	}
	result := settleResult(run, attempts)
	if runErr != nil && run.Failure == nil {
		// The run finished but could not be journaled.
		_ = formatter.Error(ErrCodeJournal, runErr.Error(), result)
		return WrapExitError(ExitCommandError, "journal", runErr)
	}
	if run.Failure != nil {
		if err := formatter.Error(ErrCodeRun, run.Failure.Error(), result); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "settlement failed", run.Failure)
	}
	return formatter.Success(result)
}

// settle runs the machine, re-running it from Triggered with exponential
// backoff while the failure is retryable and retries remain.
func settle(ctx context.Context, ex *settlement.Executor, trigger types.Log, retries int, delay time.Duration, logger *slog.Logger) (*settlement.Run, int, error) {
	var (
		last     *settlement.Run
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(max(retries, 0)), retry.NewExponential(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		run, err := ex.Execute(ctx, trigger, settlement.WithAttempt(attempts))
		last = run
		if err != nil && settlement.Retryable(err) && run.Failure != nil {
			logger.Warn("settlement attempt failed", "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return last, attempts, err
}

func (o *SettleOptions) trigger(cfg config.Config) (types.Log, error) {
	if o.LogPath != "" {
		return readTrigger(o.LogPath)
	}
	if o.Question == "" {
		return types.Log{}, errors.New("either --log or --question is required")
	}
	return synthesizeTrigger(cfg.Receiver().Hex(), o.MarketID, o.Question)
}

func (o *SettleOptions) secretStore() (secrets.Store, error) {
	chain := secrets.Chain{}
	if len(o.SecretFiles) > 0 {
		files, err := secrets.LoadFiles(o.SecretFiles...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, files)
	}
	return append(chain, secrets.EnvStore{Prefix: secrets.DefaultEnvPrefix}), nil
}

// hosts builds the per-run host and the fan-out node factory.
func (o *SettleOptions) hosts(ctx context.Context, cfg config.Config, secretStore secrets.Store, journal *store.Store, metrics *telemetry.Metrics, logger *slog.Logger) (settlement.HostFactory, consensus.NodeFactory, error) {
	observe := capability.WithObserver(metrics)

	if o.Simulate {
		// The emulator holds no keys of its own; a configured key still wins.
		emu := fixture.New(
			fixture.WithSecretStore(secrets.Chain{secretStore, secrets.MapStore{settlement.DefaultAPIKeySecret: "simulated"}}),
			fixture.WithDefaultNode(fixture.Node{AIText: o.AIText}),
			fixture.WithLogger(logger),
		)
		return func() capability.Host { return emu.Host(observe) }, emu.NodeFactory(observe), nil
	}

	keyHex := o.SigningKey
	if keyHex == "" {
		v, _, err := secretStore.Lookup(ctx, SigningKeySecret)
		if err != nil {
			return nil, nil, err
		}
		keyHex = v
	}
	if keyHex == "" {
		return nil, nil, fmt.Errorf("no signing key: set --signing-key or the %s secret", SigningKeySecret)
	}
	key, err := evm.LoadKey(keyHex)
	if err != nil {
		return nil, nil, err
	}

	writerOpts := []evm.WriterOption{evm.WithWriterLogger(logger)}
	if journal != nil {
		writerOpts = append(writerOpts, evm.WithLedger(journal))
	}
	fetcher := func(node int) capability.Handler {
		return httpfetch.New(cfg.AwaitTimeout(), httpfetch.WithLogger(logger.With("node", node))).Handler()
	}

	newHost := func() capability.Host {
		signer := evm.NewSigner(key, cfg.ChainSelector(), cfg.Receiver())
		writer := evm.NewJournalWriter(cfg.ChainSelector(), append(writerOpts, evm.WithTrustedSigners(signer.Address()))...)

		g := capability.New(capability.WithLogger(logger), observe)
		g.Register(capability.Prefix(capability.PrefixSecrets), capability.Sync, secrets.Handler(secretStore))
		g.Register(capability.Prefix(capability.PrefixHTTP), capability.Async, fetcher(-1))
		g.Register(capability.Prefix(capability.PrefixConsensus), capability.Sync, signer.Handler())
		g.Register(capability.Exact(cfg.ChainWriteTarget()), capability.Sync, writer.Handler())
		return g
	}
	nodes := func(i int) capability.Host {
		g := capability.New(capability.WithLogger(logger.With("node", i)), observe)
		g.Register(capability.Prefix(capability.PrefixHTTP), capability.Async, fetcher(i))
		return g
	}
	return newHost, nodes, nil
}
