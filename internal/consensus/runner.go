package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/verdict/internal/capability"
)

// NodeFactory builds the host a node evaluates its call on. It is called once
// per node per collection, so each node gets an independent pending table.
type NodeFactory func(nodeIndex int) capability.Host

// Observer is notified of every aggregation outcome.
type Observer interface {
	ObserveConsensus(status string)
}

// Runner fans a call out across nodes.
type Runner struct {
	nodes    NodeFactory
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout bounds each node's await. Zero means wait for the context.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithObserver attaches an aggregation observer, typically metrics.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a Runner over nodes.
func NewRunner(nodes NodeFactory, opts ...RunnerOption) *Runner {
	r := &Runner{nodes: nodes, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collect invokes call once on each of n nodes and waits for all of them.
// Results are ordered by node index. Any node error fails the collection.
func (r *Runner) Collect(ctx context.Context, call capability.Request, n int) ([]NodeResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("consensus: node count must be positive, got %d", n)
	}

	results := make([]NodeResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			host := r.nodes(i)
			h := host.Invoke(gctx, call)
			got, err := host.Await(gctx, capability.AwaitSet{Handles: []capability.Handle{h}, Timeout: r.timeout})
			if err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			env := got[h]
			r.logger.Debug("node replied",
				"node", i, "target", call.TargetID, "type_url", env.TypeURL, "digest", env.Digest())
			results[i] = NodeResult{NodeIndex: i, Envelope: env}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	return results, nil
}

// RunWithConsensus collects n node results and aggregates them with policy.
// Disagreed is returned as an outcome, not an error, and is never retried here.
func (r *Runner) RunWithConsensus(ctx context.Context, call capability.Request, n int, policy AgreementPolicy) (Outcome, error) {
	if policy == nil {
		policy = Unanimous{}
	}
	results, err := r.Collect(ctx, call, n)
	if err != nil {
		return Outcome{}, err
	}
	out, err := policy.Aggregate(results)
	if err != nil {
		return Outcome{}, fmt.Errorf("consensus: %s: %w", policy.Name(), err)
	}
	if r.observer != nil {
		r.observer.ObserveConsensus(out.Status.String())
	}
	r.logger.Debug("consensus reached",
		"policy", policy.Name(), "nodes", n, "status", out.Status.String(), "distinct", out.Distinct)
	return out, nil
}
