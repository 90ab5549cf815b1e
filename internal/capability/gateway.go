package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/seq"
)

// Observer is notified of every accepted invocation.
type Observer interface {
	ObserveInvocation(target, method string)
}

// Gateway routes invocations to registered handlers and owns the pending
// table their responses are bound into.
//
// Thread-safety: Invoke and Await are safe for concurrent use. A response
// is delivered to one Await only: concurrent Awaits of the same handle see
// one success and ErrHandleConsumed for the rest. Register handlers before
// the first Invoke.
type Gateway struct {
	mu       sync.RWMutex
	routes   []registration
	fallback *registration

	handles  *seq.Clock
	pending  *pendingTable
	logger   *slog.Logger
	observer Observer
	wg       sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHandleSeed sets the first handle minted. Defaults to 1.
func WithHandleSeed(seed int64) Option {
	return func(g *Gateway) {
		g.handles = seq.NewClockAt(seed - 1)
	}
}

// WithFallback installs a handler for target ids no route matches. Without
// one, unknown targets are bound to an UNKNOWN_TARGET ErrorReply.
func WithFallback(mode Mode, h Handler) Option {
	return func(g *Gateway) {
		g.fallback = &registration{route: Prefix(""), mode: mode, handler: h}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithObserver attaches an invocation observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// New creates a Gateway with an empty routing table.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		handles: seq.NewClock(),
		pending: newPendingTable(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a route. Exact routes win over prefix routes; among prefix
// routes the longest prefix wins.
func (g *Gateway) Register(route Route, mode Mode, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes = append(g.routes, registration{route: route, mode: mode, handler: h})
}

func (g *Gateway) lookup(target string) *registration {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *registration
	for i := range g.routes {
		r := &g.routes[i]
		if !r.route.matches(target) {
			continue
		}
		if !r.route.Prefix {
			return r
		}
		if best == nil || len(r.route.ID) > len(best.route.ID) {
			best = r
		}
	}
	if best == nil {
		return g.fallback
	}
	return best
}

// Invoke accepts req and returns its handle without waiting for the response.
// The request bytes are copied; the caller may reuse its buffer.
func (g *Gateway) Invoke(ctx context.Context, req Request) Handle {
	req = req.clone()
	h := Handle(g.handles.Next())
	g.pending.dispatch(h, req.TargetID)

	if g.observer != nil {
		g.observer.ObserveInvocation(req.TargetID, req.Method)
	}

	reg := g.lookup(req.TargetID)
	if reg == nil {
		g.logger.Debug("capability invoked",
			"handle", int64(h), "target", req.TargetID, "method", req.Method, "route", "none")
		g.bind(h, req.TargetID, &envelope.ErrorReply{
			Code:    CodeUnknownTarget,
			Message: fmt.Sprintf("no capability registered for %q", req.TargetID),
		})
		return h
	}

	g.logger.Debug("capability invoked",
		"handle", int64(h), "target", req.TargetID, "method", req.Method,
		"route", reg.route.String(), "mode", reg.mode.String())

	if reg.mode == Sync {
		g.bind(h, req.TargetID, g.run(ctx, reg.handler, req))
		return h
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.bind(h, req.TargetID, g.run(ctx, reg.handler, req))
	}()
	return h
}

// run calls the handler and converts every failure mode into a message.
func (g *Gateway) run(ctx context.Context, h Handler, req Request) (msg envelope.Message) {
	defer func() {
		if r := recover(); r != nil {
			msg = &envelope.ErrorReply{
				Code:    CodeHandlerFailed,
				Message: fmt.Sprintf("%s: handler panicked: %v", req.TargetID, r),
			}
		}
	}()

	out, err := h.Handle(ctx, req)
	if err != nil {
		return errorReply(req.TargetID, err)
	}
	if out == nil {
		return &envelope.ErrorReply{
			Code:    CodeHandlerFailed,
			Message: fmt.Sprintf("%s: handler returned no message", req.TargetID),
		}
	}
	return out
}

func (g *Gateway) bind(h Handle, target string, msg envelope.Message) {
	env, err := envelope.Encode(msg)
	if err != nil {
		env = envelope.MustEncode(&envelope.ErrorReply{
			Code:    CodeHandlerFailed,
			Message: fmt.Sprintf("%s: encode response: %v", target, err),
		})
	}
	if !g.pending.bind(h, env) {
		g.logger.Warn("duplicate response ignored", "handle", int64(h), "target", target)
		return
	}
	g.logger.Debug("capability replied",
		"handle", int64(h), "target", target, "type_url", env.TypeURL, "digest", env.Digest())
}

// Outstanding returns the number of dispatched handles not yet consumed by a
// successful Await.
func (g *Gateway) Outstanding() int {
	return g.pending.outstanding()
}

// Wait blocks until every async handler started by this gateway has returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
