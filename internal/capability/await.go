package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/verdict/internal/envelope"
)

// AwaitSet names the handles a caller is waiting for. Timeout <= 0 waits
// until the context is done.
type AwaitSet struct {
	Handles []Handle
	Timeout time.Duration
}

// Await parks until every handle in set is bound and returns the responses.
// Duplicate handles are collapsed. Successfully awaited handles are consumed
// and removed from the pending table. When several callers await the same
// handle, exactly one receives its response; the others fail with
// ErrHandleConsumed.
//
// On timeout the error is a *TimeoutError carrying every handle's status.
// Context cancellation returns the context error.
func (g *Gateway) Await(ctx context.Context, set AwaitSet) (map[Handle]envelope.Envelope, error) {
	handles := dedupe(set.Handles)
	if len(handles) == 0 {
		return map[Handle]envelope.Envelope{}, nil
	}

	var expired <-chan time.Time
	if set.Timeout > 0 {
		timer := time.NewTimer(set.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	watched, err := g.pending.watch(handles)
	if err != nil {
		return nil, fmt.Errorf("await: %w", err)
	}
	for _, done := range watched {
		// A bound handle must never lose to an expired timer.
		select {
		case <-done:
			continue
		default:
		}
		select {
		case <-done:
		case <-expired:
			err := &TimeoutError{Timeout: set.Timeout, Statuses: g.pending.statuses(handles)}
			g.logger.Debug("await timed out", "handles", len(handles), "pending", len(err.Pending()))
			return nil, err
		case <-ctx.Done():
			g.pending.statuses(handles) // drops placeholders
			return nil, fmt.Errorf("await: %w", ctx.Err())
		}
	}
	got, err := g.pending.take(handles)
	if err != nil {
		return nil, fmt.Errorf("await: %w", err)
	}
	return got, nil
}

func dedupe(hs []Handle) []Handle {
	seen := make(map[Handle]struct{}, len(hs))
	out := make([]Handle, 0, len(hs))
	for _, h := range hs {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
