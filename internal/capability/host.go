package capability

import (
	"context"
	"time"

	"github.com/roach88/verdict/internal/envelope"
)

// Host is the boundary workflow code calls through. Gateway is the only
// production implementation; tests substitute scripted gateways.
type Host interface {
	Invoke(ctx context.Context, req Request) Handle
	Await(ctx context.Context, set AwaitSet) (map[Handle]envelope.Envelope, error)
}

var _ Host = (*Gateway)(nil)

// Call invokes one capability and awaits its response as T.
func Call[T envelope.Message](ctx context.Context, host Host, req Request, timeout time.Duration) (T, error) {
	var zero T
	env, err := CallRaw(ctx, host, req, timeout)
	if err != nil {
		return zero, err
	}
	return Expect[T](req.TargetID, env)
}

// CallRaw invokes one capability and returns the undecoded response.
func CallRaw(ctx context.Context, host Host, req Request, timeout time.Duration) (envelope.Envelope, error) {
	h := host.Invoke(ctx, req)
	got, err := host.Await(ctx, AwaitSet{Handles: []Handle{h}, Timeout: timeout})
	if err != nil {
		return envelope.Envelope{}, err
	}
	return got[h], nil
}
