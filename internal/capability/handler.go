package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/verdict/internal/envelope"
)

// Handler serves one capability. It must return a terminal message; there is
// no deferred or lazily resolved result.
type Handler interface {
	Handle(ctx context.Context, req Request) (envelope.Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (envelope.Message, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (envelope.Message, error) {
	return f(ctx, req)
}

// Methods dispatches on Request.Method. Unlisted methods fail with
// ErrUnknownMethod.
type Methods map[string]HandlerFunc

func (m Methods) Handle(ctx context.Context, req Request) (envelope.Message, error) {
	fn, ok := m[req.Method]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", req.TargetID, req.Method, ErrUnknownMethod)
	}
	return fn(ctx, req)
}

// Mode selects when a handler's response is bound.
type Mode int

const (
	// Sync handlers run inside Invoke; the handle is bound before Invoke returns.
	Sync Mode = iota
	// Async handlers run on their own goroutine.
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// Route matches target ids either exactly or by prefix.
type Route struct {
	ID     string
	Prefix bool
}

// Exact matches one target id.
func Exact(id string) Route { return Route{ID: id} }

// Prefix matches every target id starting with p.
func Prefix(p string) Route { return Route{ID: p, Prefix: true} }

func (r Route) matches(target string) bool {
	if r.Prefix {
		return strings.HasPrefix(target, r.ID)
	}
	return target == r.ID
}

func (r Route) String() string {
	if r.Prefix {
		return r.ID + "*"
	}
	return r.ID
}

type registration struct {
	route   Route
	mode    Mode
	handler Handler
}
