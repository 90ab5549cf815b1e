package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/verdict/internal/envelope"
)

// ErrUnknownMethod is returned by handlers that do not serve a method.
var ErrUnknownMethod = errors.New("unknown method")

// ErrHandleConsumed is returned by Await when another caller already took
// the response for one of its handles.
var ErrHandleConsumed = errors.New("handle already consumed")

// Error codes carried in ErrorReply envelopes.
const (
	CodeUnknownTarget = "UNKNOWN_TARGET"
	CodeUnknownMethod = "UNKNOWN_METHOD"
	CodeBadRequest    = "BAD_REQUEST"
	CodeHandlerFailed = "HANDLER_FAILED"
	CodeNotFound      = "NOT_FOUND"
)

// CapabilityError is a failure reported by a capability. Handlers may return
// one to choose the code bound into the ErrorReply; Expect returns one when
// the awaited envelope is an ErrorReply.
type CapabilityError struct {
	Code    string
	Target  string
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Target != "" {
		fmt.Fprintf(&b, " (%s)", e.Target)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// IsCapabilityError returns true if err wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// HandleStatus describes how far a handle got before an await gave up.
type HandleStatus int

const (
	// NeverDispatched means no invocation minted the handle.
	NeverDispatched HandleStatus = iota
	// Dispatched means the invocation is in flight with no reply yet.
	Dispatched
	// Replied means a response was bound.
	Replied
)

func (s HandleStatus) String() string {
	switch s {
	case NeverDispatched:
		return "never_dispatched"
	case Dispatched:
		return "dispatched"
	case Replied:
		return "replied"
	default:
		return fmt.Sprintf("HandleStatus(%d)", int(s))
	}
}

// TimeoutError is returned by Await when the set was not resolved in time.
type TimeoutError struct {
	Timeout  time.Duration
	Statuses map[Handle]HandleStatus
}

func (e *TimeoutError) Error() string {
	handles := make([]Handle, 0, len(e.Statuses))
	for h := range e.Statuses {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = fmt.Sprintf("%d=%s", h, e.Statuses[h])
	}
	return fmt.Sprintf("await timed out after %s [%s]", e.Timeout, strings.Join(parts, " "))
}

// Pending returns the handles that had not replied, in ascending order.
func (e *TimeoutError) Pending() []Handle {
	var out []Handle
	for h, s := range e.Statuses {
		if s != Replied {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTimeout returns true if err wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// errorReply converts a handler failure into the envelope bound to the handle.
func errorReply(target string, err error) *envelope.ErrorReply {
	var ce *CapabilityError
	switch {
	case errors.As(err, &ce):
		msg := ce.Message
		if ce.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, ce.Err)
		}
		return &envelope.ErrorReply{Code: ce.Code, Message: msg}
	case errors.Is(err, ErrUnknownMethod):
		return &envelope.ErrorReply{Code: CodeUnknownMethod, Message: err.Error()}
	default:
		return &envelope.ErrorReply{Code: CodeHandlerFailed, Message: fmt.Sprintf("%s: %v", target, err)}
	}
}

// Expect decodes an awaited envelope as T. An ErrorReply becomes a
// CapabilityError; any other shape is a SchemaMismatchError.
func Expect[T envelope.Message](target string, env envelope.Envelope) (T, error) {
	var zero T
	if reply, ok := envelope.AsError(env); ok {
		return zero, &CapabilityError{Code: reply.Code, Target: target, Message: reply.Message}
	}
	return envelope.DecodeAs[T](env)
}
