package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/envelope"
)

// FailureKind categorizes why a run failed.
type FailureKind string

const (
	// KindDecodeError: malformed trigger, envelope or AI reply.
	KindDecodeError FailureKind = "DECODE_ERROR"

	// KindTimeout: an await set was not resolved in budget.
	KindTimeout FailureKind = "TIMEOUT"

	// KindConsensusMismatch: fan-out nodes disagreed.
	KindConsensusMismatch FailureKind = "CONSENSUS_MISMATCH"

	// KindCapabilityError: a capability answered with a failure, a non-2xx
	// status or an empty required secret.
	KindCapabilityError FailureKind = "CAPABILITY_ERROR"

	// KindConfigError: invalid configuration; no capability was called.
	KindConfigError FailureKind = "CONFIG_ERROR"
)

// Sentinel causes wrapped by StageError.
var (
	ErrEmptySecret       = errors.New("required secret is empty")
	ErrConsensusMismatch = errors.New("nodes returned different results")
	ErrNon2xx            = errors.New("non-2xx HTTP status")
	ErrWrongContract     = errors.New("log emitted by an unexpected contract")
	ErrWriteRejected     = errors.New("chain write not successful")
)

// StageError is the terminal failure of a run. It keeps the stage the run
// was in and the original cause.
type StageError struct {
	Stage Stage
	Kind  FailureKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func kindOf(err error) (FailureKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsDecodeError returns true if err is a DECODE_ERROR run failure.
func IsDecodeError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDecodeError
}

// IsTimeout returns true if err is a TIMEOUT run failure.
func IsTimeout(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTimeout
}

// IsConsensusMismatch returns true if err is a CONSENSUS_MISMATCH run failure.
func IsConsensusMismatch(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConsensusMismatch
}

// IsCapabilityError returns true if err is a CAPABILITY_ERROR run failure.
func IsCapabilityError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCapabilityError
}

// IsConfigError returns true if err is a CONFIG_ERROR run failure.
func IsConfigError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfigError
}

// Retryable reports whether re-running the machine from Triggered could
// plausibly succeed. Decode and config failures are deterministic.
func Retryable(err error) bool {
	k, ok := kindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindTimeout, KindCapabilityError, KindConsensusMismatch:
		return true
	default:
		return false
	}
}

// classify maps a capability-layer error onto a failure kind.
func classify(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	kind := KindCapabilityError
	switch {
	case capability.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = KindTimeout
	case envelope.IsSchemaMismatch(err):
		kind = KindDecodeError
	case config.IsConfigError(err):
		kind = KindConfigError
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
