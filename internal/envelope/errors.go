package envelope

import (
	"errors"
	"fmt"
)

var errUnknownType = errors.New("unknown type url")

// SchemaMismatchError reports an envelope whose type URL or payload does not
// match what the caller expected. It is never recovered into a default value.
type SchemaMismatchError struct {
	Expected string // empty when the type URL was unknown
	Got      string
	Err      error
}

func (e *SchemaMismatchError) Error() string {
	switch {
	case e.Expected == "":
		return fmt.Sprintf("schema mismatch: unknown type url %q", e.Got)
	case e.Expected != e.Got:
		return fmt.Sprintf("schema mismatch: expected %s, got %s", e.Expected, e.Got)
	case e.Err != nil:
		return fmt.Sprintf("schema mismatch: malformed %s payload: %v", e.Got, e.Err)
	default:
		return fmt.Sprintf("schema mismatch: %s", e.Got)
	}
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// IsSchemaMismatch reports whether err wraps a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sme *SchemaMismatchError
	return errors.As(err, &sme)
}
