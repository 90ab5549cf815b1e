package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config error codes (E200-E209)
const (
	ErrUnreadable   = "E200" // config file cannot be read
	ErrMalformed    = "E201" // not a single JSON object, or unknown fields
	ErrEnvironment  = "E202" // VERDICT_* variable has the wrong type
	ErrSchema       = "E203" // schema constraint violated
	ErrUnknownChain = "E204" // chain name not in the registry
)

// Error is one configuration problem.
type Error struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Errors collects every problem Validate found.
type Errors []Error

func (es Errors) Error() string {
	parts := make([]string, len(es))
	for i := range es {
		parts[i] = es[i].Error()
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// IsConfigError reports whether err came from loading or validating config.
func IsConfigError(err error) bool {
	var e *Error
	var es Errors
	return errors.As(err, &e) || errors.As(err, &es)
}
