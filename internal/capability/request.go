package capability

import (
	"fmt"
	"strconv"

	"github.com/roach88/verdict/internal/envelope"
)

// Handle correlates an invocation with its eventual response. Zero and
// negative values are valid handles.
type Handle int64

func (h Handle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

// Well-known capability targets and methods.
const (
	TargetHTTP      = "http-actions@1.0.0-alpha"
	TargetSecrets   = "secrets@1.0.0"
	TargetConsensus = "consensus@1.0.0-alpha"

	PrefixHTTP      = "http-actions@"
	PrefixSecrets   = "secrets@"
	PrefixConsensus = "consensus@"
	PrefixEVM       = "evm:"

	MethodSendRequest = "SendRequest"
	MethodGetSecret   = "GetSecret"
	MethodReport      = "Report"
	MethodWriteReport = "WriteReport"
)

// ChainWriteTarget returns the chain-write target id for a chain selector.
func ChainWriteTarget(selector uint64) string {
	return fmt.Sprintf("evm:ChainSelector:%d@1.0.0", selector)
}

// Request is a single capability invocation. RequestBytes holds the binary
// envelope of the request message.
type Request struct {
	TargetID     string
	Method       string
	RequestBytes []byte
}

// NewRequest encodes msg as the request body for target.method.
func NewRequest(targetID, method string, msg envelope.Message) (Request, error) {
	env, err := envelope.Encode(msg)
	if err != nil {
		return Request{}, fmt.Errorf("build %s request: %w", method, err)
	}
	data, err := env.MarshalBinary()
	if err != nil {
		return Request{}, fmt.Errorf("build %s request: %w", method, err)
	}
	return Request{TargetID: targetID, Method: method, RequestBytes: data}, nil
}

// DecodeRequest parses the request body as T. Failures are reported as a
// BAD_REQUEST CapabilityError.
func DecodeRequest[T envelope.Message](req Request) (T, error) {
	var zero T
	var env envelope.Envelope
	if err := env.UnmarshalBinary(req.RequestBytes); err != nil {
		return zero, &CapabilityError{Code: CodeBadRequest, Target: req.TargetID, Message: "malformed request envelope", Err: err}
	}
	msg, err := envelope.DecodeAs[T](env)
	if err != nil {
		return zero, &CapabilityError{Code: CodeBadRequest, Target: req.TargetID, Message: "unexpected request payload", Err: err}
	}
	return msg, nil
}

func (r Request) clone() Request {
	r.RequestBytes = append([]byte(nil), r.RequestBytes...)
	return r
}
