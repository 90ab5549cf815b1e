package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roach88/verdict/internal/ir"
)

// Envelope is a self-describing capability payload. The gateway and the
// consensus aggregator never look inside Payload; TypeURL alone decides how it
// is parsed.
type Envelope struct {
	TypeURL string
	Payload []byte
}

// Equal reports byte-level equality of type URL and payload.
func (e Envelope) Equal(other Envelope) bool {
	return e.TypeURL == other.TypeURL && bytes.Equal(e.Payload, other.Payload)
}

// Digest is a domain-separated content digest of the envelope, used to refer
// to a response in logs and journal rows without dumping the payload.
func (e Envelope) Digest() string {
	data := make([]byte, 0, len(e.TypeURL)+1+len(e.Payload))
	data = append(data, e.TypeURL...)
	data = append(data, 0x00)
	data = append(data, e.Payload...)
	return ir.HexDigest(ir.DomainEnvelope, data)
}

var deterministic = proto.MarshalOptions{Deterministic: true}

// Marshal serializes a message payload deterministically: the same logical
// message always yields the same bytes.
func Marshal(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case nil:
		return nil, fmt.Errorf("marshal: nil message")
	case *Value:
		if m.V == nil {
			return nil, fmt.Errorf("marshal %s: nil value", TypeValue)
		}
		data, err := deterministic.Marshal(m.V)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", TypeValue, err)
		}
		return data, nil
	case jsonMessage:
		if c, ok := m.(checker); ok {
			if err := c.check(); err != nil {
				return nil, fmt.Errorf("marshal %s: %w", m.TypeURL(), err)
			}
		}
		data, err := ir.MarshalCanonicalVerbatim(m.toIR())
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", m.TypeURL(), err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("marshal: unsupported message %T", msg)
	}
}

// Encode wraps msg in an envelope tagged with its type URL.
func Encode(msg Message) (Envelope, error) {
	payload, err := Marshal(msg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{TypeURL: msg.TypeURL(), Payload: payload}, nil
}

// MustEncode is like Encode but panics on error.
// Use only for fixtures whose contents are known to be valid.
func MustEncode(msg Message) Envelope {
	env, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses env, requiring its type URL to be expectedTypeURL.
// Any mismatch is a SchemaMismatchError; there is no fallback shape.
func Decode(env Envelope, expectedTypeURL string) (Message, error) {
	if env.TypeURL != expectedTypeURL {
		return nil, &SchemaMismatchError{Expected: expectedTypeURL, Got: env.TypeURL}
	}
	return Unmarshal(env.TypeURL, env.Payload)
}

// DecodeAs is Decode with the expected type taken from T.
func DecodeAs[T Message](env Envelope) (T, error) {
	var zero T
	msg, err := Decode(env, zero.TypeURL())
	if err != nil {
		return zero, err
	}
	typed, ok := msg.(T)
	if !ok {
		return zero, &SchemaMismatchError{Expected: zero.TypeURL(), Got: msg.TypeURL()}
	}
	return typed, nil
}

// Open decodes env according to its own type URL.
func Open(env Envelope) (Message, error) {
	return Unmarshal(env.TypeURL, env.Payload)
}

// Unmarshal parses payload as the message named by typeURL.
// Unknown type URLs, unknown fields and trailing data are SchemaMismatchErrors.
func Unmarshal(typeURL string, payload []byte) (Message, error) {
	if typeURL == TypeValue {
		v := &structpb.Value{}
		if err := proto.Unmarshal(payload, v); err != nil {
			return nil, &SchemaMismatchError{Expected: typeURL, Got: typeURL, Err: err}
		}
		return &Value{V: v}, nil
	}

	msg := newJSONMessage(typeURL)
	if msg == nil {
		return nil, &SchemaMismatchError{Got: typeURL, Err: errUnknownType}
	}
	if err := strictUnmarshal(payload, msg); err != nil {
		return nil, &SchemaMismatchError{Expected: typeURL, Got: typeURL, Err: err}
	}
	return msg, nil
}

func newJSONMessage(typeURL string) jsonMessage {
	switch typeURL {
	case TypeHTTPRequest:
		return &HTTPRequest{}
	case TypeHTTPResponse:
		return &HTTPResponse{}
	case TypeSecretRequest:
		return &SecretRequest{}
	case TypeSecretResponse:
		return &SecretResponse{}
	case TypeReportRequest:
		return &ReportRequest{}
	case TypeReportResponse:
		return &ReportResponse{}
	case TypeWriteReportRequest:
		return &WriteReportRequest{}
	case TypeWriteReportReply:
		return &WriteReportReply{}
	case TypeErrorReply:
		return &ErrorReply{}
	default:
		return nil
	}
}

func strictUnmarshal(payload []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}

// AsError returns the ErrorReply carried by env, if any.
func AsError(env Envelope) (*ErrorReply, bool) {
	if env.TypeURL != TypeErrorReply {
		return nil, false
	}
	reply, err := DecodeAs[*ErrorReply](env)
	if err != nil {
		return &ErrorReply{Message: fmt.Sprintf("undecodable error reply: %v", err)}, true
	}
	return reply, true
}
