package envelope

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// MarshalBinary encodes the envelope as a deterministic google.protobuf.Any.
func (e Envelope) MarshalBinary() ([]byte, error) {
	data, err := deterministic.Marshal(&anypb.Any{TypeUrl: e.TypeURL, Value: e.Payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalBinary decodes an envelope from its Any wire form. The payload is
// not inspected; use Open or Decode for that.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	var a anypb.Any
	if err := proto.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if a.GetTypeUrl() == "" {
		return &SchemaMismatchError{Got: "", Err: errUnknownType}
	}
	e.TypeURL = a.GetTypeUrl()
	e.Payload = a.GetValue()
	return nil
}
