package envelope

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/protobuf/types/known/structpb"
)

// AsHTTPResponse accepts either shape an HTTP capability may reply with: the
// typed HTTPResponse, or a structured Value map {statusCode, body, headers}.
func AsHTTPResponse(env Envelope) (*HTTPResponse, error) {
	switch env.TypeURL {
	case TypeHTTPResponse:
		return DecodeAs[*HTTPResponse](env)
	case TypeValue:
		v, err := DecodeAs[*Value](env)
		if err != nil {
			return nil, err
		}
		return httpResponseFromValue(v.V)
	default:
		return nil, &SchemaMismatchError{Expected: TypeHTTPResponse, Got: env.TypeURL}
	}
}

func httpResponseFromValue(v *structpb.Value) (*HTTPResponse, error) {
	mismatch := func(format string, args ...any) error {
		return &SchemaMismatchError{Expected: TypeValue, Got: TypeValue, Err: fmt.Errorf(format, args...)}
	}

	fields := v.GetStructValue().GetFields()
	if fields == nil {
		return nil, mismatch("structured http response is not a map")
	}
	for k := range fields {
		switch k {
		case "statusCode", "body", "headers":
		default:
			return nil, mismatch("unexpected field %q", k)
		}
	}

	status, ok := fields["statusCode"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, mismatch("statusCode missing or not a number")
	}
	code := status.NumberValue
	if code != float64(int64(code)) {
		return nil, mismatch("statusCode %v is not an integer", code)
	}

	resp := &HTTPResponse{StatusCode: int64(code)}
	if body, present := fields["body"]; present {
		s, ok := body.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, mismatch("body is not a string")
		}
		resp.Body = hexutil.Bytes(s.StringValue)
	}
	if headers, present := fields["headers"]; present {
		hf := headers.GetStructValue().GetFields()
		if headers.GetStructValue() == nil {
			return nil, mismatch("headers is not a map")
		}
		if len(hf) > 0 {
			resp.Headers = make(map[string]string, len(hf))
			for k, hv := range hf {
				s, ok := hv.GetKind().(*structpb.Value_StringValue)
				if !ok {
					return nil, mismatch("header %q is not a string", k)
				}
				resp.Headers[k] = s.StringValue
			}
		}
	}
	return resp, nil
}

// NewStructuredHTTPResponse builds the Value-map form of an HTTP response.
func NewStructuredHTTPResponse(statusCode int, body string, headers map[string]string) (*Value, error) {
	hdrs := make(map[string]any, len(headers))
	for k, v := range headers {
		hdrs[k] = v
	}
	v, err := structpb.NewValue(map[string]any{
		"statusCode": statusCode,
		"body":       body,
		"headers":    hdrs,
	})
	if err != nil {
		return nil, fmt.Errorf("structured http response: %w", err)
	}
	return &Value{V: v}, nil
}
