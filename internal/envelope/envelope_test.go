package envelope

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func zeros(n int) hexutil.Bytes {
	return make(hexutil.Bytes, n)
}

func sampleMessages() []Message {
	return []Message{
		&HTTPRequest{
			URL:       "https://example.com/v1/models/m:generateContent?key=k",
			Method:    "POST",
			Headers:   map[string]string{"Content-Type": "application/json"},
			Body:      hexutil.Bytes(`{"contents":[]}`),
			TimeoutMs: 5000,
		},
		&HTTPResponse{StatusCode: 200, Body: hexutil.Bytes(`{"ok":true}`)},
		&HTTPResponse{StatusCode: 503, Headers: map[string]string{"Content-Type": "text/plain"}, Body: hexutil.Bytes("down")},
		&SecretRequest{ID: "GEMINI_API_KEY"},
		&SecretRequest{ID: "GEMINI_API_KEY", Namespace: "main"},
		&SecretResponse{ID: "GEMINI_API_KEY", Value: ""},
		&ReportRequest{EncodedPayload: hexutil.Bytes{0x01, 0x02}, EncoderName: "evm", SigningAlgo: "ecdsa", HashingAlgo: "keccak256"},
		&ReportResponse{
			ConfigDigest:  zeros(32),
			SeqNr:         1,
			ReportContext: zeros(32),
			RawReport:     hexutil.Bytes("mock_signed_report_data"),
			Sigs:          []hexutil.Bytes{hexutil.Bytes("mock_signature")},
		},
		&WriteReportRequest{
			Receiver: "0x00000000000000000000000000000000000000aa",
			Report: ReportResponse{
				ConfigDigest:  zeros(32),
				SeqNr:         7,
				ReportContext: zeros(32),
				RawReport:     hexutil.Bytes{0xde, 0xad},
				Sigs:          []hexutil.Bytes{{0x01}, {0x02}},
			},
			GasLimit: 500000,
		},
		&WriteReportReply{TxHash: hexutil.Bytes{0x12, 0x34}},
		&WriteReportReply{TxHash: hexutil.Bytes{0x12, 0x34}, TxStatus: "SUCCESS"},
		&ErrorReply{Code: "UNKNOWN_METHOD", Message: "no such method"},
		&ErrorReply{Message: "boom"},
		// Strings are carried as given: no NFC rewrite of decomposed forms.
		&SecretResponse{ID: "cafe\u0301", Value: "s\u0323\u0307cr\u00e8t"},
		&ErrorReply{Code: "X", Message: "tab\tquote\" nul\x00 line\u2028"},
		&ReportResponse{
			ConfigDigest:  zeros(32),
			SeqNr:         math.MaxInt64,
			ReportContext: zeros(32),
			RawReport:     hexutil.Bytes{0x00},
			Sigs:          []hexutil.Bytes{},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		t.Run(msg.TypeURL(), func(t *testing.T) {
			env, err := Encode(msg)
			require.NoError(t, err)
			assert.Equal(t, msg.TypeURL(), env.TypeURL)

			decoded, err := Decode(env, msg.TypeURL())
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)

			again, err := Encode(decoded)
			require.NoError(t, err)
			assert.True(t, env.Equal(again), "re-encoding must yield identical bytes")
		})
	}
}

func TestValueRoundTrip(t *testing.T) {
	v, err := structpb.NewValue(map[string]any{
		"b": "two",
		"a": 1,
		"n": map[string]any{"z": true, "y": []any{"x", 2}},
	})
	require.NoError(t, err)

	env, err := Encode(&Value{V: v})
	require.NoError(t, err)
	assert.Equal(t, TypeValue, env.TypeURL)

	decoded, err := DecodeAs[*Value](env)
	require.NoError(t, err)
	assert.True(t, proto.Equal(v, decoded.V))
}

func TestEncodeIsDeterministic(t *testing.T) {
	headers := map[string]string{}
	for _, k := range []string{"z", "a", "m", "b", "y", "c"} {
		headers[k] = k + "-value"
	}
	msg := &HTTPResponse{StatusCode: 200, Headers: headers, Body: hexutil.Bytes("x")}

	first, err := Encode(msg)
	require.NoError(t, err)
	for range 50 {
		next, err := Encode(msg)
		require.NoError(t, err)
		require.Equal(t, first.Payload, next.Payload)
	}

	v, err := structpb.NewValue(map[string]any{"z": 1, "a": 2, "m": 3, "q": 4})
	require.NoError(t, err)
	firstValue, err := Encode(&Value{V: v})
	require.NoError(t, err)
	for range 50 {
		next, err := Encode(&Value{V: v})
		require.NoError(t, err)
		require.Equal(t, firstValue.Payload, next.Payload)
	}
}

func TestCanonicalPayloadShape(t *testing.T) {
	env, err := Encode(&SecretResponse{ID: "GEMINI_API_KEY", Value: "k"})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"GEMINI_API_KEY","value":"k"}`, string(env.Payload))

	env, err = Encode(&WriteReportReply{TxHash: hexutil.Bytes{0xab}})
	require.NoError(t, err)
	assert.Equal(t, `{"tx_hash":"0xab"}`, string(env.Payload))
}

func TestDecodeWrongTypeURL(t *testing.T) {
	env := MustEncode(&WriteReportReply{TxHash: hexutil.Bytes{0x01}})

	_, err := Decode(env, TypeHTTPResponse)
	require.Error(t, err)
	assert.True(t, IsSchemaMismatch(err))

	var sme *SchemaMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, TypeHTTPResponse, sme.Expected)
	assert.Equal(t, TypeWriteReportReply, sme.Got)
}

func TestDecodeAsWrongType(t *testing.T) {
	env := MustEncode(&SecretResponse{ID: "a", Value: "b"})
	_, err := DecodeAs[*HTTPResponse](env)
	assert.True(t, IsSchemaMismatch(err))
}

func TestUnknownTypeURL(t *testing.T) {
	env := Envelope{TypeURL: "type.googleapis.com/unknown.Thing", Payload: []byte(`{}`)}

	_, err := Open(env)
	require.Error(t, err)
	assert.True(t, IsSchemaMismatch(err))
	assert.Contains(t, err.Error(), "unknown type url")

	_, err = Decode(env, env.TypeURL)
	assert.True(t, IsSchemaMismatch(err))
}

func TestMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		typeURL string
		payload string
	}{
		{"unknown field", TypeSecretResponse, `{"id":"a","value":"b","extra":1}`},
		{"wrong field type", TypeHTTPResponse, `{"status_code":"200"}`},
		{"not json", TypeWriteReportReply, `tx`},
		{"trailing data", TypeErrorReply, `{"message":"a"}{}`},
		{"bad hex", TypeWriteReportReply, `{"tx_hash":"zz"}`},
		{"bad proto", TypeValue, "\xff\xff\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.typeURL, []byte(tt.payload))
			require.Error(t, err)
			assert.True(t, IsSchemaMismatch(err))
		})
	}
}

func TestEncodeRejectsUnrepresentable(t *testing.T) {
	tooBig := ReportResponse{
		ConfigDigest:  zeros(32),
		SeqNr:         math.MaxInt64 + 1,
		ReportContext: zeros(32),
		RawReport:     hexutil.Bytes{0x01},
		Sigs:          []hexutil.Bytes{{0x02}},
	}
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"invalid utf-8 value", &SecretResponse{ID: "k", Value: "a\xffb"}, "invalid UTF-8"},
		{"invalid utf-8 header key", &HTTPResponse{StatusCode: 200, Headers: map[string]string{"X-\xfe": "v"}}, "invalid UTF-8"},
		{"seq_nr overflow", &tooBig, "exceeds the int64 range"},
		{"nested seq_nr overflow", &WriteReportRequest{Receiver: "0x01", Report: tooBig, GasLimit: 1}, "exceeds the int64 range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), tt.msg.TypeURL())
		})
	}
}

func TestMarshalRejectsNil(t *testing.T) {
	_, err := Encode(&Value{})
	assert.Error(t, err)

	_, err = Marshal(nil)
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	a := MustEncode(&SecretResponse{ID: "a", Value: "1"})
	b := MustEncode(&SecretResponse{ID: "a", Value: "2"})

	assert.Len(t, a.Digest(), 64)
	assert.Equal(t, a.Digest(), MustEncode(&SecretResponse{ID: "a", Value: "1"}).Digest())
	assert.NotEqual(t, a.Digest(), b.Digest())

	retagged := Envelope{TypeURL: TypeErrorReply, Payload: a.Payload}
	assert.NotEqual(t, a.Digest(), retagged.Digest())
}

func TestAsError(t *testing.T) {
	reply, ok := AsError(MustEncode(&ErrorReply{Code: "X", Message: "y"}))
	require.True(t, ok)
	assert.Equal(t, "X", reply.Code)

	_, ok = AsError(MustEncode(&SecretResponse{ID: "a"}))
	assert.False(t, ok)
}
