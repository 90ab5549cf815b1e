package envelope

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roach88/verdict/internal/ir"
)

// Type URLs for every message the gateway knows how to carry.
const (
	TypeHTTPRequest        = "type.googleapis.com/networking.http.v1alpha.Request"
	TypeHTTPResponse       = "type.googleapis.com/networking.http.v1alpha.Response"
	TypeValue              = "type.googleapis.com/values.v1.Value"
	TypeSecretRequest      = "type.googleapis.com/sdk.v1alpha.SecretRequest"
	TypeSecretResponse     = "type.googleapis.com/sdk.v1alpha.Secret"
	TypeReportRequest      = "type.googleapis.com/sdk.v1alpha.ReportRequest"
	TypeReportResponse     = "type.googleapis.com/sdk.v1alpha.ReportResponse"
	TypeWriteReportRequest = "type.googleapis.com/capabilities.blockchain.evm.v1alpha.WriteReportRequest"
	TypeWriteReportReply   = "type.googleapis.com/capabilities.blockchain.evm.v1alpha.WriteReportReply"
	TypeErrorReply         = "type.googleapis.com/sdk.v1alpha.ErrorResponse"
)

// Message is the sealed set of payload shapes. Each variant owns exactly one
// type URL. Methods use pointer receivers so a nil variant can still report
// its type URL (DecodeAs relies on this).
type Message interface {
	TypeURL() string
	isMessage()
}

// jsonMessage variants serialize through canonical JSON.
type jsonMessage interface {
	Message
	toIR() ir.IRObject
}

// checker is implemented by variants with fields canonical JSON cannot
// carry losslessly.
type checker interface {
	check() error
}

// HTTPRequest asks the HTTP capability to perform one request.
type HTTPRequest struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      hexutil.Bytes     `json:"body,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
}

func (*HTTPRequest) TypeURL() string { return TypeHTTPRequest }
func (*HTTPRequest) isMessage()      {}

func (m *HTTPRequest) toIR() ir.IRObject {
	obj := ir.IRObject{
		"url":    ir.IRString(m.URL),
		"method": ir.IRString(m.Method),
	}
	if h := ir.StringMap(m.Headers); h != nil {
		obj["headers"] = h
	}
	if len(m.Body) > 0 {
		obj["body"] = ir.IRString(m.Body.String())
	}
	if m.TimeoutMs != 0 {
		obj["timeout_ms"] = ir.IRInt(m.TimeoutMs)
	}
	return obj
}

// HTTPResponse is the HTTP capability's reply.
type HTTPResponse struct {
	StatusCode int64             `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       hexutil.Bytes     `json:"body,omitempty"`
}

func (*HTTPResponse) TypeURL() string { return TypeHTTPResponse }
func (*HTTPResponse) isMessage()      {}

func (m *HTTPResponse) toIR() ir.IRObject {
	obj := ir.IRObject{"status_code": ir.IRInt(m.StatusCode)}
	if h := ir.StringMap(m.Headers); h != nil {
		obj["headers"] = h
	}
	if len(m.Body) > 0 {
		obj["body"] = ir.IRString(m.Body.String())
	}
	return obj
}

// OK reports a 2xx status.
func (m *HTTPResponse) OK() bool {
	return m.StatusCode >= 200 && m.StatusCode < 300
}

// SecretRequest names a secret in the scoped store.
type SecretRequest struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace,omitempty"`
}

func (*SecretRequest) TypeURL() string { return TypeSecretRequest }
func (*SecretRequest) isMessage()      {}

func (m *SecretRequest) toIR() ir.IRObject {
	obj := ir.IRObject{"id": ir.IRString(m.ID)}
	if m.Namespace != "" {
		obj["namespace"] = ir.IRString(m.Namespace)
	}
	return obj
}

// SecretResponse carries a secret value. An absent secret is an empty Value.
type SecretResponse struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func (*SecretResponse) TypeURL() string { return TypeSecretResponse }
func (*SecretResponse) isMessage()      {}

func (m *SecretResponse) toIR() ir.IRObject {
	return ir.IRObject{
		"id":    ir.IRString(m.ID),
		"value": ir.IRString(m.Value),
	}
}

// ReportRequest asks for an encoded payload to be wrapped in a signed report.
type ReportRequest struct {
	EncodedPayload hexutil.Bytes `json:"encoded_payload"`
	EncoderName    string        `json:"encoder_name"`
	SigningAlgo    string        `json:"signing_algo"`
	HashingAlgo    string        `json:"hashing_algo"`
}

func (*ReportRequest) TypeURL() string { return TypeReportRequest }
func (*ReportRequest) isMessage()      {}

func (m *ReportRequest) toIR() ir.IRObject {
	return ir.IRObject{
		"encoded_payload": ir.IRString(m.EncodedPayload.String()),
		"encoder_name":    ir.IRString(m.EncoderName),
		"signing_algo":    ir.IRString(m.SigningAlgo),
		"hashing_algo":    ir.IRString(m.HashingAlgo),
	}
}

// ReportResponse is a signed report ready for submission.
type ReportResponse struct {
	ConfigDigest  hexutil.Bytes   `json:"config_digest"`
	SeqNr         uint64          `json:"seq_nr"`
	ReportContext hexutil.Bytes   `json:"report_context"`
	RawReport     hexutil.Bytes   `json:"raw_report"`
	Sigs          []hexutil.Bytes `json:"sigs"`
}

func (*ReportResponse) TypeURL() string { return TypeReportResponse }
func (*ReportResponse) isMessage()      {}

func (m *ReportResponse) check() error {
	if m.SeqNr > math.MaxInt64 {
		return fmt.Errorf("seq_nr %d exceeds the int64 range", m.SeqNr)
	}
	return nil
}

func (m *ReportResponse) toIR() ir.IRObject {
	sigs := make(ir.IRArray, len(m.Sigs))
	for i, s := range m.Sigs {
		sigs[i] = ir.IRString(s.String())
	}
	return ir.IRObject{
		"config_digest":  ir.IRString(m.ConfigDigest.String()),
		"seq_nr":         ir.IRInt(int64(m.SeqNr)),
		"report_context": ir.IRString(m.ReportContext.String()),
		"raw_report":     ir.IRString(m.RawReport.String()),
		"sigs":           sigs,
	}
}

// WriteReportRequest submits a signed report to a receiver contract.
type WriteReportRequest struct {
	Receiver string         `json:"receiver"`
	Report   ReportResponse `json:"report"`
	GasLimit int64          `json:"gas_limit"`
}

func (*WriteReportRequest) TypeURL() string { return TypeWriteReportRequest }
func (*WriteReportRequest) isMessage()      {}

func (m *WriteReportRequest) check() error {
	return m.Report.check()
}

func (m *WriteReportRequest) toIR() ir.IRObject {
	return ir.IRObject{
		"receiver":  ir.IRString(m.Receiver),
		"report":    m.Report.toIR(),
		"gas_limit": ir.IRInt(m.GasLimit),
	}
}

// WriteReportReply carries the transaction hash of a chain write.
type WriteReportReply struct {
	TxHash   hexutil.Bytes `json:"tx_hash"`
	TxStatus string        `json:"tx_status,omitempty"`
}

func (*WriteReportReply) TypeURL() string { return TypeWriteReportReply }
func (*WriteReportReply) isMessage()      {}

func (m *WriteReportReply) toIR() ir.IRObject {
	obj := ir.IRObject{"tx_hash": ir.IRString(m.TxHash.String())}
	if m.TxStatus != "" {
		obj["tx_status"] = ir.IRString(m.TxStatus)
	}
	return obj
}

// ErrorReply is bound to a handle when a capability could not serve a request.
type ErrorReply struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (*ErrorReply) TypeURL() string { return TypeErrorReply }
func (*ErrorReply) isMessage()      {}

func (m *ErrorReply) toIR() ir.IRObject {
	obj := ir.IRObject{"message": ir.IRString(m.Message)}
	if m.Code != "" {
		obj["code"] = ir.IRString(m.Code)
	}
	return obj
}

// Value is a generic structured value. Its payload is deterministic protobuf,
// not JSON, because structpb already defines a canonical binary form.
type Value struct {
	V *structpb.Value
}

func (*Value) TypeURL() string { return TypeValue }
func (*Value) isMessage()      {}
