// Package fixture is a deterministic capability emulator.
//
// It answers every capability the settlement workflow calls with canned
// responses, so a run can be driven end to end without network, keys or a
// chain. Each node of a fan-out gets its own gateway, and each node's HTTP
// answer can be scripted independently to provoke disagreement, failures
// and timeouts.
package fixture

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/consensus"
	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/gemini"
	"github.com/roach88/verdict/internal/secrets"
)

// DefaultAIText is what every node's AI call answers unless scripted.
const DefaultAIText = `{"result":"YES","confidence":9500}`

// MockTxHash is the transaction hash of every emulated chain write.
const MockTxHash = "1234567812345678123456781234567812345678123456781234567812345678"

// Canned signed report.
var (
	MockRawReport = []byte("mock_signed_report_data")
	MockSignature = []byte("mock_signature")
)

// Node scripts one node's answer to SendRequest.
type Node struct {
	// AIText is the model text wrapped into the provider response body.
	// Empty means DefaultAIText.
	AIText string
	// StatusCode defaults to 200.
	StatusCode int
	// Structured answers with a structured Value map instead of an HTTP
	// response message.
	Structured bool
	// Delay postpones the reply.
	Delay time.Duration
	// Hang never replies; the handler returns only when its context ends or
	// the emulator is closed.
	Hang bool
}

// Call is one invocation observed by the emulator.
type Call struct {
	// Node is -1 for the workflow's own host.
	Node   int
	Target string
	Method string
}

// Emulator owns the canned dispatch table and records every invocation.
type Emulator struct {
	secrets     secrets.Store
	defaultNode Node
	nodes       map[int]Node
	logger      *slog.Logger

	mu     sync.Mutex
	calls  []Call
	closed chan struct{}
	once   sync.Once
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithSecrets sets the secret map served by GetSecret.
func WithSecrets(values map[string]string) Option {
	return func(e *Emulator) {
		e.secrets = secrets.MapStore(values)
	}
}

// WithSecretStore serves GetSecret from an arbitrary store.
func WithSecretStore(s secrets.Store) Option {
	return func(e *Emulator) { e.secrets = s }
}

// WithDefaultNode scripts every node not given its own script.
func WithDefaultNode(n Node) Option {
	return func(e *Emulator) { e.defaultNode = n }
}

// WithNode scripts a single node.
func WithNode(index int, n Node) Option {
	return func(e *Emulator) { e.nodes[index] = n }
}

// WithLogger sets the logger used by every gateway the emulator builds.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emulator) { e.logger = l }
}

// New creates an Emulator.
func New(opts ...Option) *Emulator {
	e := &Emulator{
		secrets: secrets.MapStore{},
		nodes:   map[int]Node{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Host builds the gateway the workflow itself calls through.
func (e *Emulator) Host(opts ...capability.Option) capability.Host {
	return e.gateway(-1, e.defaultNode, opts...)
}

// NodeFactory builds a fresh gateway for each fan-out node.
func (e *Emulator) NodeFactory(opts ...capability.Option) consensus.NodeFactory {
	return func(nodeIndex int) capability.Host {
		return e.gateway(nodeIndex, e.script(nodeIndex), opts...)
	}
}

// Close releases every hanging handler.
func (e *Emulator) Close() {
	e.once.Do(func() { close(e.closed) })
}

// Calls returns every invocation in the order the emulator saw them.
func (e *Emulator) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CountMethod counts invocations of method across all hosts.
func (e *Emulator) CountMethod(method string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ChainWrites counts WriteReport invocations.
func (e *Emulator) ChainWrites() int {
	return e.CountMethod(capability.MethodWriteReport)
}

// Fetches counts SendRequest invocations.
func (e *Emulator) Fetches() int {
	return e.CountMethod(capability.MethodSendRequest)
}

func (e *Emulator) script(nodeIndex int) Node {
	if n, ok := e.nodes[nodeIndex]; ok {
		return n
	}
	return e.defaultNode
}

func (e *Emulator) gateway(nodeIndex int, n Node, opts ...capability.Option) *capability.Gateway {
	base := []capability.Option{
		capability.WithLogger(e.logger.With("node", nodeIndex)),
		capability.WithFallback(capability.Sync, e.record(nodeIndex, capability.HandlerFunc(writeReply))),
	}
	g := capability.New(append(base, opts...)...)
	g.Register(capability.Prefix(capability.PrefixHTTP), capability.Async, e.record(nodeIndex, e.fetch(n)))
	g.Register(capability.Prefix(capability.PrefixSecrets), capability.Sync, e.record(nodeIndex, secrets.Handler(e.secrets)))
	g.Register(capability.Prefix(capability.PrefixConsensus), capability.Sync, e.record(nodeIndex, capability.HandlerFunc(report)))
	g.Register(capability.Prefix(capability.PrefixEVM), capability.Sync, e.record(nodeIndex, capability.HandlerFunc(writeReply)))
	return g
}

func (e *Emulator) record(nodeIndex int, h capability.Handler) capability.Handler {
	return capability.HandlerFunc(func(ctx context.Context, req capability.Request) (envelope.Message, error) {
		e.mu.Lock()
		e.calls = append(e.calls, Call{Node: nodeIndex, Target: req.TargetID, Method: req.Method})
		e.mu.Unlock()
		return h.Handle(ctx, req)
	})
}

func (e *Emulator) fetch(n Node) capability.HandlerFunc {
	return func(ctx context.Context, req capability.Request) (envelope.Message, error) {
		if req.Method != capability.MethodSendRequest {
			return nil, fmt.Errorf("%s.%s: %w", req.TargetID, req.Method, capability.ErrUnknownMethod)
		}
		if _, err := capability.DecodeRequest[*envelope.HTTPRequest](req); err != nil {
			return nil, err
		}

		if n.Hang {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.closed:
				return nil, fmt.Errorf("emulator closed")
			}
		}
		if n.Delay > 0 {
			select {
			case <-time.After(n.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return AIResponse(n)
	}
}

// AIResponse builds the reply a node scripted by n gives to SendRequest.
func AIResponse(n Node) (envelope.Message, error) {
	text := n.AIText
	if text == "" {
		text = DefaultAIText
	}
	status := n.StatusCode
	if status == 0 {
		status = 200
	}
	body, err := gemini.ResponseBody(text)
	if err != nil {
		return nil, err
	}
	if n.Structured {
		return envelope.NewStructuredHTTPResponse(status, string(body), nil)
	}
	return &envelope.HTTPResponse{StatusCode: int64(status), Body: hexutil.Bytes(body)}, nil
}

// MockReport is the canned signed report.
func MockReport() *envelope.ReportResponse {
	return &envelope.ReportResponse{
		ConfigDigest:  make(hexutil.Bytes, 32),
		SeqNr:         1,
		ReportContext: make(hexutil.Bytes, 32),
		RawReport:     hexutil.Bytes(MockRawReport),
		Sigs:          []hexutil.Bytes{MockSignature},
	}
}

func report(_ context.Context, req capability.Request) (envelope.Message, error) {
	if req.Method != capability.MethodReport {
		return nil, fmt.Errorf("%s.%s: %w", req.TargetID, req.Method, capability.ErrUnknownMethod)
	}
	if _, err := capability.DecodeRequest[*envelope.ReportRequest](req); err != nil {
		return nil, err
	}
	return MockReport(), nil
}

// writeReply answers chain writes and every unknown target alike. The
// request is not inspected.
func writeReply(context.Context, capability.Request) (envelope.Message, error) {
	return MockWriteReply(), nil
}

// MockWriteReply is the canned chain-write reply.
func MockWriteReply() *envelope.WriteReportReply {
	tx, _ := hex.DecodeString(MockTxHash)
	return &envelope.WriteReportReply{TxHash: tx}
}
