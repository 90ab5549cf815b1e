package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/envelope"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func secretRequest(t *testing.T, id string) Request {
	t.Helper()
	req, err := NewRequest(TargetSecrets, MethodGetSecret, &envelope.SecretRequest{ID: id})
	require.NoError(t, err)
	return req
}

func echoSecrets() Handler {
	return Methods{
		MethodGetSecret: func(_ context.Context, req Request) (envelope.Message, error) {
			in, err := DecodeRequest[*envelope.SecretRequest](req)
			if err != nil {
				return nil, err
			}
			return &envelope.SecretResponse{ID: in.ID, Value: "v-" + in.ID}, nil
		},
	}
}

func TestInvokeSyncBindsBeforeReturn(t *testing.T) {
	g := New(WithLogger(quietLogger()))
	g.Register(Exact(TargetSecrets), Sync, echoSecrets())

	h := g.Invoke(context.Background(), secretRequest(t, "A"))
	assert.Equal(t, Handle(1), h)

	got, err := g.Await(context.Background(), AwaitSet{Handles: []Handle{h}, Timeout: time.Nanosecond})
	require.NoError(t, err)

	resp, err := Expect[*envelope.SecretResponse](TargetSecrets, got[h])
	require.NoError(t, err)
	assert.Equal(t, "v-A", resp.Value)
}

func TestInvokeNeverBlocksOnAsyncHandler(t *testing.T) {
	release := make(chan struct{})
	g := New(WithLogger(quietLogger()))
	g.Register(Prefix(PrefixHTTP), Async, HandlerFunc(func(ctx context.Context, _ Request) (envelope.Message, error) {
		<-release
		return &envelope.HTTPResponse{StatusCode: 200}, nil
	}))

	req, err := NewRequest(TargetHTTP, MethodSendRequest, &envelope.HTTPRequest{URL: "https://x", Method: "GET"})
	require.NoError(t, err)

	returned := make(chan Handle)
	go func() { returned <- g.Invoke(context.Background(), req) }()

	var h Handle
	select {
	case h = <-returned:
	case <-time.After(time.Second):
		t.Fatal("Invoke blocked on an async handler")
	}
	assert.Equal(t, 1, g.Outstanding())

	close(release)
	got, err := g.Await(context.Background(), AwaitSet{Handles: []Handle{h}, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, envelope.TypeHTTPResponse, got[h].TypeURL)
	assert.Equal(t, 0, g.Outstanding())
}

func TestHandlesAreUniqueAndSeeded(t *testing.T) {
	tests := []struct {
		name string
		seed int64
		want []Handle
	}{
		{"default", 1, []Handle{1, 2, 3}},
		{"zero", 0, []Handle{0, 1, 2}},
		{"negative", -2, []Handle{-2, -1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(WithHandleSeed(tt.seed), WithLogger(quietLogger()))
			g.Register(Exact(TargetSecrets), Sync, echoSecrets())

			var got []Handle
			for range 3 {
				got = append(got, g.Invoke(context.Background(), secretRequest(t, "k")))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvokeCopiesRequestBytes(t *testing.T) {
	var seen []byte
	g := New(WithLogger(quietLogger()))
	g.Register(Exact("t"), Sync, HandlerFunc(func(_ context.Context, req Request) (envelope.Message, error) {
		seen = req.RequestBytes
		return &envelope.ErrorReply{Message: "ok"}, nil
	}))

	buf := []byte{1, 2, 3}
	g.Invoke(context.Background(), Request{TargetID: "t", Method: "M", RequestBytes: buf})
	buf[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, seen)
}

func TestRouting(t *testing.T) {
	tag := func(name string) Handler {
		return HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
			return &envelope.ErrorReply{Code: name, Message: name}, nil
		})
	}

	g := New(WithLogger(quietLogger()), WithFallback(Sync, tag("fallback")))
	g.Register(Prefix("evm:"), Sync, tag("evm"))
	g.Register(Prefix("evm:ChainSelector:1@"), Sync, tag("evm-1"))
	g.Register(Exact("evm:special"), Sync, tag("exact"))

	tests := []struct {
		target string
		want   string
	}{
		{"evm:ChainSelector:9@1.0.0", "evm"},
		{"evm:ChainSelector:1@1.0.0", "evm-1"},
		{"evm:special", "exact"},
		{"mystery@1.0.0", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			env, err := CallRaw(context.Background(), g, Request{TargetID: tt.target, Method: "X"}, time.Second)
			require.NoError(t, err)
			reply, ok := envelope.AsError(env)
			require.True(t, ok)
			assert.Equal(t, tt.want, reply.Code)
		})
	}
}

func TestUnknownTargetWithoutFallback(t *testing.T) {
	g := New(WithLogger(quietLogger()))

	_, err := Call[*envelope.WriteReportReply](context.Background(), g, Request{TargetID: "nope@1", Method: "X"}, time.Second)
	require.Error(t, err)

	var ce *CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnknownTarget, ce.Code)
	assert.Equal(t, "nope@1", ce.Target)
}

func TestHandlerFailuresBecomeErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		handler  Handler
		method   string
		wantCode string
	}{
		{
			name:     "unknown method",
			handler:  echoSecrets(),
			method:   "Rotate",
			wantCode: CodeUnknownMethod,
		},
		{
			name: "plain error",
			handler: HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
				return nil, errors.New("disk on fire")
			}),
			method:   MethodGetSecret,
			wantCode: CodeHandlerFailed,
		},
		{
			name: "typed error",
			handler: HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
				return nil, &CapabilityError{Code: CodeNotFound, Message: "missing"}
			}),
			method:   MethodGetSecret,
			wantCode: CodeNotFound,
		},
		{
			name: "nil message",
			handler: HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
				return nil, nil
			}),
			method:   MethodGetSecret,
			wantCode: CodeHandlerFailed,
		},
		{
			name: "panic",
			handler: HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
				panic("boom")
			}),
			method:   MethodGetSecret,
			wantCode: CodeHandlerFailed,
		},
		{
			name: "unencodable message",
			handler: HandlerFunc(func(context.Context, Request) (envelope.Message, error) {
				return &envelope.Value{}, nil
			}),
			method:   MethodGetSecret,
			wantCode: CodeHandlerFailed,
		},
		{
			name:     "bad request bytes",
			handler:  echoSecrets(),
			method:   MethodGetSecret,
			wantCode: CodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(WithLogger(quietLogger()))
			g.Register(Exact(TargetSecrets), Async, tt.handler)

			req := secretRequest(t, "k")
			req.Method = tt.method
			if tt.wantCode == CodeBadRequest {
				req.RequestBytes = []byte("garbage")
			}

			h := g.Invoke(context.Background(), req)
			got, err := g.Await(context.Background(), AwaitSet{Handles: []Handle{h}, Timeout: time.Second})
			require.NoError(t, err, "failures surface on the envelope, not from Await")

			_, err = Expect[*envelope.SecretResponse](TargetSecrets, got[h])
			var ce *CapabilityError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantCode, ce.Code)
		})
	}
}

func TestExpectSchemaMismatch(t *testing.T) {
	env := envelope.MustEncode(&envelope.WriteReportReply{TxHash: hexutil.Bytes{0x01}})
	_, err := Expect[*envelope.HTTPResponse]("x", env)
	assert.True(t, envelope.IsSchemaMismatch(err))
	assert.False(t, IsCapabilityError(err))
}

type countingObserver struct {
	mu    sync.Mutex
	calls map[string]int
}

func (o *countingObserver) ObserveInvocation(target, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[target]++
}

func TestObserverSeesEveryInvocation(t *testing.T) {
	obs := &countingObserver{calls: map[string]int{}}
	g := New(WithLogger(quietLogger()), WithObserver(obs))
	g.Register(Exact(TargetSecrets), Sync, echoSecrets())

	g.Invoke(context.Background(), secretRequest(t, "a"))
	g.Invoke(context.Background(), secretRequest(t, "b"))
	g.Invoke(context.Background(), Request{TargetID: "unknown"})

	assert.Equal(t, map[string]int{TargetSecrets: 2, "unknown": 1}, obs.calls)
}

func TestChainWriteTarget(t *testing.T) {
	assert.Equal(t, "evm:ChainSelector:16015286601757825753@1.0.0", ChainWriteTarget(16015286601757825753))
}
