// Package httpfetch is the live HTTP capability.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/envelope"
)

// CodeFetchFailed is bound when the request never produced a response.
const CodeFetchFailed = "FETCH_FAILED"

// keptHeaders are copied from responses. Everything else (Date, request ids,
// cookies) differs between nodes and would break byte-equal consensus.
var keptHeaders = []string{"Content-Type"}

// Fetcher performs SendRequest invocations with resty.
type Fetcher struct {
	client *resty.Client
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the underlying resty client.
func WithClient(c *resty.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher whose requests time out after timeout unless the
// request carries its own budget.
func New(timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: resty.New().SetTimeout(timeout),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handler exposes the fetcher as a capability.
func (f *Fetcher) Handler() capability.Handler {
	return capability.Methods{capability.MethodSendRequest: f.send}
}

func (f *Fetcher) send(ctx context.Context, req capability.Request) (envelope.Message, error) {
	in, err := capability.DecodeRequest[*envelope.HTTPRequest](req)
	if err != nil {
		return nil, err
	}
	bad := func(format string, args ...any) error {
		return &capability.CapabilityError{Code: capability.CodeBadRequest, Target: req.TargetID, Message: fmt.Sprintf(format, args...)}
	}

	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, bad("url must be absolute http(s)")
	}
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	if in.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	r := f.client.R().SetContext(ctx).SetHeaders(in.Headers)
	if len(in.Body) > 0 {
		r.SetBody([]byte(in.Body))
	}

	start := time.Now()
	resp, err := r.Execute(method, in.URL)
	if err != nil {
		err = scrub(err, u)
		f.logger.Debug("http request failed", "method", method, "url", redact(u), "error", err)
		return nil, &capability.CapabilityError{Code: CodeFetchFailed, Target: req.TargetID, Message: "request failed", Err: err}
	}
	f.logger.Debug("http request completed",
		"method", method, "url", redact(u), "status", resp.StatusCode(), "duration", time.Since(start))

	out := &envelope.HTTPResponse{StatusCode: int64(resp.StatusCode())}
	if body := resp.Body(); len(body) > 0 {
		out.Body = hexutil.Bytes(body)
	}
	for _, h := range keptHeaders {
		if v := resp.Header().Get(h); v != "" {
			if out.Headers == nil {
				out.Headers = map[string]string{}
			}
			out.Headers[h] = v
		}
	}
	return out, nil
}

// redact drops the query string, which carries the API key.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}

// scrub rewrites a transport error so its text never carries the query
// string. The returned error still wraps the transport cause.
func scrub(err error, u *url.URL) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = fmt.Errorf("%s %s: %w", ue.Op, redact(u), ue.Err)
	}
	if u.RawQuery != "" && strings.Contains(err.Error(), u.RawQuery) {
		return errors.New(strings.ReplaceAll(err.Error(), u.RawQuery, "REDACTED"))
	}
	return err
}
