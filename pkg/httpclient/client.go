package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"testnet-automation/pkg/proxy"
	"testnet-automation/pkg/retry"
	"testnet-automation/pkg/telemetry"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	Headers map[string]string
	// Body is sent as-is. When nil and JSON is set, JSON is marshalled instead.
	Body []byte
	JSON any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is the envelope returned by Execute. Success is false only when
// no definitive response was obtained; a 4xx is still a success here and
// callers must inspect the status code.
type Result struct {
	Response *Response
	Success  bool
	Err      error
}

type Config struct {
	Policy   retry.Policy
	Timeout  time.Duration
	// RateLimit caps attempts per second across the client. Zero disables it.
	RateLimit float64
	Pool      *proxy.Pool
	Recorder  *telemetry.Recorder
}

type Client struct {
	pool     *proxy.Pool
	policy   retry.Policy
	limiter  *rate.Limiter
	recorder *telemetry.Recorder
	retry    *retryablehttp.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		pool:     cfg.Pool,
		policy:   cfg.Policy,
		recorder: cfg.Recorder,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFromContext

	attempts := cfg.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	rc.Logger = leveledLogger{}
	rc.RetryMax = attempts - 1
	rc.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return c.policy.Delay(attemptNum)
	}
	rc.CheckRetry = c.checkRetry
	rc.RequestLogHook = c.beforeAttempt
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d after %d attempts", retry.ErrExhausted, resp.StatusCode, numTries)
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", retry.ErrExhausted, numTries, err)
	}
	c.retry = rc
	return c
}

// Execute performs one logical request, retrying transient failures with a
// freshly picked proxy on every attempt.
func (c *Client) Execute(ctx context.Context, method, rawURL string, opts Options) Result {
	logger := zerolog.Ctx(ctx)

	var body any
	switch {
	case opts.Body != nil:
		body = opts.Body
	case opts.JSON != nil:
		buf, err := json.Marshal(opts.JSON)
		if err != nil {
			return Result{Err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		body = buf
	}

	ctx, _ = withSelection(ctx)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if opts.JSON != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		logger.Error().Err(err).Str("method", method).Str("url", redactURL(rawURL)).Msg("request failed")
		return Result{Err: err}
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	return Result{
		Response: &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: buf},
		Success:  true,
	}
}

// HTTPClient exposes the retrying, proxy-rotating transport as a plain
// *http.Client, for use by the chain JSON-RPC clients.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &selectingTransport{next: &retryablehttp.RoundTripper{Client: c.retry}},
	}
}

func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	host := ""
	if resp != nil && resp.Request != nil {
		host = resp.Request.URL.Host
	}
	if err != nil {
		c.recorder.Attempt(host, 0, err)
		return retry.RetryableError(err), nil
	}
	c.recorder.Attempt(host, resp.StatusCode, nil)
	if retry.RetryableStatus(resp.StatusCode) {
		zerolog.Ctx(ctx).Warn().Int("status", resp.StatusCode).Str("url", redactURL(resp.Request.URL.String())).
			Msg("retryable status")
		return true, nil
	}
	return false, nil
}

func (c *Client) beforeAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
	}
	sel := selectionFrom(ctx)
	if sel == nil {
		return
	}
	sel.proxy = c.pool.Pick()
	if sel.proxy != nil {
		zerolog.Ctx(ctx).Debug().Int("attempt", attempt+1).Str("proxy", proxy.Redacted(sel.proxy)).
			Msg("using proxy")
	}
}

type selectionKey struct{}

// selection is the proxy chosen for the current attempt of one logical
// request. It lives in that request's context only.
type selection struct {
	proxy *url.URL
}

func withSelection(ctx context.Context) (context.Context, *selection) {
	if sel := selectionFrom(ctx); sel != nil {
		return ctx, sel
	}
	sel := &selection{}
	return context.WithValue(ctx, selectionKey{}, sel), sel
}

func selectionFrom(ctx context.Context) *selection {
	sel, _ := ctx.Value(selectionKey{}).(*selection)
	return sel
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	if sel := selectionFrom(req.Context()); sel != nil {
		return sel.proxy, nil
	}
	return nil, nil
}

type selectingTransport struct {
	next http.RoundTripper
}

func (t *selectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, _ := withSelection(req.Context())
	return t.next.RoundTrip(req.WithContext(ctx))
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
