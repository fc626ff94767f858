package httpclient

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"testnet-automation/pkg/proxy"
	"testnet-automation/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: attempts}
}

func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		code := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			code = statuses[n-1]
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExecute_NonRetryableStatusReturnsImmediately(t *testing.T) {
	for _, code := range []int{200, 400, 404} {
		srv, hits := statusServer(t, code)
		c := New(Config{Policy: testPolicy(5)})

		res := c.Execute(context.Background(), http.MethodGet, srv.URL, Options{})
		require.True(t, res.Success, "status %d", code)
		assert.Equal(t, code, res.Response.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	}
}

func TestExecute_ExhaustsAfterMaxAttempts(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)
	c := New(Config{Policy: testPolicy(3)})

	res := c.Execute(context.Background(), http.MethodGet, srv.URL, Options{})
	assert.False(t, res.Success)
	assert.Nil(t, res.Response)
	assert.ErrorIs(t, res.Err, retry.ErrExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestExecute_RecoversAfterRetryableStatus(t *testing.T) {
	srv, hits := statusServer(t, 429, 502, 200)
	c := New(Config{Policy: testPolicy(5)})

	res := c.Execute(context.Background(), http.MethodGet, srv.URL, Options{})
	require.True(t, res.Success)
	assert.Equal(t, 200, res.Response.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(res.Response.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestExecute_ResendsJSONBodyOnRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":"1"}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "unit", r.Header.Get("X-Test"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Policy: testPolicy(3)})
	res := c.Execute(context.Background(), http.MethodPost, srv.URL, Options{
		JSON:    map[string]string{"amount": "1"},
		Headers: map[string]string{"X-Test": "unit"},
	})
	require.True(t, res.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestExecute_NetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(Config{Policy: testPolicy(2)})
	start := time.Now()
	res := c.Execute(context.Background(), http.MethodGet, addr, Options{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, retry.ErrExhausted)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{Policy: testPolicy(2), Timeout: 50 * time.Millisecond})
	res := c.Execute(context.Background(), http.MethodGet, srv.URL, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func fakeProxy(t *testing.T, code int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		// a forward proxy receives the absolute target URL
		assert.Equal(t, "target.invalid", r.URL.Host)
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExecute_RoutesThroughProxy(t *testing.T) {
	p, hits := fakeProxy(t, http.StatusOK)
	pool, err := proxy.NewPool([]string{p.URL}, nil)
	require.NoError(t, err)

	c := New(Config{Policy: testPolicy(2), Pool: pool})
	res := c.Execute(context.Background(), http.MethodGet, "http://target.invalid/routes", Options{})
	require.True(t, res.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestExecute_RotatesProxiesBetweenAttempts(t *testing.T) {
	p1, hits1 := fakeProxy(t, http.StatusBadGateway)
	p2, hits2 := fakeProxy(t, http.StatusBadGateway)
	pool, err := proxy.NewPool([]string{p1.URL, p2.URL}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	c := New(Config{Policy: testPolicy(20), Pool: pool})
	res := c.Execute(context.Background(), http.MethodGet, "http://target.invalid/", Options{})
	assert.False(t, res.Success)
	assert.Equal(t, int32(20), atomic.LoadInt32(hits1)+atomic.LoadInt32(hits2))
	assert.Positive(t, atomic.LoadInt32(hits1))
	assert.Positive(t, atomic.LoadInt32(hits2))
}

func TestHTTPClient_SharesRetryBehaviour(t *testing.T) {
	srv, hits := statusServer(t, 429, 200)
	c := New(Config{Policy: testPolicy(3)})

	resp, err := c.HTTPClient().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestHTTPClient_ExhaustionIsAnError(t *testing.T) {
	srv, hits := statusServer(t, 503)
	c := New(Config{Policy: testPolicy(2)})

	_, err := c.HTTPClient().Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestExecute_RateLimited(t *testing.T) {
	srv, hits := statusServer(t, 503, 503, 200)
	c := New(Config{Policy: retry.Policy{MaxAttempts: 3}, RateLimit: 20})

	start := time.Now()
	res := c.Execute(context.Background(), http.MethodGet, srv.URL, Options{})
	require.True(t, res.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
	// burst of one: the second and third attempts each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
