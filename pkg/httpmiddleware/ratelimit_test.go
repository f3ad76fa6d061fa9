package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, method, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/cart/items", nil)
	req.RemoteAddr = remoteAddr
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderAndOverLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for i := range 2 {
		w := doRequest(h, http.MethodPost, "10.0.0.1:1000", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := doRequest(h, http.MethodPost, "10.0.0.1:1000", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.2:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.1:2", nil).Code)

	fwd := http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}}
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:3", fwd).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.9:3", fwd).Code)
}

func TestRateLimit_KeysOnSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := Wrap(okHandler(),
		Session(SessionConfig{}),
		RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute}),
	)

	s1 := http.Header{SessionHeader: {"session-1"}}
	s2 := http.Header{SessionHeader: {"session-2"}}
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:1", s1).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:1", s2).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.1:1", s1).Code)
}

func TestRateLimit_Methods(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		Methods: []string{http.MethodPost},
	})(okHandler())

	for range 3 {
		w := doRequest(h, http.MethodGet, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "10.0.0.1:1", nil).Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(context.Background(), RateLimitConfig{})(okHandler())
	for range 5 {
		assert.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "10.0.0.1:1", nil).Code)
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := &limiter{max: 10, size: time.Minute, windows: make(map[string]*window)}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 10 {
		_, _, ok := l.take("k", base)
		require.True(t, ok)
	}
	_, _, ok := l.take("k", base.Add(30*time.Second))
	require.False(t, ok)

	// Halfway into the next window half of the previous count still applies.
	at := base.Add(90 * time.Second)
	for range 5 {
		_, _, ok := l.take("k", at)
		require.True(t, ok)
	}
	_, _, ok = l.take("k", at)
	assert.False(t, ok)

	// Two windows later the history is gone.
	remaining, _, ok := l.take("k", base.Add(3*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 9, remaining)

	l.sweep(base.Add(10 * time.Minute))
	assert.Empty(t, l.windows)
}
