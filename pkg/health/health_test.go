package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func runN(h *Health, i, n int) {
	for range n {
		h.checks[i].run(context.Background(), h)
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.Add(Liveness, "goroutines", time.Second, passing)
	h.Add(Liveness, "db", time.Second, failing("connection refused"))

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// Below the failure threshold the check stays healthy.
	runN(h, 1, 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)

	runN(h, 1, 1)
	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	h := New(WithThresholds(1, 2))
	h.Add(Readiness, "postgres", time.Second, passing)
	h.Add(Readiness, "redis", time.Second, failing("dial tcp: refused"))
	h.Add(Liveness, "other", time.Second, failing("ignored"))

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.True(t, h.IsReady())
	assert.JSONEq(t, `{"status":"ok"}`, serve(h.ReadyEndpoint).Body.String())

	runN(h, 1, 1)
	runN(h, 2, 5)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"redis":"dial tcp: refused"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheckRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var fail atomic.Bool
	fail.Store(true)

	h := New(WithLogger(zap.New(core)), WithThresholds(1, 2))
	h.Add(Readiness, "catalog", time.Second, func(context.Context) error {
		if fail.Load() {
			return errors.New("unavailable")
		}
		return nil
	})
	h.SetReady(true)

	runN(h, 0, 1)
	require.False(t, h.IsReady())
	assert.Equal(t, 1, logs.FilterMessage("Check unhealthy").Len())

	fail.Store(false)
	runN(h, 0, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	runN(h, 0, 1)
	assert.True(t, h.IsReady())
	assert.Equal(t, 1, logs.FilterMessage("Check recovered").Len())
}

func TestCheckTimeout(t *testing.T) {
	h := New(WithThresholds(1, 1))
	h.Add(Readiness, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetReady(true)

	runN(h, 0, 1)
	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Add(Liveness, "counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	h.Start(context.Background(), 5*time.Millisecond) // no-op
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Add(Readiness, "a", time.Second, passing)
	h.Add(Liveness, "b", time.Second, failing("x"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
				h.IsReady()
			}
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	require.Error(t, GoroutineCountCheck(0)(ctx))

	require.NoError(t, PingCheck("postgres", pinger{})(ctx))
	err := PingCheck("redis", pinger{err: errors.New("refused")})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
