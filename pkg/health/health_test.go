package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serve(t *testing.T, handler http.HandlerFunc) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body probeBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, ok)
	h.AddLivenessCheck("postgres", time.Second, failing("connection refused"))

	code, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", body.Status)

	runN(h.checks[1], 2)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below the failure threshold")

	runN(h.checks[1], 1)
	code, body = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"postgres": "connection refused"}, body.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("amqp", time.Second, ok)
	h.AddLivenessCheck("broken", time.Second, failing("ignored by readiness"))
	runN(h.checks[1], 3)

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCustomThresholds(t *testing.T) {
	var fail bool
	h := New()
	h.Add(Readiness, "kafka", Options{Timeout: time.Second, FailureThreshold: 1, SuccessThreshold: 2},
		func(context.Context) error {
			if fail {
				return errors.New("no brokers")
			}
			return nil
		})
	h.SetReady(true)
	c := h.checks[0]

	fail = true
	runN(c, 1)
	assert.False(t, h.IsReady())

	fail = false
	runN(c, 1)
	assert.False(t, h.IsReady(), "one success is below the success threshold")
	runN(c, 1)
	assert.True(t, h.IsReady())
	assert.Nil(t, c.lastErr.Load())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Liveness, "slow", Options{Timeout: 10 * time.Millisecond, FailureThreshold: 1},
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

	runN(h.checks[0], 1)
	_, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, ok)
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.IsReady()
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestNamed(t *testing.T) {
	require.NoError(t, Named("postgres", ok)(context.Background()))

	err := Named("amqp", failing("connection closed"))(context.Background())
	require.Error(t, err)
	assert.Equal(t, "amqp: connection closed", err.Error())
}
