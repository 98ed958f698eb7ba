package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
	assert.JSONEq(t,
		`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`,
		w.Body.String())
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		zctx.From(r.Context()).Info("handled")
	}), InjectLogger(zap.New(core)), RequestID())

	t.Run("reuses valid header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
	})

	t.Run("replaces invalid header", func(t *testing.T) {
		for _, bad := range []string{"", strings.Repeat("x", 129), "bad\nid"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(HeaderRequestID, bad)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.NotEqual(t, bad, seen)
			assert.Len(t, seen, 36)
			assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight allowed", func(t *testing.T) {
		h := CORS(CORSConfig{
			AllowOrigins:     []string{"https://pos.example.com"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           600,
		})(okHandler())

		req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
		req.Header.Set("Origin", "https://POS.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://POS.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
		assert.Equal(t, "Authorization, Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("preflight rejected origin", func(t *testing.T) {
		h := CORS(CORSConfig{AllowOrigins: []string{"https://pos.example.com"}})(okHandler())

		req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard simple request", func(t *testing.T) {
		h := CORS(CORSConfig{AllowOrigins: []string{"*"}, ExposeHeaders: []string{HeaderRequestID}})(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set("Origin", "https://any.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, HeaderRequestID, w.Header().Get("Access-Control-Expose-Headers"))
		assert.Empty(t, w.Header().Values("Vary"))
	})

	t.Run("wildcard with credentials echoes origin", func(t *testing.T) {
		h := CORS(CORSConfig{AllowCredentials: true})(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://kiosk.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "https://kiosk.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Values("Vary"), "Origin")
	})
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(InjectLogger(zap.New(core)), LogRequests())
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/42", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, false, body["success"])

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/orders/{id}", fields["route"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
}

func TestLogRequests_TraceID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Wrap(okHandler(), InjectLogger(zap.New(core)), LogRequests())

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b, 0x0c, 0x0d, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, sc.TraceID().String(), entries[0].ContextMap()["trace_id"])
	assert.NotContains(t, entries[0].ContextMap(), "route")
}
