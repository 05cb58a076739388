package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mw "github.com/kiranshivaraju/wavedeck/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	counter int64
	keys    []string
	err     error
}

func (m *mockCache) Ping(_ context.Context) error { return nil }
func (m *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.counter++
	m.keys = append(m.keys, key)
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

// ========================================
// Request ID Middleware Tests
// ========================================

func TestRequestID_Generated(t *testing.T) {
	var seen string
	handler := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = mw.GetRequestID(r)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(mw.RequestIDHeader))
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	handler := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = mw.GetRequestID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(mw.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(mw.RequestIDHeader))
}

func TestRequestID_OversizedReplaced(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(mw.RequestIDHeader, strings.Repeat("x", 500))
	w := httptest.NewRecorder()
	mw.RequestID(okHandler()).ServeHTTP(w, req)

	assert.Len(t, w.Header().Get(mw.RequestIDHeader), 36)
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Empty(t, mw.GetRequestID(httptest.NewRequest("GET", "/", nil)))
}

// ========================================
// User Middleware Tests
// ========================================

func TestUser_DefaultsWhenHeaderMissing(t *testing.T) {
	var got int64
	handler := mw.NewUser(1).Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = mw.GetUserID(r)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, int64(1), got)
}

func TestUser_FromHeader(t *testing.T) {
	var got int64
	handler := mw.NewUser(1).Resolve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = mw.GetUserID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(mw.UserIDHeader, "42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, int64(42), got)
}

func TestUser_InvalidHeader(t *testing.T) {
	for _, v := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(mw.UserIDHeader, v)
		w := httptest.NewRecorder()
		mw.NewUser(1).Resolve(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, v)
		assert.Equal(t, "VALIDATION_ERROR", errBody(t, w)["code"])
	}
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, []string{"ratelimit:10.0.0.7"}, mc.keys)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry will return 61
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mc := &mockCache{err: errors.New("redis down")}
	handler := mw.NewRateLimit(mc, 60).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_DefaultLimit(t *testing.T) {
	handler := mw.NewRateLimit(&mockCache{}, 0).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
}
