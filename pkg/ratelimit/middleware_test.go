package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(store *Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(store.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func doRequest(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_LimitsPerClient(t *testing.T) {
	store := NewStore(RateLimitConfig{RPS: 0.001, Burst: 2, CleanupInterval: time.Minute, MaxAge: time.Minute})
	r := newEngine(store)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1").Code)

	w := doRequest(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.2").Code)
	assert.Equal(t, 2, store.Len())
}

func TestStore_Cleanup(t *testing.T) {
	store := NewStore(RateLimitConfig{RPS: 1, Burst: 1, CleanupInterval: time.Minute, MaxAge: time.Minute})
	r := newEngine(store)
	doRequest(r, "10.0.0.1")
	require.Equal(t, 1, store.Len())

	assert.Equal(t, 0, store.Cleanup(time.Now()))
	assert.Equal(t, 1, store.Cleanup(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, store.Len())
}

func TestFromSeconds(t *testing.T) {
	cfg := FromSeconds(5, 0, 30, 0)
	assert.Equal(t, 5.0, cfg.RPS)
	assert.Equal(t, DefaultConfig().Burst, cfg.Burst)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, DefaultConfig().MaxAge, cfg.MaxAge)
}
