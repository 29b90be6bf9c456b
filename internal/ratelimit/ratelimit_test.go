package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

// --- ClientIP ---

func TestClientIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.50:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")

	assert.Equal(t, "203.0.113.50", ClientIP(req))

	req.RemoteAddr = "10.0.0.3"
	assert.Equal(t, "10.0.0.3", ClientIP(req))
}

func TestProxyClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "untrusted peer ignores headers", xff: "198.51.100.4", realIP: "198.51.100.9", remoteAddr: "203.0.113.50:5555", want: "203.0.113.50"},
		{name: "trusted peer without headers", remoteAddr: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "trusted peer uses forwarded client", xff: "203.0.113.7", remoteAddr: "10.0.0.1:5555", want: "203.0.113.7"},
		{name: "spoofed leftmost entry ignored", xff: "1.2.3.4, 203.0.113.7", remoteAddr: "10.0.0.1:5555", want: "203.0.113.7"},
		{name: "trusted hops skipped", xff: "203.0.113.7, 10.0.0.2", remoteAddr: "10.0.0.1:5555", want: "203.0.113.7"},
		{name: "junk stops the walk", xff: "unknown", realIP: "198.51.100.9", remoteAddr: "10.0.0.1:5555", want: "198.51.100.9"},
		{name: "real ip from trusted peer", realIP: "198.51.100.9", remoteAddr: "10.0.0.1:5555", want: "198.51.100.9"},
	}

	key := ProxyClientIP(trusted)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, key(req))
		})
	}
}

func TestProxyClientIP_NoTrustedProxies(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "10.0.0.1", ProxyClientIP(nil)(req))
}

// --- MemoryLimiter ---

func TestMemoryLimiter_AllowsBurstThenBlocks(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(3, time.Minute, WithMemoryClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}

	ok, err := l.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "login:5.6.7.8")
	assert.True(t, ok, "other keys are independent")

	clock.now = clock.now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "login:1.2.3.4")
	assert.True(t, ok, "tokens refill over the window")
}

func TestMemoryLimiter_EvictsIdleKeys(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(5, time.Minute, WithMemoryClock(clock.Now))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	_, _ = l.Allow(ctx, "b")
	assert.Equal(t, 2, l.Len())

	clock.now = clock.now.Add(10 * time.Minute)
	_, _ = l.Allow(ctx, "c")
	assert.Equal(t, 1, l.Len())
}

// --- RedisLimiter ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)}
	l := NewRedisLimiter(client, 2, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "register:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "register:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	key := l.windowKey("register:1.2.3.4")
	assert.Equal(t, "users:ratelimit:register:1.2.3.4:1704067200", key)
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Equal(t, time.Minute+time.Second, mr.TTL(key))

	clock.now = clock.now.Add(time.Minute)
	ok, err = l.Allow(ctx, "register:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "a new window starts a new counter")
}

func TestRedisLimiter_Reset(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedisLimiter(client, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestRedisLimiter_ServerDown(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, 1, time.Minute)
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}

// --- Middleware ---

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func serveLimited(l Limiter) *httptest.ResponseRecorder {
	h := Middleware(l, "login", nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Allowed(t *testing.T) {
	l := &stubLimiter{allowed: true}
	rec := serveLimited(l)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"login:192.0.2.1"}, l.keys)
}

func TestMiddleware_Rejected(t *testing.T) {
	rec := serveLimited(&stubLimiter{allowed: false})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"status":"failed","message":"Too many requests","code":"RATE_LIMITED"}`, rec.Body.String())
}

func TestMiddleware_FailsOpen(t *testing.T) {
	rec := serveLimited(&stubLimiter{err: errors.New("redis: connection refused")})
	assert.Equal(t, http.StatusOK, rec.Code)
}
