package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T, perMinuteGeneral, perMinuteAuth int) *RateLimiter {
	t.Helper()
	generalRate, generalBurst := PerMinute(perMinuteGeneral)
	authRate, authBurst := PerMinute(perMinuteAuth)
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     generalRate,
		GeneralBurst:    generalBurst,
		AuthRate:        authRate,
		AuthBurst:       authBurst,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// TestRateLimiter_AuthBucketExhausts は認証バケットを超えると429になることを検証する。
func TestRateLimiter_AuthBucketExhausts(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 3)
	h := rl.AuthMiddleware()(okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("10.0.0.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive seconds", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

// TestRateLimiter_IsolatesClients はIPごとに独立して制限されることを検証する。
func TestRateLimiter_IsolatesClients(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 1)
	h := rl.AuthMiddleware()(okHandler)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom(ip))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", ip, w.Code)
		}
	}
	if got := rl.AuthLimiterCount(); got != 3 {
		t.Errorf("AuthLimiterCount() = %d, want 3", got)
	}
}

// TestRateLimiter_BucketsAreIndependent は認証とAPI全般のバケットが独立していることを検証する。
func TestRateLimiter_BucketsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 1)
	authH := rl.AuthMiddleware()(okHandler)
	generalH := rl.GeneralMiddleware()(okHandler)

	authH.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1"))
	w := httptest.NewRecorder()
	authH.ServeHTTP(w, requestFrom("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("auth status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	generalH.ServeHTTP(w, requestFrom("10.0.0.1"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
}

// TestRateLimiter_ZeroDisablesLimit は0指定で制限が無効になることを検証する。
func TestRateLimiter_ZeroDisablesLimit(t *testing.T) {
	rl := newTestRateLimiter(t, 0, 0)
	h := rl.AuthMiddleware()(okHandler)

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("10.0.0.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

// TestRateLimiter_CleanupRemovesExpiredEntries は古いエントリが削除されることを検証する。
func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 20)
	h := rl.GeneralMiddleware()(okHandler)

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1"))
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("GeneralLimiterCount() = %d, want 1", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0 after cleanup", rl.GeneralLimiterCount())
	}
}

func TestPerMinute(t *testing.T) {
	r, burst := PerMinute(120)
	if r != rate.Limit(2) || burst != 120 {
		t.Errorf("PerMinute(120) = (%v, %d), want (2, 120)", r, burst)
	}
	if r, _ := PerMinute(0); r != rate.Inf {
		t.Errorf("PerMinute(0) rate = %v, want Inf", r)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 300 || cfg.AuthBurst != 20 {
		t.Errorf("bursts = (%d, %d), want (300, 20)", cfg.GeneralBurst, cfg.AuthBurst)
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("CleanupInterval must be positive")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

// TestRateLimiter_IgnoresForwardedHeaders はRealIP未適用時に転送ヘッダーでバケットを回避できないことを検証する。
func TestRateLimiter_IgnoresForwardedHeaders(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 2)
	h := rl.AuthMiddleware()(okHandler)

	limited := 0
	for i := 0; i < 6; i++ {
		req := requestFrom("203.0.113.7")
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 4 {
		t.Errorf("limited = %d, want 4", limited)
	}
	if n := rl.AuthLimiterCount(); n != 1 {
		t.Errorf("AuthLimiterCount() = %d, want 1", n)
	}
}

func TestRateLimiter_AllowLogin_PerEmail(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Inf,
		AuthRate:        rate.Inf,
		LoginRate:       rate.Limit(2.0 / 60.0),
		LoginBurst:      2,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)

	for i := 0; i < 2; i++ {
		if !rl.AllowLogin(httptest.NewRecorder(), "victim@example.com") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	w := httptest.NewRecorder()
	if rl.AllowLogin(w, "victim@example.com") {
		t.Fatal("third attempt for the same email should be rejected")
	}
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Errorf("status = %d, Retry-After = %q", w.Code, w.Header().Get("Retry-After"))
	}

	if !rl.AllowLogin(httptest.NewRecorder(), "other@example.com") {
		t.Error("a different email should have its own bucket")
	}
	if n := rl.LoginLimiterCount(); n != 2 {
		t.Errorf("LoginLimiterCount() = %d, want 2", n)
	}
}

func TestRateLimiter_AllowLogin_UnsetConfigIsUnlimited(t *testing.T) {
	rl := newTestRateLimiter(t, 300, 20)

	for i := 0; i < 50; i++ {
		if !rl.AllowLogin(httptest.NewRecorder(), "a@example.com") {
			t.Fatalf("attempt %d rejected without a login limit configured", i+1)
		}
	}

	var nilLimiter *RateLimiter
	if !nilLimiter.AllowLogin(httptest.NewRecorder(), "a@example.com") {
		t.Error("nil limiter should allow")
	}
}
