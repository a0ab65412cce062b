package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hrpay/internal/domain/auth"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func serveLimited(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func officerRequest(method, path, userID string) *http.Request {
	ctx := context.WithValue(context.Background(), ctxKeyUser, auth.UserContext{CompanyID: "company-1", UserID: userID})
	return httptest.NewRequest(method, path, nil).WithContext(ctx)
}

func loginRequest(email, addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"`+email+`","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = addr
	return req
}

func TestRateLimitKeysSignedInUsersAcrossAddresses(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(noContent))

	first := officerRequest(http.MethodPost, "/api/v1/payroll/runs/r1/approve", "user-1")
	first.RemoteAddr = "198.51.100.11:2222"
	if rec := serveLimited(h, first); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	second := officerRequest(http.MethodPost, "/api/v1/payroll/runs/r1/approve", "user-1")
	second.RemoteAddr = "198.51.100.12:3333"
	if rec := serveLimited(h, second); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same user from another address to be throttled, got %d", rec.Code)
	}

	other := officerRequest(http.MethodPost, "/api/v1/payroll/runs/r1/approve", "user-2")
	if rec := serveLimited(h, other); rec.Code != http.StatusNoContent {
		t.Fatalf("expected another user to have its own window, got %d", rec.Code)
	}
}

func TestRateLimitAnonymousCallersByIP(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(noContent))

	if rec := serveLimited(h, loginRequest("a@example.com", "203.0.113.10:4444")); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	forwarded := loginRequest("b@example.com", "10.0.0.1:80")
	forwarded.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")
	if rec := serveLimited(h, forwarded); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected forwarded request from the same client to be throttled, got %d", rec.Code)
	}
}

func TestLimiterWindowResetsAndSweeps(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)}
	l := newLimiter("test", 2, time.Minute, ipKey)
	l.now = clock.now

	for i, want := range []bool{true, true, false} {
		if ok, _, _ := l.take("ip:a"); ok != want {
			t.Fatalf("hit %d: expected allowed=%v", i+1, want)
		}
	}
	l.take("ip:b")

	clock.t = clock.t.Add(time.Minute + time.Second)
	ok, remaining, resetAt := l.take("ip:a")
	if !ok || remaining != 1 {
		t.Fatalf("expected a fresh window, got allowed=%v remaining=%d", ok, remaining)
	}
	if !resetAt.Equal(clock.t.Add(time.Minute)) {
		t.Fatalf("expected reset one period from now, got %s", resetAt)
	}
	if _, found := l.windows["ip:b"]; found {
		t.Fatal("expected expired window for ip:b to be swept")
	}
}

func TestRateLimitHeaders(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)}
	l := newLimiter("test", 1, time.Minute, ipKey)
	l.now = clock.now
	h := l.handler(http.HandlerFunc(noContent))

	rec := serveLimited(h, loginRequest("a@example.com", "192.0.2.30:1234"))
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}

	clock.t = clock.t.Add(20 * time.Second)
	rec = serveLimited(h, loginRequest("a@example.com", "192.0.2.30:1234"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttled response, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("expected Retry-After 40, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected limit header 1, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Fatalf("expected rate_limited error body, got %s", rec.Body.String())
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, time.Minute)(http.HandlerFunc(noContent))
	for i := 0; i < 5; i++ {
		if rec := serveLimited(h, loginRequest("a@example.com", "192.0.2.1:1")); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected disabled limiter to pass, got %d", i+1, rec.Code)
		}
	}
}

func TestSensitiveLimitOnPayrollWrites(t *testing.T) {
	h := SensitiveMutationRateLimit(4, time.Minute)(http.HandlerFunc(noContent))

	for i := 0; i < 6; i++ {
		if rec := serveLimited(h, officerRequest(http.MethodGet, "/api/v1/payroll/runs", "officer-1")); rec.Code != http.StatusNoContent {
			t.Fatalf("read %d: expected reads to bypass the payroll write limit, got %d", i+1, rec.Code)
		}
	}
	for i := 0; i < 3; i++ {
		rec := serveLimited(h, officerRequest(http.MethodPost, "/api/v1/payroll/runs/r1/approve", "officer-1"))
		want := http.StatusNoContent
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("approve %d: expected %d, got %d", i+1, want, rec.Code)
		}
	}
	if rec := serveLimited(h, officerRequest(http.MethodPost, "/api/v1/staff", "officer-1")); rec.Code != http.StatusNoContent {
		t.Fatalf("expected staff create to be outside the payroll write limit, got %d", rec.Code)
	}
}

func TestSensitiveLimitOnLoginByEmail(t *testing.T) {
	h := SensitiveMutationRateLimit(4, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"password":"x"`) {
			t.Fatalf("expected login body to reach the handler, got %q", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rec := serveLimited(h, loginRequest("Aline@Example.com", "192.0.2.1:1")); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first login to pass, got %d", rec.Code)
	}
	if rec := serveLimited(h, loginRequest("aline@example.com ", "192.0.2.2:1")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second login for the same email to be throttled, got %d", rec.Code)
	}
	if rec := serveLimited(h, loginRequest("other@example.com", "192.0.2.1:1")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second login from the same address to be throttled, got %d", rec.Code)
	}
}

func TestClassifyRoute(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   routeClass
	}{
		{http.MethodPost, "/api/v1/auth/login", routeLogin},
		{http.MethodPost, "/api/v1/payroll/runs", routePayrollWrite},
		{http.MethodGet, "/api/v1/payroll/runs", routeOther},
		{http.MethodPost, "/api/v1/payroll/runs/r1/approve", routePayrollWrite},
		{http.MethodPost, "/api/v1/payroll/runs/r1/recalculate", routePayrollWrite},
		{http.MethodPost, "/api/v1/payroll/runs/r1/reject", routePayrollWrite},
		{http.MethodPost, "/api/v1/payroll/runs/r1/results/s1", routeOther},
		{http.MethodPost, "/api/v1/staff/import", routePayrollWrite},
		{http.MethodPost, "/api/v1/tax/configurations", routePayrollWrite},
		{http.MethodPost, "/api/v1/staff", routeOther},
	}
	for _, tc := range cases {
		if got := classifyRoute(httptest.NewRequest(tc.method, tc.path, nil)); got != tc.want {
			t.Fatalf("%s %s: expected class %d, got %d", tc.method, tc.path, tc.want, got)
		}
	}
}
