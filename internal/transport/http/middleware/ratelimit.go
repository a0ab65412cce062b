package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"hrpay/internal/transport/http/api"
)

// loginBodyPeek bounds how much of a login body is read to find the email.
const loginBodyPeek = 16 << 10

type requestKey func(r *http.Request) string

// window counts hits for one key until resetAt.
type window struct {
	hits    int
	resetAt time.Time
}

// limiter is a fixed-window counter per key. Expired windows are swept at
// most once per period so idle clients do not accumulate.
type limiter struct {
	name   string
	limit  int
	period time.Duration
	key    requestKey
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

func newLimiter(name string, limit int, period time.Duration, key requestKey) *limiter {
	return &limiter{
		name:    name,
		limit:   limit,
		period:  period,
		key:     key,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

// take records one hit for key and reports whether it fits in the window,
// how many hits remain and when the window resets.
func (l *limiter) take(key string) (bool, int, time.Time) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, w := range l.windows {
			if !now.Before(w.resetAt) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(l.period)
	}
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows[key] = w
	}
	w.hits++
	return w.hits <= l.limit, max(l.limit-w.hits, 0), w.resetAt
}

// allow writes the rate limit headers and answers 429 once the caller's
// window is spent. A non-positive limit disables the limiter.
func (l *limiter) allow(w http.ResponseWriter, r *http.Request) bool {
	if l.limit <= 0 {
		return true
	}
	key := l.key(r)
	if key == "" {
		key = "ip:" + ClientIP(r)
	}
	ok, remaining, resetAt := l.take(key)
	wait := max(int(resetAt.Sub(l.now()).Round(time.Second).Seconds()), 1)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(wait))
	if ok {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(wait))
	slog.Warn("rate limit exceeded", "limiter", l.name, "key", key, "method", r.Method, "path", r.URL.Path)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func (l *limiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.allow(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

// RateLimit caps every request per signed-in user, or per client IP for
// anonymous callers.
func RateLimit(limit int, period time.Duration) func(http.Handler) http.Handler {
	return newLimiter("global", limit, period, actorKey).handler
}

// SensitiveMutationRateLimit adds tighter caps on top of RateLimit: logins get
// a quarter of base, checked per IP and per submitted email, and payroll
// writes get half of base per user.
func SensitiveMutationRateLimit(base int, period time.Duration) func(http.Handler) http.Handler {
	guards := sensitiveGuards{
		loginByIP:    newLimiter("login_ip", max(base/4, 1), period, ipKey),
		loginByEmail: newLimiter("login_email", max(base/4, 1), period, loginEmailKey),
		payrollWrite: newLimiter("payroll_write", max(base/2, 1), period, actorKey),
	}
	return guards.handler
}

type sensitiveGuards struct {
	loginByIP    *limiter
	loginByEmail *limiter
	payrollWrite *limiter
}

func (g sensitiveGuards) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var allowed bool
		switch classifyRoute(r) {
		case routeLogin:
			allowed = g.loginByIP.allow(w, r) && g.loginByEmail.allow(w, r)
		case routePayrollWrite:
			allowed = g.payrollWrite.allow(w, r)
		default:
			allowed = true
		}
		if allowed {
			next.ServeHTTP(w, r)
		}
	})
}

type routeClass int

const (
	routeOther routeClass = iota
	routeLogin
	routePayrollWrite
)

// payrollWrites are the mutations that start, replace or settle payroll
// figures. Patterns use path.Match syntax relative to /api/v1.
var payrollWrites = []string{
	"/payroll/runs",
	"/payroll/runs/*/approve",
	"/payroll/runs/*/reject",
	"/payroll/runs/*/recalculate",
	"/staff/import",
	"/tax/configurations",
}

func classifyRoute(r *http.Request) routeClass {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return routeOther
	}
	p := strings.TrimPrefix(r.URL.Path, "/api/v1")
	if p == "/auth/login" {
		return routeLogin
	}
	for _, pattern := range payrollWrites {
		if ok, _ := path.Match(pattern, p); ok {
			return routePayrollWrite
		}
	}
	return routeOther
}

func actorKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.CompanyID + ":" + user.UserID
	}
	return ipKey(r)
}

func ipKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// loginEmailKey keys login attempts by the submitted email so that one
// account cannot be guessed at from many addresses. The body is restored for
// the login handler.
func loginEmailKey(r *http.Request) string {
	if r.Body == nil || !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, loginBodyPeek))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
	if err != nil {
		return ""
	}
	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		return ""
	}
	return "email:" + email
}

// ClientIP is the first X-Forwarded-For hop, or the peer address.
func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
