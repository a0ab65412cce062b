package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/httplog/v3"
)

// AccessLog writes one ECS-shaped line per request. Probe and scrape paths are
// skipped.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Level:         slog.LevelInfo,
		Schema:        httplog.SchemaECS,
		RecoverPanics: true,
		Skip: func(r *http.Request, respStatus int) bool {
			return respStatus < 400 && (r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || strings.HasPrefix(r.URL.Path, "/metrics"))
		},
	})
}

// LogCaller adds the authenticated caller and request id to the access log line.
func LogCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := []slog.Attr{slog.String("request.id", GetRequestID(r.Context()))}
		if user, ok := GetUser(r.Context()); ok {
			attrs = append(attrs,
				slog.String("user.id", user.UserID),
				slog.String("user.role", user.Role),
				slog.String("company.id", user.CompanyID),
			)
		}
		httplog.SetAttrs(r.Context(), attrs...)
		next.ServeHTTP(w, r)
	})
}
