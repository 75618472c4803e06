package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestLoggingMiddleware writes one log line per request. Requests that
// address a report session also carry session_id and action, so one
// session's edits, exports and restores can be followed in the log.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

// NewRequestLoggingMiddleware creates a new request logging middleware.
func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{
		logger: logger,
	}
}

// quietPrefixes are polled by health checks and scrapers, or serve
// archived files straight from disk.
var quietPrefixes = []string{"/health", "/metrics", "/files/"}

// Handler returns middleware that logs all HTTP requests.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range quietPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", sanitizePath(r.URL.Path, r.URL.RawQuery)),
			slog.Int("status", wrapped.statusCode),
			slog.Int("bytes", wrapped.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("ip", getClientIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}
		attrs = append(attrs, reportAttrs(r)...)

		m.logger.LogAttrs(r.Context(), levelFor(wrapped.statusCode), "request", attrs...)
	})
}

// levelFor maps a response status to a log level. Rejected restores and
// rate-limited exports are worth a warning; server faults are errors.
func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status == http.StatusRequestEntityTooLarge, status == http.StatusTooManyRequests:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// reportRoute splits /reports/{id}/{action}/... into the session id and the
// action. A bare /reports/{id} is the "session" action.
func reportRoute(p string) (id uuid.UUID, action string, ok bool) {
	rest, found := strings.CutPrefix(p, "/reports/")
	if !found {
		return uuid.Nil, "", false
	}
	raw, tail, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, "", false
	}
	action, _, _ = strings.Cut(tail, "/")
	if action == "" {
		action = "session"
	}
	return id, action, true
}

// reportAttrs returns the report-specific attributes of r.
func reportAttrs(r *http.Request) []slog.Attr {
	id, action, ok := reportRoute(r.URL.Path)
	if !ok {
		return nil
	}

	attrs := []slog.Attr{
		slog.String("session_id", id.String()),
		slog.String("action", action),
	}
	switch action {
	case "export":
		format := strings.ToLower(r.URL.Query().Get("format"))
		if format == "" {
			format = "xlsx"
		}
		attrs = append(attrs, slog.String("format", format))
	case "restore":
		attrs = append(attrs, slog.Int64("backup_bytes", r.ContentLength))
	}
	return attrs
}

// responseWriter wraps http.ResponseWriter to capture the status code and the
// response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// sensitiveParams may carry credentials or presigned URL parts.
var sensitiveParams = map[string]bool{
	"token":            true,
	"key":              true,
	"secret":           true,
	"signature":        true,
	"x-amz-signature":  true,
	"x-amz-credential": true,
	"api_key":          true,
	"access_token":     true,
}

// sanitizePath returns path with its query, sensitive values redacted and
// valueless flags dropped.
func sanitizePath(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}

	var kept []string
	for _, part := range strings.Split(rawQuery, "&") {
		name, _, hasValue := strings.Cut(part, "=")
		if !hasValue {
			continue
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if sensitiveParams[strings.ToLower(name)] {
			part = name + "=[REDACTED]"
		}
		kept = append(kept, part)
	}

	if len(kept) == 0 {
		return path
	}
	return path + "?" + strings.Join(kept, "&")
}
