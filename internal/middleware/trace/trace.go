// Package trace assigns each request an id, logs start and completion with
// the response status, and keeps coarse request counters.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	applog "bilancio/internal/log"
)

type ctxKey struct{}

// Middleware traces requests. The extractIP hook lets the server decide how
// to resolve the client address behind proxies.
type Middleware struct {
	extractIP func(*http.Request) string
	requests  atomic.Int64
	lastMs    atomic.Int64
}

func NewMiddleware(extractIP func(*http.Request) string) *Middleware {
	return &Middleware{extractIP: extractIP}
}

// Handler wraps next with request tracing: an id in the context, a start and
// a completion log record, the completion level picked from the status code.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := NewRequestID()
		ctx := context.WithValue(r.Context(), ctxKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			applog.FieldRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", clientIP)

		m.requests.Add(1)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		durationMs := time.Since(start).Milliseconds()
		m.lastMs.Store(durationMs)

		level := slog.LevelInfo
		switch {
		case sw.status >= 500:
			level = slog.LevelError
		case sw.status >= 400:
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Request completed",
			applog.FieldRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", sw.status,
			applog.FieldDuration, durationMs,
			"client_ip", clientIP)
	})
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// NewRequestID returns a fresh request id. Falls back to a timestamp when
// the random source fails.
func NewRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// RequestID extracts the request id from the context, empty when untraced.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Metrics is a point-in-time snapshot of the middleware's counters.
type Metrics struct {
	TotalRequests      int64
	LastDurationMillis int64
}

func (m *Middleware) Metrics() Metrics {
	return Metrics{
		TotalRequests:      m.requests.Load(),
		LastDurationMillis: m.lastMs.Load(),
	}
}
