package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"qms/branch-queue/internal/metrics"
)

// requestLog is filled in by inner handlers for the access log line.
type requestLog struct {
	operator string
}

type requestLogKey struct{}

func noteOperator(ctx context.Context, operator string) {
	if entry, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		entry.operator = operator
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep the streaming and websocket transports of the
// display endpoint working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		entry := &requestLog{}
		next.ServeHTTP(writer, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, entry)))
		duration := time.Since(start)
		metrics.ObserveRequest(r.Method, writer.status, duration)

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", duration.Milliseconds(),
			"operator", entry.operator,
			"request_id", requestIDFromRequest(r),
		)
	})
}
