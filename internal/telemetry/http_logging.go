package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/flipcache/internal/logctx"
)

// statusWriter remembers the first status written so the access log can report it.
type statusWriter struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
}

func wrapStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}

	sw.status = code
	sw.wroteHeader = true

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}

	return sw.ResponseWriter.Write(b)
}

// HTTPLogging writes one access-log line per request: 5xx at ERROR, 4xx at WARN, the rest at INFO.
// It also puts a request-scoped logger carrying request_id into the context.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())
		ctx, logger := logctx.With(r.Context(), "request_id", requestID)
		start := time.Now()

		wrapped := wrapStatusWriter(w)

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		status := wrapped.status
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}
