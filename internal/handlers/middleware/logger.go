package middleware

import (
	"net/http"
	"time"
)

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Captures what was sent to the client
type statusWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.status = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	size, err := w.ResponseWriter.Write(p)
	w.size += size
	return size, err
}

// Log every request once it is served. Server errors are logged on error level
// Query string is not logged
func RequestLogger(l requestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			log := l.Info
			if sw.status >= http.StatusInternalServerError {
				log = l.Error
			}
			log(
				"HTTP request served",
				"method", r.Method,
				"path", r.URL.Path,
				"ip", ClientIP(r),
				"status", sw.status,
				"size", sw.size,
				"duration", time.Since(start),
			)
		})
	}
}
