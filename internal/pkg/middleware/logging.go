// Package middleware holds HTTP middleware shared by the ingress routes.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/boardfarm/pkg/log"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logging logs one line per request. Probe and metrics requests are logged
// at debug level.
func Logging(logger log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"remote", r.RemoteAddr,
				"duration", time.Since(start),
			}
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				logger.Debug("HTTP request", kv...)
			default:
				logger.Info("HTTP request", kv...)
			}
		})
	}
}
