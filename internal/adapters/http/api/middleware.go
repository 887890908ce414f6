package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/skillcheck/pkg/metrics"
)

// errorClass labels a failed response for the error metrics.
type errorClass struct {
	kind     string
	severity string
}

// classifyStatus maps an error status onto its metric labels.
// Lifecycle conflicts are expected traffic and rank low.
func classifyStatus(code int) errorClass {
	switch {
	case code == http.StatusServiceUnavailable:
		return errorClass{"unavailable", "high"}
	case code >= http.StatusInternalServerError:
		return errorClass{"server_error", "high"}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errorClass{"auth", "medium"}
	case code == http.StatusConflict:
		return errorClass{"conflict", "low"}
	case code == http.StatusNotFound:
		return errorClass{"not_found", "medium"}
	default:
		return errorClass{"client_error", "medium"}
	}
}

// MetricsMiddleware records request count, latency and failures for endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := float64(time.Since(start).Microseconds()) / 1000
		code := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, elapsed)

		if rec.status < http.StatusBadRequest {
			return
		}
		class := classifyStatus(rec.status)
		metrics.RecordErrorByEndpoint(endpoint, r.Method, class.kind)
		metrics.RecordErrorByType(class.kind, class.severity)
	}
}

// statusRecorder remembers the first status written to the response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
