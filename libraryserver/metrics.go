package libraryserver

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMailConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_mail_connect_attempts_total",
		Help: "Total number of connection attempts against the mail relay.",
	})
	metricMailSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_mail_sends_total",
		Help: "Total number of outbound mail submissions by outcome.",
	}, []string{"status"})
	metricDriveOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_drive_operations_total",
		Help: "Total number of remote drive operations by kind and outcome.",
	}, []string{"op", "status"})
	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_http_requests_total",
		Help: "Total number of HTTP requests by method and response code.",
	}, []string{"method", "code"})
)

// statusWriter remembers the response code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware counts every request by method and response code.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metricHTTPRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
	})
}
