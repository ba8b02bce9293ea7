package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authTokenChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_checks_total",
			Help: "Token validations by outcome.",
		},
		[]string{"outcome"},
	)

	authTokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Session tokens marked revoked in the ledger.",
	})

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLogins, authTokenChecks, authTokensRevoked)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// LoginAttempt counts a login by outcome: success, invalid_credentials or error.
func LoginAttempt(outcome string) {
	authLogins.WithLabelValues(outcome).Inc()
}

// TokenCheck counts a token validation by outcome.
func TokenCheck(outcome string) {
	authTokenChecks.WithLabelValues(outcome).Inc()
}

// TokensRevoked adds n revoked tokens.
func TokensRevoked(n int) {
	if n > 0 {
		authTokensRevoked.Add(float64(n))
	}
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var (
	idCollections = map[string]bool{"users": true, "roles": true, "permissions": true}
	idActions     = map[string]bool{"sessions": true, "enable": true, "disable": true}
	nameLookups   = map[string]string{"users/username": ":username", "roles/name": ":name"}
)

// CanonicalPath collapses identifiers in API paths so metric labels stay
// bounded, e.g. /v1/users/abc/enable becomes /v1/users/:id/enable.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || !idCollections[parts[1]] {
		return p
	}
	coll := parts[1]
	if placeholder, ok := nameLookups[coll+"/"+parts[2]]; ok && len(parts) == 4 {
		return "/v1/" + coll + "/" + parts[2] + "/" + placeholder
	}
	switch len(parts) {
	case 3:
		return "/v1/" + coll + "/:id"
	case 4:
		if idActions[parts[3]] {
			return "/v1/" + coll + "/:id/" + parts[3]
		}
	case 5:
		if (parts[3] == "roles" || parts[3] == "permissions") && (parts[4] == "assign" || parts[4] == "remove") {
			return "/v1/" + coll + "/:id/" + parts[3] + "/" + parts[4]
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
