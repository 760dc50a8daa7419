// Package metrics exposes Prometheus counters for a verification run:
// attempts, verdicts by status, and DNS resolver tier usage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verify_attempts_total",
		Help: "Total number of email verification attempts.",
	})

	VerdictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verify_verdict_total",
		Help: "Total verification attempts by resulting verdict status.",
	}, []string{"status"})

	DNSTierUsedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dns_tier_used_total",
		Help: "Total MX resolutions succeeding on each DNS resolver tier.",
	}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(AttemptsTotal, VerdictTotal, DNSTierUsedTotal)
}

// Serve starts a blocking HTTP server exposing /metrics on addr. Callers
// typically run this in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
