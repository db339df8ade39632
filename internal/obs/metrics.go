package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
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
)

// Ledger metrics. Rejections are labelled with the precondition that failed
// so goal pressure is visible without log scraping.
var (
	donationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_donations_total",
		Help: "Successfully committed donations.",
	})

	donatedMinorUnits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_donated_minor_units_total",
		Help: "Sum of committed donation amounts in minor currency units.",
	})

	donationRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_donation_rejects_total",
			Help: "Donations rejected before commit.",
		},
		[]string{"reason"},
	)

	casesFunded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_cases_funded_total",
		Help: "Cases that reached their funding goal.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		donationsTotal, donatedMinorUnits, donationRejects, casesFunded,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDonation records a committed donation and, when the commit moved the
// case to funded, the goal completion.
func ObserveDonation(amountMinor int64, funded bool) {
	donationsTotal.Inc()
	donatedMinorUnits.Add(float64(amountMinor))
	if funded {
		casesFunded.Inc()
	}
}

// ObserveDonationReject records a rejected donation by reason.
func ObserveDonationReject(reason string) {
	donationRejects.WithLabelValues(reason).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
