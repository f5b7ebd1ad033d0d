package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CatalogueServed counts catalogue requests by the tier that answered them.
	CatalogueServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulesync_catalogue_served_total",
			Help: "Total catalogue requests served, by origin (cache, remote, local)",
		},
		[]string{"origin"},
	)

	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulesync_sync_total",
			Help: "Total remote sync attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rulesync_sync_duration_seconds",
			Help:    "Remote sync duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RulesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rulesync_rules_applied_total",
			Help: "Total rule apply attempts by outcome (applied, declined, error)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(CatalogueServed)
	prometheus.MustRegister(SyncTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(RulesApplied)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
