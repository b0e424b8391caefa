package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the feed pipeline.
type Metrics struct {
	FetchAttempts *prometheus.CounterVec // labels: trigger={auto,manual}, outcome={allowed,denied_cooldown,denied_capacity}
	FetchResults  *prometheus.CounterVec // labels: trigger, result={success,failure,discarded}

	// Feed transport metrics.
	FeedRequests        *prometheus.CounterVec // labels: code (HTTP status or "error")
	FeedRequestDuration prometheus.Histogram

	EventsPublished  prometheus.Gauge
	SchedulerRunning prometheus.Gauge
	SinkErrors       prometheus.Counter

	// Rate limit observer metrics, refreshed every status tick.
	RateLimitRemaining prometheus.Gauge
	CooldownSeconds    prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts by trigger and rate limit outcome.",
		}, []string{"trigger", "outcome"}),
		FetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "fetch_results_total",
			Help:      "Results of admitted fetch attempts by trigger.",
		}, []string{"trigger", "result"}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "feed_requests_total",
			Help:      "HTTP requests to the upstream feed by response code.",
		}, []string{"code"}),
		FeedRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_feed",
			Name:      "feed_request_duration_seconds",
			Help:      "Upstream feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		EventsPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_feed",
			Name:      "events_published",
			Help:      "Number of events in the currently published set.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_feed",
			Name:      "scheduler_running",
			Help:      "1 when the refresh scheduler is active, 0 when shut down.",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_feed",
			Name:      "sink_errors_total",
			Help:      "Failures forwarding a published event set to a sink.",
		}),
		RateLimitRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_feed",
			Name:      "ratelimit_remaining",
			Help:      "Fetch attempts still admitted in the current window.",
		}),
		CooldownSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_feed",
			Name:      "ratelimit_cooldown_seconds",
			Help:      "Seconds left in the active cooldown, 0 when none.",
		}),
	}

	prometheus.MustRegister(
		m.FetchAttempts,
		m.FetchResults,
		m.FeedRequests,
		m.FeedRequestDuration,
		m.EventsPublished,
		m.SchedulerRunning,
		m.SinkErrors,
		m.RateLimitRemaining,
		m.CooldownSeconds,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FetchAttempts:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "quake_feed", Name: "fetch_attempts_total"}, []string{"trigger", "outcome"}),
		FetchResults:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "quake_feed", Name: "fetch_results_total"}, []string{"trigger", "result"}),
		FeedRequests:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "quake_feed", Name: "feed_requests_total"}, []string{"code"}),
		FeedRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "quake_feed", Name: "feed_request_duration_seconds"}),
		EventsPublished:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "quake_feed", Name: "events_published"}),
		SchedulerRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "quake_feed", Name: "scheduler_running"}),
		SinkErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "quake_feed", Name: "sink_errors_total"}),
		RateLimitRemaining:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "quake_feed", Name: "ratelimit_remaining"}),
		CooldownSeconds:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "quake_feed", Name: "ratelimit_cooldown_seconds"}),
	}
}
