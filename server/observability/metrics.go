package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshCycles counts completed refresh cycles by outcome.
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendarbot_refresh_cycles_total",
		Help: "Total refresh cycles by outcome",
	}, []string{"outcome"}) // success, failure

	// RefreshDuration tracks how long a refresh cycle takes end to end.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendarbot_refresh_duration_seconds",
		Help:    "Duration of a full refresh cycle",
		Buckets: prometheus.DefBuckets,
	})

	// SourceFetchFailures counts exhausted fetches per source.
	SourceFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendarbot_source_fetch_failures_total",
		Help: "ICS fetches that failed after all retries",
	}, []string{"source"})

	// WindowSize is the current number of events in the window.
	WindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calendarbot_window_size",
		Help: "Current number of events in the upcoming-event window",
	})

	// SkipEntries is the current number of active skip entries.
	SkipEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calendarbot_skip_entries",
		Help: "Current number of active skip entries",
	})

	// MorningSummaryCache counts analyzer cache lookups by result.
	MorningSummaryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendarbot_morning_summary_cache_total",
		Help: "Morning summary cache lookups",
	}, []string{"result"}) // hit, miss

	// APIRateLimited counts requests rejected by the skip-endpoint limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendarbot_api_rate_limited_total",
		Help: "API requests rejected by the rate limiter",
	}, []string{"endpoint"})

	// WSClients is the current number of dashboard stream connections.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calendarbot_ws_clients",
		Help: "Currently connected dashboard stream clients",
	})
)
