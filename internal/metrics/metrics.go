package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubl_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ubl_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubl_messages_sent_total",
			Help: "Total messages accepted by room coordinators",
		},
		[]string{"type"}, // "text" or "system"
	)

	AtomsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubl_atoms_appended_total",
			Help: "Total atoms appended to ledger shards",
		},
		[]string{"kind"}, // "action.v1" or "effect.v1"
	)

	DuplicateAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ubl_duplicate_appends_total",
			Help: "Total appendAtom calls answered from the dedup map",
		},
	)

	// The action atom stays committed when the paired effect append fails;
	// this counter is the only way to see that asymmetry happening.
	EffectAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ubl_effect_append_failures_total",
			Help: "Total effect atoms that failed to append after their action committed",
		},
	)

	IndexMirrorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ubl_index_mirror_failures_total",
			Help: "Total best-effort span mirror writes that failed",
		},
	)

	SSESubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ubl_sse_subscribers",
			Help: "Currently connected SSE subscribers",
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubl_tool_calls_total",
			Help: "Total JSON-RPC tool calls",
		},
		[]string{"tool", "outcome"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubl_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
