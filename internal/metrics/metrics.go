package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tracesReceived atomic.Int64

var (
	TracesReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_traces_replaced_total",
		Help: "Number of times a session's current trace was replaced",
	})

	TracesCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_traces_cleared_total",
		Help: "Number of reset actions that cleared a session's trace",
	})

	TraceTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_trace_tokens",
		Help:    "Distribution of input token counts per received trace",
		Buckets: []float64{1, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})

	ProjectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_projection_duration_seconds",
		Help:    "Time spent in PCA projection",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"outcome"})

	ProjectionVectors = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_projection_vectors",
		Help:    "Number of vectors per projection call",
		Buckets: []float64{1, 8, 32, 64, 128, 256, 512, 1024, 4096},
	})

	ProjectionDims = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_projection_dims",
		Help:    "Dimensionality of vectors per projection call",
		Buckets: []float64{1, 2, 16, 64, 256, 768, 1024, 2048, 4096},
	})

	StaleProjections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_projection_stale_total",
		Help: "Worker results discarded because a newer trace superseded them",
	})

	DegenerateInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_degenerate_input_total",
		Help: "Degenerate inputs recovered with a fallback value",
	}, []string{"kind"})

	SectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_section_failures_total",
		Help: "Sections that failed to assemble, by error code",
	}, []string{"section", "code"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected in received traces",
	}, []string{"tensor", "type"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_session_subscribers",
		Help: "Current number of trace change subscribers",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_sessions",
		Help: "Current number of live sessions",
	})

	ViewRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_view_requests_total",
		Help: "View model requests by section",
	}, []string{"section"})

	FlightPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_flight_push_total",
		Help: "Embedding batches pushed to the Flight sink",
	}, []string{"status"})
)

func RecordTraceReplaced(tokens int) {
	TracesReplaced.Inc()
	tracesReceived.Add(1)
	TraceTokens.Observe(float64(tokens))
}

func RecordTraceCleared() {
	TracesCleared.Inc()
}

// TracesReceived returns the process-wide number of traces accepted.
func TracesReceived() int64 {
	return tracesReceived.Load()
}

func RecordProjection(vectors, dims int, duration time.Duration, outcome string) {
	ProjectionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	ProjectionVectors.Observe(float64(vectors))
	ProjectionDims.Observe(float64(dims))
}

func RecordStaleProjection() {
	StaleProjections.Inc()
}

func RecordDegenerateInput(kind string) {
	DegenerateInputs.WithLabelValues(kind).Inc()
}

func RecordSectionFailure(section, code string) {
	SectionFailures.WithLabelValues(section, code).Inc()
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func AddSubscribers(delta int) {
	Subscribers.Add(float64(delta))
}

func SetSessions(n int) {
	Sessions.Set(float64(n))
}

func RecordViewRequest(section string) {
	ViewRequests.WithLabelValues(section).Inc()
}

func RecordFlightPush(ok bool) {
	FlightPushes.WithLabelValues(strconv.FormatBool(ok)).Inc()
}
