// Package metrics provides Prometheus metrics for the compliance service
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

const namespace = "esg"

// Metrics holds every collector of the service. It satisfies workflow.Observer
// and pipeline.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Workflow
	StateTransitions *prometheus.CounterVec
	StateDuration    *prometheus.HistogramVec
	StatesInFlight   *prometheus.GaugeVec
	Retries          *prometheus.CounterVec

	// Pipeline outcomes
	IssuesTotal *prometheus.CounterVec
	RunsTotal   *prometheus.CounterVec
	QueueDepth  prometheus.Gauge

	// Model backend
	LLMRequests *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec

	// Edges
	GrpcRequestsTotal   *prometheus.CounterVec
	GrpcRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.StateTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_state_transitions_total",
			Help:      "State exits by machine, state and outcome.",
		},
		[]string{"machine", "state", "outcome"},
	)
	m.StateDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_state_duration_seconds",
			Help:      "Time spent in a state, retries included.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"machine", "state"},
	)
	m.StatesInFlight = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_states_in_flight",
			Help:      "States currently executing.",
		},
		[]string{"machine", "state"},
	)
	m.Retries = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_retries_total",
			Help:      "Task retries after a throttled attempt.",
		},
		[]string{"machine", "state"},
	)

	m.IssuesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_resolved_total",
			Help:      "Findings by how they were rated: exact, fallback, observation or skipped.",
		},
		[]string{"resolution"},
	)
	m.RunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		},
		[]string{"outcome"},
	)
	m.QueueDepth = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_queue_depth",
			Help:      "Runs waiting for a worker.",
		},
	)

	m.LLMRequests = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model backend round trips by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	m.LLMDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model backend latency.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	m.GrpcRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)
	m.GrpcRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "Duration of gRPC requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) StateEntered(machine, state string) {
	m.StatesInFlight.WithLabelValues(machine, state).Inc()
}

func (m *Metrics) StateExited(machine, state string, elapsed time.Duration, err error) {
	m.StatesInFlight.WithLabelValues(machine, state).Dec()
	m.StateTransitions.WithLabelValues(machine, state, Outcome(err)).Inc()
	m.StateDuration.WithLabelValues(machine, state).Observe(elapsed.Seconds())
}

func (m *Metrics) Retried(machine, state string, _ int, _ error) {
	m.Retries.WithLabelValues(machine, state).Inc()
}

func (m *Metrics) IssuesResolved(resolution string, n int) {
	if n <= 0 {
		return
	}
	m.IssuesTotal.WithLabelValues(resolution).Add(float64(n))
}

func (m *Metrics) RunFinished(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLLM matches the openai client observer hook.
func (m *Metrics) ObserveLLM(op, outcome string, elapsed time.Duration) {
	m.LLMRequests.WithLabelValues(op, outcome).Inc()
	m.LLMDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPRequest(route string, code int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Outcome buckets an error into a small label set.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrThroughputExceeded):
		return "throttled"
	case errors.Is(err, common.ErrRunTimeout):
		return "timeout"
	case common.IsFatal(err):
		return "fatal"
	default:
		return "error"
	}
}
