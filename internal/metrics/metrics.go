// Package metrics holds the broker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "batchbroker"

var (
	Registry = prometheus.NewRegistry()

	AdmissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_decisions_total",
		Help:      "Admission checks by outcome.",
	}, []string{"outcome"})

	LedgerUnits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_units_total",
		Help:      "Token units moved by the batch lifecycle, by direction and reason.",
	}, []string{"direction", "reason"})

	BatchSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_submissions_total",
		Help:      "Batch submissions by outcome.",
	}, []string{"outcome"})

	BatchTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_terminal_transitions_total",
		Help:      "First observed terminal transitions by status.",
	}, []string{"status"})

	ProviderRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_retries_total",
		Help:      "Provider call retries by operation.",
	}, []string{"op"})

	TelemetryQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "telemetry_queue_depth",
		Help:      "Observations waiting for the telemetry writer.",
	})

	TelemetryWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_writes_total",
		Help:      "Telemetry sample writes by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		AdmissionDecisions,
		LedgerUnits,
		BatchSubmissions,
		BatchTransitions,
		ProviderRetries,
		TelemetryQueueDepth,
		TelemetryWrites,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
