// Package telemetry holds the executor's Prometheus metrics and tracing setup.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts runs, capability invocations and consensus outcomes.
// It implements capability.Observer and consensus.Observer.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	invocations *prometheus.CounterVec
	consensus   *prometheus.CounterVec
}

// NewMetrics registers the executor metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_runs_total",
			Help: "Settlement runs by terminal stage and failure kind.",
		}, []string{"stage", "kind"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_capability_invocations_total",
			Help: "Capability invocations accepted by a gateway, by target.",
		}, []string{"target"}),
		consensus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_consensus_total",
			Help: "Fan-out aggregation outcomes.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.runs, m.invocations, m.consensus)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun counts a finished run. kind is empty for success.
func (m *Metrics) ObserveRun(stage, kind string) {
	if kind == "" {
		kind = "none"
	}
	m.runs.WithLabelValues(stage, kind).Inc()
}

// ObserveInvocation counts a capability invocation.
func (m *Metrics) ObserveInvocation(target, _ string) {
	m.invocations.WithLabelValues(target).Inc()
}

// ObserveConsensus counts an aggregation outcome.
func (m *Metrics) ObserveConsensus(status string) {
	m.consensus.WithLabelValues(status).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
