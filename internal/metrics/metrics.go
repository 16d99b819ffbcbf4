// Package metrics exposes Prometheus instrumentation for the telemetry
// endpoint. A nil *Stats is valid and records nothing, so callers never
// have to branch on whether instrumentation is wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats aggregates the endpoint's counters and gauges.
type Stats struct {
	activeConnections prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	anomaliesTotal    *prometheus.CounterVec
	stopCommandsTotal prometheus.Counter
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chargewatch",
			Name:      "active_connections",
			Help:      "Number of live station sessions.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "messages_total",
			Help:      "Inbound protocol messages by type.",
		}, []string{"type"}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "anomalies_total",
			Help:      "Detected anomalies by code.",
		}, []string{"code"}),
		stopCommandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "stop_commands_total",
			Help:      "STOP_CHARGE commands issued to stations.",
		}),
	}

	reg.MustRegister(s.activeConnections, s.messagesTotal, s.anomaliesTotal, s.stopCommandsTotal)
	return s
}

// ConnectionOpened notes a new live session.
func (s *Stats) ConnectionOpened() {
	if s == nil {
		return
	}
	s.activeConnections.Inc()
}

// ConnectionClosed notes a finished session.
func (s *Stats) ConnectionClosed() {
	if s == nil {
		return
	}
	s.activeConnections.Dec()
}

// MessageReceived counts an inbound message by type.
func (s *Stats) MessageReceived(msgType string) {
	if s == nil {
		return
	}
	s.messagesTotal.WithLabelValues(msgType).Inc()
}

// AnomalyDetected counts an anomaly by code.
func (s *Stats) AnomalyDetected(code string) {
	if s == nil {
		return
	}
	s.anomaliesTotal.WithLabelValues(code).Inc()
}

// StopIssued counts a STOP_CHARGE command.
func (s *Stats) StopIssued() {
	if s == nil {
		return
	}
	s.stopCommandsTotal.Inc()
}
