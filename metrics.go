// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	accounts    *prometheus.GaugeVec
	callsActive prometheus.Gauge
	callsTotal  *prometheus.CounterVec
	eventsTotal *prometheus.CounterVec
	eventQueue  prometheus.Gauge
}

// newMetrics creates collectors. They are registered only when reg is not nil,
// but are always usable.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sipua",
			Name:      "accounts",
			Help:      "Number of accounts per registration state",
		}, []string{"state"}),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Name:      "calls_active",
			Help:      "Number of calls not yet terminated",
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "calls_total",
			Help:      "Total number of created calls",
		}, []string{"direction"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "events_total",
			Help:      "Total number of events delivered to observer",
		}, []string{"kind"}),
		eventQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipua",
			Name:      "event_queue_depth",
			Help:      "Events waiting for delivery",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.accounts, m.callsActive, m.callsTotal, m.eventsTotal, m.eventQueue)
	}
	return m
}

func (m *metrics) accountAdded(s RegState) {
	m.accounts.WithLabelValues(s.String()).Inc()
}

func (m *metrics) accountRemoved(s RegState) {
	m.accounts.WithLabelValues(s.String()).Dec()
}

func (m *metrics) accountState(from RegState, to RegState) {
	if from == to {
		return
	}
	m.accounts.WithLabelValues(from.String()).Dec()
	m.accounts.WithLabelValues(to.String()).Inc()
}

func (m *metrics) callCreated(dir Direction) {
	m.callsTotal.WithLabelValues(dir.String()).Inc()
	m.callsActive.Inc()
}

func (m *metrics) callTerminated() {
	m.callsActive.Dec()
}

func (m *metrics) eventDelivered(k EventKind) {
	m.eventsTotal.WithLabelValues(k.String()).Inc()
}

func (m *metrics) queueDepth(n int) {
	m.eventQueue.Set(float64(n))
}
