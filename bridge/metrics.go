// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

const namespace = "admin_bridge"

type metrics struct {
	commands   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	events     prometheus.Counter
	reconnects prometheus.Counter
	inbound    prometheus.Gauge
	outbound   prometheus.Gauge
	pending    prometheus.Gauge
	state      prometheus.Gauge
}

// newMetrics creates the bridge metrics and registers them with reg when it
// is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_responses_total",
			Help:      "Responses queued for commands, by result.",
		}, []string{"result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound envelopes that were rejected or aged out.",
		}, []string{"reason"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events queued for the control plane.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connections established after the first one.",
		}),
		inbound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_queue_length",
			Help:      "Envelopes waiting for the host loop.",
		}),
		outbound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_length",
			Help:      "Envelopes waiting for the wire.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "Commands dispatched and not answered yet.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 closing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.dropped, m.events, m.reconnects,
			m.inbound, m.outbound, m.pending, m.state)
	}

	return m
}

func (m *metrics) observe(code protocol.ErrorCode) {
	result := "ok"
	if code != "" {
		result = string(code)
	}
	m.commands.WithLabelValues(result).Inc()
}
