// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics instruments a running Looper/MessageQueue/CircularBuffer
// set with Prometheus collectors: queue depth, dispatch counts and
// latency, and ring-buffer peak occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the metrics exposed by a single running Looper. Each
// field is a distinct registered collector; callers register them once
// (typically via MustRegisterAll) and then feed them from the dispatch
// loop and producer/consumer code.
type Collectors struct {
	QueueDepth         prometheus.Gauge
	MessagesDispatched prometheus.Counter
	DispatchLatency    prometheus.Histogram
	RingPeakBytes      prometheus.Gauge
}

// NewCollectors constructs a Collectors set whose metric names are
// prefixed with "looper_" and labelled with the supplied looper id, so
// multiple Loopers in one process can be told apart in scraped output.
func NewCollectors(looperID string) *Collectors {
	labels := prometheus.Labels{"looper_id": looperID}
	return &Collectors{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "looper_queue_depth",
			Help:        "Current number of pending messages in a Looper's MessageQueue.",
			ConstLabels: labels,
		}),
		MessagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "looper_messages_dispatched_total",
			Help:        "Total number of messages dispatched by a Looper.",
			ConstLabels: labels,
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "looper_dispatch_latency_seconds",
			Help:        "Time from a message becoming due to its handler's Dispatch returning.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RingPeakBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "looper_ring_peak_bytes",
			Help:        "Largest occupancy observed in a CircularBuffer, in bytes.",
			ConstLabels: labels,
		}),
	}
}

// MustRegisterAll registers every collector with reg. It panics if any
// collector is already registered, mirroring prometheus.MustRegister's own
// behavior, since a double-registration is a programming error.
func (c *Collectors) MustRegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(c.QueueDepth, c.MessagesDispatched, c.DispatchLatency, c.RingPeakBytes)
}

// ObserveDispatch records one dispatch that took d to run, and bumps the
// dispatched-message counter.
func (c *Collectors) ObserveDispatch(d time.Duration) {
	c.MessagesDispatched.Inc()
	c.DispatchLatency.Observe(d.Seconds())
}
