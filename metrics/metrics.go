// Package metrics exposes Prometheus collectors for the packet
// transport pipeline. Collectors register on the default registry via
// promauto; cmd/solacelive serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solacelive"

var (
	// PacketsReceived counts every packet accepted by a jitter buffer
	// or lane queue.
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_received_total",
		Help:      "Packets accepted into the receive pipeline.",
	})

	// PacketsDropped counts drops by reason: buffer_overflow,
	// ttl_expired, duplicate, corrupt, disposed.
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_dropped_total",
		Help:      "Packets dropped by the receive pipeline, by reason.",
	}, []string{"reason"})

	// PacketsDispatched counts packets delivered to event listeners,
	// by stream.
	PacketsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_dispatched_total",
		Help:      "Packets dispatched to listeners, by stream.",
	}, []string{"stream"})

	// SequenceGaps counts newly detected missing sequence numbers.
	SequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_gaps_total",
		Help:      "Missing sequence numbers detected.",
	})

	// RetransmitRequests counts retransmit requests raised.
	RetransmitRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retransmit_requests_total",
		Help:      "Retransmit requests raised for persistent gaps.",
	})

	// JitterTargetDelay tracks the adaptive target delay per stream.
	JitterTargetDelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jitter_target_delay_ms",
		Help:      "Current jitter buffer target delay in milliseconds.",
	}, []string{"stream"})

	// JitterOccupancy tracks buffered packet counts per stream.
	JitterOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jitter_occupancy",
		Help:      "Packets currently held in the jitter buffer.",
	}, []string{"stream"})

	// OverlapsDetected counts speech overlap windows observed by the
	// stream synchronizer.
	OverlapsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "overlap_detected_total",
		Help:      "Cross-stream speech overlaps detected.",
	})
)
