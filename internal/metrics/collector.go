// Package meshmetrics provides the Prometheus Collector that implements
// mesh.MetricsSink.
package meshmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "meshnode"
	subsystem = "transport"
)

const labelReason = "reason"

// Collector holds all mesh transport Prometheus metrics and implements
// mesh.MetricsSink.
type Collector struct {
	// FramesProcessedTotal counts every frame that reached the dispatch
	// switch in Process (parsed and, if required, verified).
	FramesProcessedTotal prometheus.Counter

	// FramesDroppedTotal counts frames rejected before dispatch, labeled
	// by drop reason (malformed, version-mismatch, unsigned,
	// bad-signature).
	FramesDroppedTotal *prometheus.CounterVec

	// RoutesLearnedTotal counts successful RoutingTable.Learn calls made
	// by the processing loop for frames addressed to this node, including
	// calls that left the entry unchanged. Routes learned by SendRoute are
	// not counted.
	RoutesLearnedTotal prometheus.Counter

	// SigningSucceededTotal and SigningFailedTotal count the outcome of
	// the nonce-signing coordinator.
	SigningSucceededTotal prometheus.Counter
	SigningFailedTotal    prometheus.Counter

	// OTABlocksReceivedTotal, OTACompletedTotal and OTAAbortedTotal track
	// the firmware download session lifecycle.
	OTABlocksReceivedTotal prometheus.Counter
	OTACompletedTotal      prometheus.Counter
	OTAAbortedTotal        prometheus.Counter

	// DiscoveryRunsTotal counts FindParent invocations.
	DiscoveryRunsTotal prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FramesProcessedTotal,
		c.FramesDroppedTotal,
		c.RoutesLearnedTotal,
		c.SigningSucceededTotal,
		c.SigningFailedTotal,
		c.OTABlocksReceivedTotal,
		c.OTACompletedTotal,
		c.OTAAbortedTotal,
		c.DiscoveryRunsTotal,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		FramesProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_processed_total",
			Help:      "Total inbound frames that passed parsing and verification.",
		}),
		FramesDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames dropped before dispatch, by reason.",
		}, []string{labelReason}),
		RoutesLearnedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes_learned_total",
			Help:      "Total routing table entries learned or updated.",
		}),
		SigningSucceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signing_succeeded_total",
			Help:      "Total outbound signing handshakes that completed.",
		}),
		SigningFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signing_failed_total",
			Help:      "Total outbound signing handshakes that timed out.",
		}),
		OTABlocksReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ota_blocks_received_total",
			Help:      "Total firmware blocks written during OTA sessions.",
		}),
		OTACompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ota_completed_total",
			Help:      "Total OTA sessions that passed CRC verification and installed.",
		}),
		OTAAbortedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ota_aborted_total",
			Help:      "Total OTA sessions aborted (retry exhaustion, CRC mismatch, flash failure).",
		}),
		DiscoveryRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "discovery_runs_total",
			Help:      "Total parent discovery runs.",
		}),
	}
}

// FramesProcessed implements mesh.MetricsSink.
func (c *Collector) FramesProcessed() { c.FramesProcessedTotal.Inc() }

// FramesDropped implements mesh.MetricsSink.
func (c *Collector) FramesDropped(reason string) {
	c.FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// RouteLearned implements mesh.MetricsSink.
func (c *Collector) RouteLearned() { c.RoutesLearnedTotal.Inc() }

// SigningSucceeded implements mesh.MetricsSink.
func (c *Collector) SigningSucceeded() { c.SigningSucceededTotal.Inc() }

// SigningFailed implements mesh.MetricsSink.
func (c *Collector) SigningFailed() { c.SigningFailedTotal.Inc() }

// OTABlockReceived implements mesh.MetricsSink.
func (c *Collector) OTABlockReceived() { c.OTABlocksReceivedTotal.Inc() }

// OTACompleted implements mesh.MetricsSink.
func (c *Collector) OTACompleted() { c.OTACompletedTotal.Inc() }

// OTAAborted implements mesh.MetricsSink.
func (c *Collector) OTAAborted() { c.OTAAbortedTotal.Inc() }

// DiscoveryRun implements mesh.MetricsSink.
func (c *Collector) DiscoveryRun() { c.DiscoveryRunsTotal.Inc() }
