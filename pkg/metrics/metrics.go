// Package metrics exposes replay and analysis counters over Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "traceoor"

// Collectors holds every counter the analyses update. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	Registry *prometheus.Registry

	events         *prometheus.CounterVec
	packets        *prometheus.CounterVec
	corruptFiles   prometheus.Counter
	decodeFailures *prometheus.CounterVec
	lockFailures   *prometheus.CounterVec
	slotsBuilt     prometheus.Counter
	graphNodes     prometheus.Counter
	graphEdges     prometheus.Counter
	graphLayers    prometheus.Histogram
}

// New creates the collectors and registers them, along with the Go runtime
// collectors, in a dedicated registry.
func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_events_total",
			Help:      "Trace events replayed, by kind.",
		}, []string{"kind"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_packets_total",
			Help:      "Packets replayed, by channel.",
		}, []string{"channel"}),
		corruptFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_corrupt_files_total",
			Help:      "Trace files whose tail was skipped because of a malformed frame.",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_decode_failures_total",
			Help:      "Packets that did not decode as a valid transaction, by analysis.",
		}, []string{"analysis"}),
		lockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_lock_failures_total",
			Help:      "Transactions whose account locks could not be resolved, by analysis.",
		}, []string{"analysis"}),
		slotsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_slots_total",
			Help:      "Slot conflict graphs built.",
		}),
		graphNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_nodes_total",
			Help:      "Transactions scheduled into conflict graphs.",
		}),
		graphEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_edges_total",
			Help:      "Blocking edges surfaced while draining conflict graphs.",
		}),
		graphLayers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_layers",
			Help:      "Number of ready layers per slot conflict graph.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.events,
		c.packets,
		c.corruptFiles,
		c.decodeFailures,
		c.lockFailures,
		c.slotsBuilt,
		c.graphNodes,
		c.graphEdges,
		c.graphLayers,
	)

	return c
}

// ObserveEvent counts one replayed event.
func (c *Collectors) ObserveEvent(kind string) {
	if c == nil {
		return
	}

	c.events.WithLabelValues(kind).Inc()
}

// ObservePackets counts replayed packets.
func (c *Collectors) ObservePackets(channel string, n int) {
	if c == nil {
		return
	}

	c.packets.WithLabelValues(channel).Add(float64(n))
}

// ObserveCorruptFile counts a trace file with a malformed frame.
func (c *Collectors) ObserveCorruptFile() {
	if c == nil {
		return
	}

	c.corruptFiles.Inc()
}

// DecodeFailed counts a packet that did not decode.
func (c *Collectors) DecodeFailed(analysis string) {
	if c == nil {
		return
	}

	c.decodeFailures.WithLabelValues(analysis).Inc()
}

// LocksFailed counts a transaction whose locks could not be resolved.
func (c *Collectors) LocksFailed(analysis string) {
	if c == nil {
		return
	}

	c.lockFailures.WithLabelValues(analysis).Inc()
}

// GraphBuilt records one drained slot graph.
func (c *Collectors) GraphBuilt(nodes, edges, layers int) {
	if c == nil {
		return
	}

	c.slotsBuilt.Inc()
	c.graphNodes.Add(float64(nodes))
	c.graphEdges.Add(float64(edges))
	c.graphLayers.Observe(float64(layers))
}
