// Package metrics defines the process's prometheus collectors. One
// Metrics value is built in main and threaded to the workers that
// record into it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PacketsIngested    *prometheus.CounterVec
	MalformedPackets   prometheus.Counter
	StoreWriteFailures prometheus.Counter

	RelayResolutions *prometheus.CounterVec

	ProbesSent        *prometheus.CounterVec
	ProbeSendFailures *prometheus.CounterVec
	AttemptsTimedOut  *prometheus.CounterVec

	EdgesDeactivated prometheus.Counter

	SnapshotsUploaded prometheus.Counter
	SnapshotFailures  prometheus.Counter
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshwatch_packets_ingested_total",
			Help: "Packets accepted by the ingest pipeline, by port.",
		}, []string{"port"}),
		MalformedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshwatch_packets_malformed_total",
			Help: "Packets dropped for missing required fields.",
		}),
		StoreWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshwatch_store_write_failures_total",
			Help: "Store write operations abandoned after an error.",
		}),
		RelayResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshwatch_relay_resolutions_total",
			Help: "Relay attribution outcomes.",
		}, []string{"outcome"}),
		ProbesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshwatch_probes_sent_total",
			Help: "Probe requests submitted to the radio, by kind.",
		}, []string{"kind"}),
		ProbeSendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshwatch_probe_send_failures_total",
			Help: "Probe submissions rejected by the radio, by kind.",
		}, []string{"kind"}),
		AttemptsTimedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshwatch_probe_attempts_timed_out_total",
			Help: "Pending probe attempts flipped to timeout, by kind.",
		}, []string{"kind"}),
		EdgesDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshwatch_topology_edges_deactivated_total",
			Help: "Edges marked inactive by the staleness sweep.",
		}),
		SnapshotsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshwatch_snapshots_uploaded_total",
			Help: "Federated snapshots delivered.",
		}),
		SnapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshwatch_snapshot_failures_total",
			Help: "Federated snapshot uploads that exhausted retries.",
		}),
	}
}
