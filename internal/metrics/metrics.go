package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "workflow_runs_total",
			Help:      "Workflow executions by name and outcome",
		},
		[]string{"workflow", "outcome"},
	)

	NodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "node_failures_total",
			Help:      "Nodes that reached the failed phase, by reason",
		},
		[]string{"node", "reason"},
	)

	NodePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "node_phase",
			Help:      "Current lifecycle phase per node (1 = active phase)",
		},
		[]string{"node", "phase"},
	)

	NodesReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "nodes_ready",
			Help:      "Nodes currently serving (ready phase or beyond)",
		},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "probe_duration_seconds",
			Help:      "Time from container start to first successful health check",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 11),
		},
		[]string{"node"},
	)

	WarmupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "warmup_duration_seconds",
			Help:      "Duration of model pre-warm calls",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"node", "outcome"},
	)

	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "lock_contention_total",
			Help:      "Workflow attempts that found the orchestration lock held",
		},
	)

	ModelPulls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "orchestrator",
			Name:      "model_pulls_total",
			Help:      "Registry pulls executed inside nodes, by outcome",
		},
		[]string{"node", "outcome"},
	)

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Volume reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	SyncFilesCopied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "sync",
			Name:      "files_copied_total",
			Help:      "Files copied by volume reconciliation",
		},
	)

	SyncBytesCopied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "sync",
			Name:      "bytes_copied_total",
			Help:      "Bytes copied by volume reconciliation",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkflowRuns,
		NodeFailures,
		NodePhase,
		NodesReady,
		ProbeDuration,
		WarmupDuration,
		LockContention,
		ModelPulls,
		SyncRuns,
		SyncFilesCopied,
		SyncBytesCopied,
	)
}

// SetNodePhase marks phase active for node and clears every other phase in
// all, keeping the gauge a one-hot vector per node.
func SetNodePhase(node, phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		NodePhase.WithLabelValues(node, p).Set(v)
	}
}
