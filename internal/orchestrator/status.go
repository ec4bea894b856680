package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"brainctl/internal/metrics"
	"brainctl/pkg/types"
)

// Status snapshots the fleet for GET /status. Nodes are sorted by id.
func (o *Orchestrator) Status() types.StatusResponse {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.states))
	for id := range o.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make([]types.NodeStatus, 0, len(ids))
	for _, id := range ids {
		st := o.states[id]
		ns := types.NodeStatus{
			ID:          id,
			Phase:       string(st.Phase),
			ContainerID: st.ContainerID,
			Warm:        st.Warm,
		}
		if desc, ok := o.cfg.Node(id); ok {
			ns.GPUDevice = desc.GPUDevice
			ns.HostPort = desc.HostPort
		}
		if !st.StartedAt.IsZero() {
			ns.StartedAt = st.StartedAt.Unix()
		}
		if st.Err != nil {
			ns.Error = st.Err.Error()
		}
		if st.WarmupErr != nil {
			ns.WarmupError = st.WarmupErr.Error()
		}
		nodes = append(nodes, ns)
	}
	return types.StatusResponse{
		Nodes:          nodes,
		Overall:        string(o.overallLocked()),
		Workflow:       o.workflow,
		UptimeSeconds:  int64(time.Since(o.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

// overallLocked aggregates node phases. Callers hold at least a read lock.
func (o *Orchestrator) overallLocked() Overall {
	if !o.ranOnce || len(o.states) == 0 {
		return OverallIdle
	}
	var failed, degraded, pending bool
	for _, st := range o.states {
		switch {
		case st.Phase == PhaseFailed:
			failed = true
		case !st.Phase.Serving():
			pending = true
		}
		if st.WarmupErr != nil {
			degraded = true
		}
	}
	switch {
	case pending:
		return OverallPending
	case failed:
		return OverallFailed
	case degraded:
		return OverallDegraded
	}
	return OverallOK
}

// Nodes lists the configured descriptors for GET /nodes.
func (o *Orchestrator) Nodes() []types.NodeSummary {
	out := make([]types.NodeSummary, 0, len(o.cfg.Nodes))
	for _, desc := range o.cfg.Nodes {
		out = append(out, types.NodeSummary{
			ID:        desc.ID,
			Image:     desc.Image,
			GPUDevice: desc.GPUDevice,
			HostPort:  desc.HostPort,
			Models:    desc.Models,
		})
	}
	return out
}

// Ready reports whether every node is serving, for the readiness endpoint.
// A fleet that never ran a workflow is not ready.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.ranOnce || len(o.states) == 0 {
		return false
	}
	for _, st := range o.states {
		if !st.Phase.Serving() {
			return false
		}
	}
	return true
}

// WarmupNode runs the pre-warm for one node synchronously, as triggered by
// POST /nodes/{id}/warmup. A Ready node that warms cleanly is promoted to
// Hydrated and any recorded warm-up degradation is cleared.
func (o *Orchestrator) WarmupNode(ctx context.Context, id string) error {
	desc, ok := o.cfg.Node(id)
	if !ok {
		return ErrUnknownNode(id)
	}
	release, err := o.acquire(ctx, "warmup")
	if err != nil {
		return err
	}
	defer release()
	running, err := o.rt.IsRunning(ctx, id)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("warmup %s: container not running", id)
	}
	start := time.Now()
	warmErr := o.warmer.Run(ctx, o.engines(desc), desc)
	outcome := "ok"
	if warmErr != nil {
		outcome = "error"
	}
	metrics.WarmupDuration.WithLabelValues(id, outcome).Observe(time.Since(start).Seconds())

	o.mu.Lock()
	st := o.states[id]
	var promote bool
	if st != nil {
		if warmErr == nil {
			st.Warm = true
			st.WarmupErr = nil
			promote = st.Phase == PhaseReady || st.Phase == PhaseWarmingUp
		} else {
			st.WarmupErr = warmErr
		}
	}
	o.mu.Unlock()
	if promote {
		if terr := o.transition(st, PhaseHydrated); terr != nil {
			o.log.Warn().Err(terr).Str("node", id).Msg("phase not advanced after manual warm-up")
		}
	}
	return warmErr
}

// LiveNode is one node's live probe result for the one-shot status command.
type LiveNode struct {
	ID      string
	Running bool
	Serving bool
	Models  []string
}

// InspectLive probes the fleet directly instead of reading workflow state,
// so the status command works from a fresh process with no server running.
func (o *Orchestrator) InspectLive(ctx context.Context) []LiveNode {
	out := make([]LiveNode, 0, len(o.cfg.Nodes))
	for _, desc := range o.cfg.Nodes {
		ln := LiveNode{ID: desc.ID}
		if running, err := o.rt.IsRunning(ctx, desc.ID); err == nil {
			ln.Running = running
		}
		if ln.Running {
			eng := o.engines(desc)
			pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout())
			if eng.Ping(pctx) == nil {
				ln.Serving = true
				if names, err := eng.Models(pctx); err == nil {
					ln.Models = names
				}
			}
			cancel()
		}
		out = append(out, ln)
	}
	return out
}
