package orchestrator

import (
	"context"
	"sync"
	"time"

	"brainctl/internal/config"
	"brainctl/internal/metrics"
	"brainctl/internal/runtime"
)

// Reset restarts the targeted nodes to flush device memory, re-probes them
// and verifies the device actually let go. ids empty means the whole
// fleet. rewarm re-runs the pre-warm after the restart; by default a reset
// leaves nodes Ready with nothing resident.
func (o *Orchestrator) Reset(ctx context.Context, ids []string, rewarm bool) (Report, error) {
	targets, err := o.targetDescs(ids)
	if err != nil {
		return Report{}, err
	}
	release, err := o.acquire(ctx, "reset")
	if err != nil {
		return Report{}, err
	}
	defer release()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowTimeout())
	defer cancel()

	targetIDs := make([]string, 0, len(targets))
	for _, desc := range targets {
		targetIDs = append(targetIDs, desc.ID)
	}
	states := o.resetStates(targetIDs)

	var wg sync.WaitGroup
	for _, desc := range targets {
		wg.Add(1)
		go func(desc config.NodeDescriptor) {
			defer wg.Done()
			o.resetNode(ctx, desc, states[desc.ID], rewarm)
		}(desc)
	}
	wg.Wait()

	report := o.buildReport("reset", targetIDs, start)
	o.finishWorkflow(report)
	return report, nil
}

// resetNode restarts one node's container in place. A node whose container
// is gone gets the full start path instead.
func (o *Orchestrator) resetNode(ctx context.Context, desc config.NodeDescriptor, st *NodeState, rewarm bool) {
	running, err := o.rt.IsRunning(ctx, desc.ID)
	if err == nil && !running {
		o.log.Warn().Str("node", desc.ID).Msg("reset target not running, starting from scratch")
		o.bringNodeUp(ctx, desc, st, rewarm)
		return
	}
	if err := o.transition(st, PhaseStarting); err != nil {
		o.fail(st, err)
		return
	}
	if err := o.rt.Restart(ctx, desc.ID); err != nil {
		o.fail(st, err)
		return
	}
	o.mu.Lock()
	st.StartedAt = time.Now()
	o.mu.Unlock()
	if err := o.transition(st, PhaseHealthChecking); err != nil {
		o.fail(st, err)
		return
	}
	probeStart := time.Now()
	if err := o.prober.WaitReady(ctx, desc.ID, o.engines(desc)); err != nil {
		o.fail(st, err)
		return
	}
	metrics.ProbeDuration.WithLabelValues(desc.ID).Observe(time.Since(probeStart).Seconds())
	if err := o.transition(st, PhaseReady); err != nil {
		o.fail(st, err)
		return
	}
	o.verifyReclaimed(ctx, desc)
	if rewarm {
		o.launchWarmup(ctx, desc, st)
	}
}

// verifyReclaimed checks residual device memory after a reset. The engine
// holds a small baseline even with nothing loaded, so usage is compared
// against a tolerance rather than zero. Exceeding it is reported, not
// fatal: the node serves fine, the operator decides what to do about the
// leak.
func (o *Orchestrator) verifyReclaimed(ctx context.Context, desc config.NodeDescriptor) {
	if o.gpu == nil || desc.GPUDevice == "" {
		return
	}
	usedMB, err := o.gpu.MemoryUsedMB(ctx, desc.GPUDevice)
	if err != nil {
		o.log.Warn().Err(err).Str("node", desc.ID).Str("device", desc.GPUDevice).Msg("device memory query failed")
		return
	}
	if usedMB > o.cfg.ResetVRAMToleranceMB {
		o.pub.Publish(Event{Name: "vram_not_reclaimed", NodeID: desc.ID, Fields: map[string]any{
			"device":       desc.GPUDevice,
			"used_mb":      usedMB,
			"tolerance_mb": o.cfg.ResetVRAMToleranceMB,
		}})
		o.log.Warn().Str("node", desc.ID).Str("device", desc.GPUDevice).
			Int("used_mb", usedMB).Int("tolerance_mb", o.cfg.ResetVRAMToleranceMB).
			Msg("device memory not reclaimed after reset")
		return
	}
	o.log.Info().Str("node", desc.ID).Str("device", desc.GPUDevice).Int("used_mb", usedMB).Msg("device memory reclaimed")
}

// ResetNode is the single-node entry used by the HTTP API.
func (o *Orchestrator) ResetNode(ctx context.Context, id string, rewarm bool) error {
	report, err := o.Reset(ctx, []string{id}, rewarm)
	if err != nil {
		return err
	}
	return report.FirstError()
}

// StopNode stops one node's container without touching the others. An API
// stop holds under the unless-stopped restart policy, so the container
// stays down until the next workflow.
func (o *Orchestrator) StopNode(ctx context.Context, id string) error {
	if _, ok := o.cfg.Node(id); !ok {
		return ErrUnknownNode(id)
	}
	if err := o.rt.Stop(ctx, id); err != nil {
		return runtime.ErrStartFailure(id, err)
	}
	o.mu.Lock()
	if st, ok := o.states[id]; ok {
		st.Phase = PhaseAbsent
		st.Warm = false
		st.Err = nil
		st.WarmupErr = nil
	}
	o.mu.Unlock()
	metrics.SetNodePhase(id, string(PhaseAbsent), phaseNames())
	o.updateReadyGauge()
	o.log.Info().Str("node", id).Msg("node stopped")
	return nil
}

// Down stops every node's container. Best effort: the first error is
// returned after all stops were attempted.
func (o *Orchestrator) Down(ctx context.Context) error {
	release, err := o.acquire(ctx, "down")
	if err != nil {
		return err
	}
	defer release()
	var firstErr error
	for _, desc := range o.cfg.Nodes {
		if err := o.StopNode(ctx, desc.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.log.Warn().Err(err).Str("node", desc.ID).Msg("stop failed")
		}
	}
	outcome := "ok"
	if firstErr != nil {
		outcome = "error"
	}
	metrics.WorkflowRuns.WithLabelValues("down", outcome).Inc()
	return firstErr
}
