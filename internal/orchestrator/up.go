package orchestrator

import (
	"context"
	"sync"
	"time"

	"brainctl/internal/config"
	"brainctl/internal/metrics"
	"brainctl/internal/runtime"
)

// Up brings the whole fleet from Absent to serving: clears stale
// containers, starts fresh ones, waits for health and fires pre-warms.
// Nodes progress concurrently; one node failing does not stop the others.
// The returned report carries per-node outcomes, Up itself errors only
// when the workflow cannot run at all (lock, cancellation).
func (o *Orchestrator) Up(ctx context.Context) (Report, error) {
	release, err := o.acquire(ctx, "up")
	if err != nil {
		return Report{}, err
	}
	defer release()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowTimeout())
	defer cancel()

	ids := make([]string, 0, len(o.cfg.Nodes))
	for _, desc := range o.cfg.Nodes {
		ids = append(ids, desc.ID)
	}
	states := o.resetStates(ids)

	var wg sync.WaitGroup
	for _, desc := range o.cfg.Nodes {
		wg.Add(1)
		go func(desc config.NodeDescriptor) {
			defer wg.Done()
			o.bringNodeUp(ctx, desc, states[desc.ID], true)
		}(desc)
	}
	wg.Wait()

	report := o.buildReport("up", ids, start)
	o.finishWorkflow(report)
	return report, nil
}

// bringNodeUp walks one node through Absent -> Starting -> HealthChecking
// -> Ready, then hands off to the warm-up stage. warm disables the pre-warm
// when false, jumping straight to Hydrated.
func (o *Orchestrator) bringNodeUp(ctx context.Context, desc config.NodeDescriptor, st *NodeState, warm bool) {
	if err := o.rt.EnsureAbsent(ctx, desc.ID); err != nil {
		o.fail(st, runtime.ErrStartFailure(desc.ID, err))
		return
	}
	if err := o.rt.EnsureNoPortConflict(ctx, desc.HostPort); err != nil {
		o.fail(st, runtime.ErrStartFailure(desc.ID, err))
		return
	}
	if err := o.transition(st, PhaseStarting); err != nil {
		o.fail(st, err)
		return
	}
	containerID, err := o.rt.Start(ctx, desc)
	if err != nil {
		o.fail(st, err)
		return
	}
	o.mu.Lock()
	st.ContainerID = containerID
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
	if !warm {
		return
	}
	o.launchWarmup(ctx, desc, st)
}

// launchWarmup moves st to WarmingUp and runs the pre-warm on its own
// goroutine so readiness is never held hostage by model load time. The
// warm-up is detached from the caller's deadline and cancellation: a reset
// over HTTP must not lose its re-warm when the request ends. Only the
// warm-up's own timeout bounds it. A node with no warm-up target is
// Hydrated immediately.
func (o *Orchestrator) launchWarmup(ctx context.Context, desc config.NodeDescriptor, st *NodeState) {
	ctx = context.WithoutCancel(ctx)
	if desc.WarmupTarget() == "" {
		o.setWarm(st, true)
		if err := o.transition(st, PhaseHydrated); err != nil {
			o.fail(st, err)
		}
		return
	}
	if err := o.transition(st, PhaseWarmingUp); err != nil {
		o.fail(st, err)
		return
	}
	o.warmups.Add(1)
	go func() {
		defer o.warmups.Done()
		start := time.Now()
		err := o.warmer.Run(ctx, o.engines(desc), desc)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.WarmupDuration.WithLabelValues(desc.ID, outcome).Observe(time.Since(start).Seconds())
		o.finishWarmup(desc, st, err)
	}()
}

// finishWarmup settles a node after its pre-warm: Hydrated on success,
// Failed when warm-up failures are configured fatal, otherwise back to
// Ready with the failure recorded so status reports the degradation.
func (o *Orchestrator) finishWarmup(desc config.NodeDescriptor, st *NodeState, err error) {
	if err == nil {
		o.setWarm(st, true)
		if terr := o.transition(st, PhaseHydrated); terr != nil {
			o.fail(st, terr)
		}
		return
	}
	if o.cfg.WarmupFatal {
		o.fail(st, err)
		return
	}
	o.mu.Lock()
	st.WarmupErr = err
	o.mu.Unlock()
	if terr := o.transition(st, PhaseReady); terr != nil {
		o.fail(st, terr)
		return
	}
	metrics.NodeFailures.WithLabelValues(desc.ID, "warmup").Inc()
	o.pub.Publish(Event{Name: "warmup_degraded", NodeID: desc.ID, Fields: map[string]any{"error": err.Error()}})
	o.log.Warn().Err(err).Str("node", desc.ID).Msg("serving without warm model")
}
