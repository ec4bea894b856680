// Package orchestrator drives the supervised node lifecycle: start,
// health-check, pre-warm, reset and volume reconciliation across the
// configured engine containers. One workflow runs at a time, guarded by a
// cross-process lock; within a workflow every node progresses on its own
// goroutine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"brainctl/internal/config"
	"brainctl/internal/engine"
	"brainctl/internal/gpu"
	"brainctl/internal/metrics"
	"brainctl/internal/probe"
	"brainctl/internal/runtime"
	"brainctl/internal/volsync"
	"brainctl/internal/warmup"
)

// Runtime is the container-runtime surface workflows drive. Satisfied by
// *runtime.Manager.
type Runtime interface {
	EnsureAbsent(ctx context.Context, name string) error
	EnsureNoPortConflict(ctx context.Context, hostPort int) error
	Start(ctx context.Context, desc config.NodeDescriptor) (string, error)
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	StartExisting(ctx context.Context, name string) error
	IsRunning(ctx context.Context, name string) (bool, error)
	Exec(ctx context.Context, name string, cmd []string) (string, error)
	Logs(ctx context.Context, name string, tailLines int) (string, error)
}

// Engine is the per-node inference API surface. Satisfied by *engine.Client.
type Engine interface {
	Ping(ctx context.Context) error
	Generate(ctx context.Context, req engine.GenerateRequest) error
	Models(ctx context.Context) ([]string, error)
	Unload(ctx context.Context, model string) error
}

// EngineFactory builds the API client for one node descriptor.
type EngineFactory func(desc config.NodeDescriptor) Engine

// Options overrides collaborators, mainly for tests. Zero fields get
// production defaults in New.
type Options struct {
	Engines   EngineFactory
	GPU       gpu.MemoryReader
	Publisher EventPublisher
	Lock      *WorkflowLock
	Prober    *probe.Prober
	Warmer    *warmup.Coordinator
}

// Orchestrator owns the node state machines and runs workflows over them.
type Orchestrator struct {
	cfg     config.Config
	rt      Runtime
	engines EngineFactory
	prober  *probe.Prober
	warmer  *warmup.Coordinator
	syncer  *volsync.Synchronizer
	gpu     gpu.MemoryReader
	lock    *WorkflowLock
	pub     EventPublisher
	log     zerolog.Logger

	mu        sync.RWMutex
	states    map[string]*NodeState
	workflow  string
	ranOnce   bool
	startTime time.Time

	warmups sync.WaitGroup
}

// New wires an orchestrator over cfg and the given container runtime.
func New(cfg config.Config, rt Runtime, log zerolog.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		rt:        rt,
		engines:   opts.Engines,
		prober:    opts.Prober,
		warmer:    opts.Warmer,
		syncer:    volsync.New(rt, log),
		gpu:       opts.GPU,
		lock:      opts.Lock,
		pub:       opts.Publisher,
		log:       log,
		states:    make(map[string]*NodeState),
		startTime: time.Now(),
	}
	if o.engines == nil {
		o.engines = func(desc config.NodeDescriptor) Engine {
			return engine.New(desc.Endpoint(), cfg.HealthPath, log)
		}
	}
	if o.prober == nil {
		o.prober = probe.New(rt, cfg.ProbeInterval(), cfg.ProbeTimeout(), cfg.ReadyDeadline(), log)
	}
	if o.warmer == nil {
		o.warmer = warmup.New(cfg.WarmupTimeout(), log)
	}
	if o.lock == nil {
		o.lock = NewWorkflowLock(cfg.LockPath, cfg.LockWait(), cfg.LockStale(), log)
	}
	if o.pub == nil {
		o.pub = noopPublisher{}
	}
	return o
}

// acquire takes the workflow lock and records the active workflow name.
// The returned release func must be called when the workflow ends.
func (o *Orchestrator) acquire(ctx context.Context, name string) (func(), error) {
	release, err := o.lock.Acquire(ctx, name)
	if err != nil {
		if IsBusy(err) {
			metrics.LockContention.Inc()
			o.log.Warn().Str("workflow", name).Err(err).Msg("workflow lock contended")
		}
		return nil, err
	}
	o.mu.Lock()
	o.workflow = name
	o.ranOnce = true
	o.mu.Unlock()
	o.log.Info().Str("workflow", name).Msg("workflow started")
	o.pub.Publish(Event{Name: "workflow_started", Fields: map[string]any{"workflow": name}})
	return func() {
		release()
		o.mu.Lock()
		o.workflow = ""
		o.mu.Unlock()
	}, nil
}

// resetStates installs fresh Absent states for the given node ids,
// leaving other nodes' states untouched.
func (o *Orchestrator) resetStates(ids []string) map[string]*NodeState {
	o.mu.Lock()
	defer o.mu.Unlock()
	fresh := make(map[string]*NodeState, len(ids))
	for _, id := range ids {
		st := &NodeState{ID: id, Phase: PhaseAbsent}
		o.states[id] = st
		fresh[id] = st
		metrics.SetNodePhase(id, string(PhaseAbsent), phaseNames())
	}
	return fresh
}

// transition moves st to the given phase, enforcing the state machine.
func (o *Orchestrator) transition(st *NodeState, to Phase) error {
	o.mu.Lock()
	from := st.Phase
	if !canTransition(from, to) {
		o.mu.Unlock()
		err := fmt.Errorf("illegal transition %s -> %s for node %s", from, to, st.ID)
		o.log.Error().Err(err).Msg("state machine violation")
		return err
	}
	st.Phase = to
	o.mu.Unlock()
	metrics.SetNodePhase(st.ID, string(to), phaseNames())
	o.updateReadyGauge()
	o.pub.Publish(Event{Name: "phase", NodeID: st.ID, Fields: map[string]any{"from": string(from), "to": string(to)}})
	o.log.Info().Str("node", st.ID).Str("from", string(from)).Str("to", string(to)).Msg("phase change")
	return nil
}

// fail moves st to Failed and records the first error. A node already in a
// terminal phase keeps its phase and error.
func (o *Orchestrator) fail(st *NodeState, err error) {
	o.mu.Lock()
	if st.Phase.Terminal() {
		o.mu.Unlock()
		o.log.Warn().Err(err).Str("node", st.ID).Str("phase", string(st.Phase)).Msg("failure after terminal phase ignored")
		return
	}
	from := st.Phase
	st.Phase = PhaseFailed
	st.Err = err
	o.mu.Unlock()
	reason := failureReason(err)
	metrics.SetNodePhase(st.ID, string(PhaseFailed), phaseNames())
	metrics.NodeFailures.WithLabelValues(st.ID, reason).Inc()
	o.updateReadyGauge()
	o.pub.Publish(Event{Name: "node_failed", NodeID: st.ID, Fields: map[string]any{"from": string(from), "reason": reason, "error": err.Error()}})
	o.log.Error().Err(err).Str("node", st.ID).Str("from", string(from)).Str("reason", reason).Msg("node failed")
}

// failureReason buckets an error for the failure counter.
func failureReason(err error) string {
	switch {
	case runtime.IsStartFailure(err):
		return "start"
	case probe.IsProbeTimeout(err):
		return "probe_timeout"
	case probe.IsContainerExited(err):
		return "container_exited"
	case warmup.IsWarmupFailure(err):
		return "warmup"
	case volsync.IsSyncFailure(err):
		return "sync"
	default:
		return "other"
	}
}

func (o *Orchestrator) updateReadyGauge() {
	o.mu.RLock()
	n := 0
	for _, st := range o.states {
		if st.Phase.Serving() {
			n++
		}
	}
	o.mu.RUnlock()
	metrics.NodesReady.Set(float64(n))
}

// setWarm flips the resident-model flag on st.
func (o *Orchestrator) setWarm(st *NodeState, warm bool) {
	o.mu.Lock()
	st.Warm = warm
	o.mu.Unlock()
}

// targetDescs resolves ids to descriptors, defaulting to the whole store.
func (o *Orchestrator) targetDescs(ids []string) ([]config.NodeDescriptor, error) {
	if len(ids) == 0 {
		return o.cfg.Nodes, nil
	}
	out := make([]config.NodeDescriptor, 0, len(ids))
	for _, id := range ids {
		desc, ok := o.cfg.Node(id)
		if !ok {
			return nil, ErrUnknownNode(id)
		}
		out = append(out, desc)
	}
	return out, nil
}

// buildReport snapshots the states of the given ids into a workflow report.
func (o *Orchestrator) buildReport(workflow string, ids []string, start time.Time) Report {
	o.mu.RLock()
	nodes := make([]NodeResult, 0, len(ids))
	overall := OverallOK
	for _, id := range ids {
		st, ok := o.states[id]
		if !ok {
			continue
		}
		nodes = append(nodes, NodeResult{ID: id, Phase: st.Phase, Err: st.Err, WarmupErr: st.WarmupErr})
		if st.Phase == PhaseFailed {
			overall = OverallFailed
		} else if st.WarmupErr != nil && overall != OverallFailed {
			overall = OverallDegraded
		}
	}
	o.mu.RUnlock()
	return Report{Workflow: workflow, Nodes: nodes, Overall: overall, Took: time.Since(start)}
}

// FinalReport re-snapshots the nodes of an earlier report. One-shot commands
// call it after WaitWarmups so the exit status reflects warm-up outcomes that
// landed after the workflow joined.
func (o *Orchestrator) FinalReport(rep Report) Report {
	ids := make([]string, 0, len(rep.Nodes))
	for _, n := range rep.Nodes {
		ids = append(ids, n.ID)
	}
	out := o.buildReport(rep.Workflow, ids, time.Now())
	out.Took = rep.Took
	return out
}

// finishWorkflow records metrics and logs for a completed workflow run.
func (o *Orchestrator) finishWorkflow(report Report) {
	metrics.WorkflowRuns.WithLabelValues(report.Workflow, string(report.Overall)).Inc()
	o.pub.Publish(Event{Name: "workflow_done", Fields: map[string]any{
		"workflow": report.Workflow,
		"overall":  string(report.Overall),
		"took_ms":  report.Took.Milliseconds(),
	}})
	evt := o.log.Info()
	if report.Overall == OverallFailed {
		evt = o.log.Error()
	}
	evt.Str("workflow", report.Workflow).Str("overall", string(report.Overall)).Dur("took", report.Took).Msg("workflow finished")
}

// WaitWarmups blocks until every in-flight warm-up settles or ctx ends.
// One-shot commands call this before exiting so background warm-ups are
// not abandoned mid-request.
func (o *Orchestrator) WaitWarmups(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.warmups.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
