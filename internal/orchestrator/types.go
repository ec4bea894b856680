package orchestrator

import (
	"time"

	"brainctl/internal/probe"
	"brainctl/internal/runtime"
)

// Phase is a node's position in its lifecycle.
type Phase string

const (
	PhaseAbsent         Phase = "absent"
	PhaseStarting       Phase = "starting"
	PhaseHealthChecking Phase = "health_checking"
	PhaseReady          Phase = "ready"
	PhaseWarmingUp      Phase = "warming_up"
	PhaseHydrated       Phase = "hydrated"
	PhaseFailed         Phase = "failed"
)

// Phases lists every phase, for metric vectors and iteration.
var Phases = []Phase{
	PhaseAbsent,
	PhaseStarting,
	PhaseHealthChecking,
	PhaseReady,
	PhaseWarmingUp,
	PhaseHydrated,
	PhaseFailed,
}

func phaseNames() []string {
	out := make([]string, len(Phases))
	for i, p := range Phases {
		out[i] = string(p)
	}
	return out
}

// transitions is the legal edge set. Hydrated and Failed are terminal for a
// workflow run. WarmingUp falls back to Ready when warm-up degrades instead
// of failing, and Ready jumps straight to Hydrated when there is nothing to
// warm.
var transitions = map[Phase][]Phase{
	PhaseAbsent:         {PhaseStarting, PhaseFailed},
	PhaseStarting:       {PhaseHealthChecking, PhaseFailed},
	PhaseHealthChecking: {PhaseReady, PhaseFailed},
	PhaseReady:          {PhaseWarmingUp, PhaseHydrated, PhaseFailed},
	PhaseWarmingUp:      {PhaseHydrated, PhaseReady, PhaseFailed},
	PhaseHydrated:       {},
	PhaseFailed:         {},
}

func canTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Serving reports whether the engine answers traffic in this phase.
func (p Phase) Serving() bool {
	return p == PhaseReady || p == PhaseWarmingUp || p == PhaseHydrated
}

// Terminal reports whether the phase ends a workflow run for the node.
func (p Phase) Terminal() bool { return p == PhaseHydrated || p == PhaseFailed }

// NodeState is the transient per-workflow record for one node. It is
// rebuilt from scratch at the start of each workflow run.
type NodeState struct {
	ID          string
	Phase       Phase
	ContainerID string
	StartedAt   time.Time
	Err         error
	WarmupErr   error
	Warm        bool
}

// Overall is the aggregated fleet status.
type Overall string

const (
	OverallIdle     Overall = "idle"
	OverallPending  Overall = "pending"
	OverallOK       Overall = "ok"
	OverallDegraded Overall = "degraded"
	OverallFailed   Overall = "failed"
)

// NodeResult is one node's outcome at workflow join time.
type NodeResult struct {
	ID        string
	Phase     Phase
	Err       error
	WarmupErr error
}

// Report aggregates a workflow run across its nodes.
type Report struct {
	Workflow string
	Nodes    []NodeResult
	Overall  Overall
	Took     time.Duration
}

// FirstError returns the highest-precedence node error so the CLI can map
// it to an exit code: start failures outrank probe failures outrank the
// rest.
func (r Report) FirstError() error {
	var probeErr, otherErr error
	for _, n := range r.Nodes {
		if n.Err == nil {
			continue
		}
		switch {
		case runtime.IsStartFailure(n.Err):
			return n.Err
		case probe.IsFailure(n.Err):
			if probeErr == nil {
				probeErr = n.Err
			}
		default:
			if otherErr == nil {
				otherErr = n.Err
			}
		}
	}
	if probeErr != nil {
		return probeErr
	}
	return otherErr
}
