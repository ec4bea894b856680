package probe

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// crashLogTail is how many log lines get attached when the container dies
// mid-probe.
const crashLogTail = 20

// ContainerChecker is the runtime slice the prober needs to notice a dead
// container instead of probing its port until the deadline.
type ContainerChecker interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	Logs(ctx context.Context, name string, tailLines int) (string, error)
}

// Pinger is one engine's health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls an engine until it serves, its container dies, or the
// deadline passes. Failures before the deadline are expected while the
// engine loads and are only logged at debug.
type Prober struct {
	runtime  ContainerChecker
	interval time.Duration
	timeout  time.Duration
	deadline time.Duration
	log      zerolog.Logger
}

// New builds a Prober. interval paces attempts, timeout bounds each ping,
// deadline bounds the whole wait for one node.
func New(rt ContainerChecker, interval, timeout, deadline time.Duration, log zerolog.Logger) *Prober {
	return &Prober{runtime: rt, interval: interval, timeout: timeout, deadline: deadline, log: log}
}

// WaitReady blocks until the engine behind node answers its health check.
// The first attempt fires immediately. Once WaitReady returns nil the node
// counts as serving for the rest of the workflow run.
func (p *Prober) WaitReady(ctx context.Context, node string, ping Pinger) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		running, err := p.runtime.IsRunning(ctx, node)
		if err == nil && !running {
			return p.containerDied(ctx, node)
		}
		// a daemon hiccup is treated like a failed attempt, not a dead node

		pingCtx, pingCancel := context.WithTimeout(ctx, p.timeout)
		err = ping.Ping(pingCtx)
		pingCancel()
		if err == nil {
			p.log.Info().
				Str("node", node).
				Int("attempts", attempts).
				Dur("took", time.Since(start)).
				Msg("engine ready")
			return nil
		}
		p.log.Debug().Str("node", node).Int("attempt", attempts).Err(err).Msg("probe failed")

		select {
		case <-ctx.Done():
			p.log.Error().
				Str("node", node).
				Int("attempts", attempts).
				Dur("waited", time.Since(start)).
				Msg("engine never became ready")
			return ErrProbeTimeout(node, time.Since(start), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Prober) containerDied(ctx context.Context, node string) error {
	logCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	tail, err := p.runtime.Logs(logCtx, node, crashLogTail)
	if err != nil {
		tail = ""
	}
	p.log.Error().Str("node", node).Msg("container exited during health check")
	return ErrContainerExited(node, tail)
}
