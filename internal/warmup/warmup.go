package warmup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"brainctl/internal/config"
	"brainctl/internal/engine"
)

// Generator is the engine call warm-up needs.
type Generator interface {
	Generate(ctx context.Context, req engine.GenerateRequest) error
}

// Coordinator issues the single-token generate calls that force a node's
// designated model into device memory before real traffic arrives.
type Coordinator struct {
	timeout time.Duration
	log     zerolog.Logger
}

// New builds a Coordinator. timeout bounds one warm-up call end to end.
func New(timeout time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{timeout: timeout, log: log}
}

// Run warms the node's designated model and returns once the model is
// resident. Nodes with no model declared are skipped.
func (c *Coordinator) Run(ctx context.Context, gen Generator, desc config.NodeDescriptor) error {
	model := desc.WarmupTarget()
	if model == "" {
		c.log.Debug().Str("node", desc.ID).Msg("no warmup model declared, skipping")
		return nil
	}
	opts := map[string]any{"num_predict": 1}
	if desc.ContextWindow > 0 {
		opts["num_ctx"] = desc.ContextWindow
	}
	req := engine.GenerateRequest{
		Model:     model,
		Prompt:    "warmup",
		Stream:    false,
		KeepAlive: engine.KeepAliveValue(desc.KeepAlive),
		Options:   opts,
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	c.log.Info().Str("node", desc.ID).Str("model", model).Msg("warming up")
	if err := gen.Generate(ctx, req); err != nil {
		return ErrWarmupFailure(desc.ID, model, err)
	}
	c.log.Info().Str("node", desc.ID).Str("model", model).Dur("took", time.Since(start)).Msg("warmup done")
	return nil
}

// warmupFailureError signals that pre-warming a model did not complete.
// The node keeps serving; callers decide whether this degrades or fails it.
type warmupFailureError struct {
	node  string
	model string
	cause error
}

func (e warmupFailureError) Error() string {
	return fmt.Sprintf("warmup %s (%s): %v", e.node, e.model, e.cause)
}

func (e warmupFailureError) Unwrap() error { return e.cause }

// ErrWarmupFailure constructs a warmupFailureError.
func ErrWarmupFailure(node, model string, cause error) error {
	return warmupFailureError{node: node, model: model, cause: cause}
}

// IsWarmupFailure reports whether err came from a failed warm-up call.
func IsWarmupFailure(err error) bool {
	_, ok := err.(warmupFailureError)
	return ok
}
