package orchestrator

import (
	"context"
	"fmt"
	"time"

	"brainctl/internal/metrics"
)

// HydrateResult lists what a model pull run did, entries formatted as
// "node/model".
type HydrateResult struct {
	Pulled  []string
	Present []string
	Errors  []string
}

// Hydrate pulls every configured model that is missing from its node's
// registry, using the registry CLI inside the container. Models already
// present are left alone. ids empty means the whole fleet. Pull failures
// do not abort the run; they are collected and reported at the end.
func (o *Orchestrator) Hydrate(ctx context.Context, ids []string) (HydrateResult, error) {
	targets, err := o.targetDescs(ids)
	if err != nil {
		return HydrateResult{}, err
	}
	release, err := o.acquire(ctx, "hydrate")
	if err != nil {
		return HydrateResult{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowTimeout())
	defer cancel()

	var res HydrateResult
	for _, desc := range targets {
		running, err := o.rt.IsRunning(ctx, desc.ID)
		if err != nil || !running {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: container not running", desc.ID))
			o.log.Warn().Str("node", desc.ID).Msg("hydrate skipped, container not running")
			continue
		}
		present := o.presentModels(ctx, desc.ID)
		for _, model := range desc.Models {
			key := desc.ID + "/" + model
			if present[model] {
				res.Present = append(res.Present, key)
				continue
			}
			o.log.Info().Str("node", desc.ID).Str("model", model).Msg("pulling model")
			start := time.Now()
			if _, err := o.rt.Exec(ctx, desc.ID, []string{o.cfg.RegistryCLI, "pull", model}); err != nil {
				metrics.ModelPulls.WithLabelValues(desc.ID, "error").Inc()
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
				o.log.Error().Err(err).Str("node", desc.ID).Str("model", model).Msg("model pull failed")
				continue
			}
			metrics.ModelPulls.WithLabelValues(desc.ID, "ok").Inc()
			res.Pulled = append(res.Pulled, key)
			o.pub.Publish(Event{Name: "model_pulled", NodeID: desc.ID, Fields: map[string]any{"model": model}})
			o.log.Info().Str("node", desc.ID).Str("model", model).Dur("took", time.Since(start)).Msg("model pulled")
		}
	}
	outcome := "ok"
	var runErr error
	if len(res.Errors) > 0 {
		outcome = "error"
		runErr = fmt.Errorf("hydrate: %d of %d pulls failed", len(res.Errors), len(res.Errors)+len(res.Pulled))
	}
	metrics.WorkflowRuns.WithLabelValues("hydrate", outcome).Inc()
	return res, runErr
}

// presentModels asks the node's engine what it already has. An unreachable
// engine yields an empty set, which just means every model gets pulled;
// the registry CLI treats an existing model as a no-op.
func (o *Orchestrator) presentModels(ctx context.Context, id string) map[string]bool {
	desc, ok := o.cfg.Node(id)
	if !ok {
		return nil
	}
	listCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout())
	defer cancel()
	names, err := o.engines(desc).Models(listCtx)
	if err != nil {
		o.log.Warn().Err(err).Str("node", id).Msg("model listing failed, pulling unconditionally")
		return nil
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	return present
}

// UnloadModels asks every running node to drop its resident models from
// device memory without stopping containers. Best effort per model; the
// first error is returned after everything was attempted.
func (o *Orchestrator) UnloadModels(ctx context.Context, ids []string) error {
	targets, err := o.targetDescs(ids)
	if err != nil {
		return err
	}
	release, err := o.acquire(ctx, "unload")
	if err != nil {
		return err
	}
	defer release()

	var firstErr error
	for _, desc := range targets {
		eng := o.engines(desc)
		names, err := eng.Models(ctx)
		if err != nil {
			o.log.Warn().Err(err).Str("node", desc.ID).Msg("model listing failed, skipping unload")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, model := range names {
			if err := eng.Unload(ctx, model); err != nil {
				o.log.Warn().Err(err).Str("node", desc.ID).Str("model", model).Msg("unload failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			o.log.Info().Str("node", desc.ID).Str("model", model).Msg("model unloaded")
		}
		o.mu.Lock()
		if st, ok := o.states[desc.ID]; ok {
			st.Warm = false
		}
		o.mu.Unlock()
	}
	outcome := "ok"
	if firstErr != nil {
		outcome = "error"
	}
	metrics.WorkflowRuns.WithLabelValues("unload", outcome).Inc()
	return firstErr
}
