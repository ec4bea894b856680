package cli

import (
	"fmt"
	"strings"
	"time"
)

// Swappable actions so the command tree can be exercised without a Docker
// daemon behind it.
var (
	fnUp      = runUp
	fnReset   = runReset
	fnDown    = runDown
	fnSync    = runSync
	fnHydrate = runHydrate
	fnUnload  = runUnload
	fnWarmup  = runWarmup
	fnStatus  = runStatus
	fnServe   = runServe
)

func runUp(cfg *Config) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	rep, err := a.orch.Up(ctx)
	if err != nil {
		return err
	}
	// Warm-ups run in the background; hold the process until they settle so
	// the report and exit code cover them.
	_ = a.orch.WaitWarmups(ctx)
	rep = a.orch.FinalReport(rep)
	printReport(rep)
	return rep.FirstError()
}

func runReset(cfg *Config, nodes []string, rewarm bool) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	rep, err := a.orch.Reset(ctx, nodes, rewarm)
	if err != nil {
		return err
	}
	_ = a.orch.WaitWarmups(ctx)
	rep = a.orch.FinalReport(rep)
	printReport(rep)
	return rep.FirstError()
}

func runDown(cfg *Config) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.orch.Down(ctx); err != nil {
		return err
	}
	fmt.Println("down: ok")
	return nil
}

func runSync(cfg *Config) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	rep, err := a.orch.SyncVolumes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sync: %d pairs, %d files / %d bytes copied, %d already present, in %s\n",
		rep.Pairs, rep.Stats.FilesCopied, rep.Stats.BytesCopied, rep.Stats.Skipped, rep.Took.Round(time.Millisecond))
	return nil
}

func runHydrate(cfg *Config, nodes []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	res, runErr := a.orch.Hydrate(ctx, nodes)
	for _, m := range res.Pulled {
		fmt.Println("pulled ", m)
	}
	for _, m := range res.Present {
		fmt.Println("present", m)
	}
	for _, e := range res.Errors {
		fmt.Println("failed ", e)
	}
	return runErr
}

func runUnload(cfg *Config, nodes []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.orch.UnloadModels(ctx, nodes); err != nil {
		return err
	}
	fmt.Println("unload: ok")
	return nil
}

func runWarmup(cfg *Config, node string) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.orch.WarmupNode(ctx, node); err != nil {
		return err
	}
	fmt.Printf("warmup %s: ok\n", node)
	return nil
}

func runStatus(cfg *Config) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	for _, ln := range a.orch.InspectLive(ctx) {
		state := "stopped"
		if ln.Serving {
			state = "serving"
		} else if ln.Running {
			state = "running"
		}
		line := fmt.Sprintf("%-14s %s", ln.ID, state)
		if len(ln.Models) > 0 {
			line += "  [" + strings.Join(ln.Models, ", ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}
