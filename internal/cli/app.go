package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"brainctl/internal/config"
	"brainctl/internal/gpu"
	"brainctl/internal/orchestrator"
	"brainctl/internal/probe"
	"brainctl/internal/runtime"
	"brainctl/internal/volsync"
)

// Config carries the persistent flag values shared by every command.
type Config struct {
	ConfigPath string
	LogLevel   string
}

// app bundles the collaborators wired for one command invocation.
type app struct {
	store config.Config
	orch  *orchestrator.Orchestrator
	log   zerolog.Logger
}

// newApp loads the descriptor store and wires the container runtime and the
// orchestrator on top of it.
func newApp(c *Config) (*app, error) {
	store, err := loadStore(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := newLogger(c.LogLevel)
	rt, err := runtime.New(store.StopTimeout(), log)
	if err != nil {
		return nil, err
	}
	var opts orchestrator.Options
	if smi := gpu.NewSMI(log); smi.Available() {
		opts.GPU = smi
	}
	return &app{store: store, orch: orchestrator.New(store, rt, log, opts), log: log}, nil
}

// loadStore maps every load failure, including an unreadable file, to a
// configuration error so the process exits 2 before touching containers.
func loadStore(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && !config.IsConfigurationError(err) {
		return cfg, config.ErrConfiguration("%v", err)
	}
	return cfg, err
}

// newLogger builds the process logger writing to stderr.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

// exitCode maps a command error to the documented process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case config.IsConfigurationError(err):
		return 2
	case runtime.IsStartFailure(err):
		return 3
	case probe.IsFailure(err):
		return 4
	case volsync.IsSyncFailure(err):
		return 5
	}
	return 1
}

// printReport writes the per-node outcome of a workflow run to stdout.
func printReport(rep orchestrator.Report) {
	for _, n := range rep.Nodes {
		line := fmt.Sprintf("%-14s %s", n.ID, n.Phase)
		if n.Err != nil {
			line += "  " + n.Err.Error()
		} else if n.WarmupErr != nil {
			line += "  warmup: " + n.WarmupErr.Error()
		}
		fmt.Println(line)
	}
	fmt.Printf("%s: %s in %s\n", rep.Workflow, rep.Overall, rep.Took.Round(time.Millisecond))
}
