package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Execute runs the command tree and maps a failure to the exit codes the
// wrapping scripts rely on: 2 invalid store, 3 container start, 4 health
// check, 5 volume sync, 1 anything else.
func Execute() int {
	cfg := &Config{
		ConfigPath: defaultEnv("BRAINCTL_CONFIG", "brainctl.yaml"),
		LogLevel:   defaultEnv("BRAINCTL_LOG_LEVEL", "info"),
	}
	root := buildRootCmdWith(cfg)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "brainctl: %v\n", err)
		return exitCode(err)
	}
	return 0
}

func defaultEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Run dispatches one CLI invocation against the given config. It returns the
// error instead of exiting, enabling reuse from tests.
func Run(args []string, cfg *Config) error {
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	return root.Execute()
}

// buildRootCmd is a convenience for help-only fallbacks.
func buildRootCmd() *cobra.Command {
	return buildRootCmdWith(&Config{ConfigPath: "brainctl.yaml", LogLevel: "info"})
}

// buildRootCmdWith constructs the Cobra command tree wired to the run* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "brainctl",
		Short:         "Bring GPU-pinned inference nodes up, warm and in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().String("config", cfg.ConfigPath, "Descriptor store path (defaults BRAINCTL_CONFIG or brainctl.yaml)")
	root.PersistentFlags().String("log-level", cfg.LogLevel, "Log level: debug|info|warn|error (defaults BRAINCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("config"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.ConfigPath = v
			}
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLevel = v
			}
		}
	}

	upCmd := &cobra.Command{
		Use:     "up",
		Short:   "Start, health-check and pre-warm every configured node",
		Example: "  brainctl up\n  brainctl up --config aeon.yaml",
		RunE:    func(cmd *cobra.Command, args []string) error { return fnUp(cfg) },
	}
	root.AddCommand(upCmd)

	var rewarm bool
	resetCmd := &cobra.Command{
		Use:     "reset [node...]",
		Short:   "Restart nodes and re-run their health checks",
		Example: "  brainctl reset\n  brainctl reset planner --rewarm",
		RunE:    func(cmd *cobra.Command, args []string) error { return fnReset(cfg, args, rewarm) },
	}
	resetCmd.Flags().BoolVar(&rewarm, "rewarm", false, "Re-run warm-up after the node is back")
	root.AddCommand(resetCmd)

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Stop every configured node",
		RunE:  func(cmd *cobra.Command, args []string) error { return fnDown(cfg) },
	})

	root.AddCommand(&cobra.Command{
		Use:     "sync",
		Short:   "Reconcile the configured volume pairs to their union",
		Example: "  brainctl sync",
		RunE:    func(cmd *cobra.Command, args []string) error { return fnSync(cfg) },
	})

	root.AddCommand(&cobra.Command{
		Use:     "hydrate [node...]",
		Short:   "Pull declared models missing from running nodes",
		Example: "  brainctl hydrate\n  brainctl hydrate executor",
		RunE:    func(cmd *cobra.Command, args []string) error { return fnHydrate(cfg, args) },
	})

	root.AddCommand(&cobra.Command{
		Use:   "unload [node...]",
		Short: "Unload resident models to free device memory",
		RunE:  func(cmd *cobra.Command, args []string) error { return fnUnload(cfg, args) },
	})

	root.AddCommand(&cobra.Command{
		Use:   "warmup <node>",
		Short: "Run the pre-warm request for one node",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return fnWarmup(cfg, args[0]) },
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Probe the fleet and print what is running and serving",
		RunE:  func(cmd *cobra.Command, args []string) error { return fnStatus(cfg) },
	})

	var serveAddr string
	var serveCORS bool
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Bring the fleet up, then serve the control API until interrupted",
		Example: "  brainctl serve\n  brainctl serve --addr :9090",
		RunE:    func(cmd *cobra.Command, args []string) error { return fnServe(cfg, serveAddr, serveCORS) },
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", defaultEnv("BRAINCTL_ADDR", ""), "HTTP listen address (defaults BRAINCTL_ADDR or the store's addr)")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", false, "Allow cross-origin requests from anywhere")
	root.AddCommand(serveCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	root.AddCommand(completionCmd)

	return root
}

// signalContext is the base context for one-shot commands: cancelled on
// Ctrl+C or SIGTERM so a stuck workflow can be abandoned cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
