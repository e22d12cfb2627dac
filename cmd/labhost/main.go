// Command labhost runs the lab orchestrator host.
//
// The host connects to an MQTT broker (optionally embedding one), keeps the
// device registry and lease table, runs scheduled command jobs and dispatches
// module commands to the configured plugins. A REST and WebSocket API sits on
// top for operators and web panels.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "LABHOST_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), configPath)
	}

	root := &cobra.Command{
		Use:           "labhost",
		Short:         "Lab orchestrator host: MQTT registry, leases, scheduler and plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(), "path to config.yaml")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the host until interrupted",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(newPublishCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "labhost %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses LABHOST_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
