package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgts/mtce/pkg/config"
	"github.com/cgts/mtce/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mtcagent",
	Short: "mtcagent - node-lifecycle maintenance for clustered compute platforms",
	Long: `mtcagent is the host maintenance control plane for a multi-node
clustered compute platform: it monitors host liveness over multicast
heartbeat, orchestrates administrative actions (lock, unlock, reset,
reinstall, power control, swact), recovers failed hosts with bounded
auto-recovery, and publishes host state transitions and alarms.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mtcagent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(clientCmd)
}

// loadConfig reads the tunables file and initializes logging, shared
// by both subcommands.
func loadConfig(path, hostname string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if hostname != "" {
		cfg.Hostname = hostname
	}
	if cfg.Hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.Hostname = name
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSONOutput,
	})
	return cfg, nil
}
