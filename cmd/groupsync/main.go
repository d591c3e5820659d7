package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relves/groupsync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "groupsync",
	Short: "Mirror encrypted groups from the group service",
	Long: `groupsync keeps a local mirror of encrypted groups in step with the
group service's change log, and records a timeline of what changed.

Examples:
  groupsync serve                      # Run the API and periodic refresh
  groupsync refresh                    # Update every mirrored group once
  groupsync add-group <master-key>     # Start mirroring a group`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GROUPSYNC_CONFIG"), "path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(addGroupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and installs the JSON logger it asks for.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cfg.Level()
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
