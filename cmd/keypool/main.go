// Command keypool runs the key pool service and its operator tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keypool/internal/config"
	"keypool/internal/httpapi"
	"keypool/internal/utils"
)

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "keypool",
		Short: "Upstream API key pool and usage accounting",
		Long:  "keypool manages a pool of upstream LLM provider keys: health checks, bulk import, usage ingest and dashboard statistics.",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML or TOML config file (environment variables take precedence)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newImportCmd(),
		newCheckCmd(),
		newStatsCmd(),
		newUsageCmd(),
		newPoolCmd(),
		newAdminCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads process configuration and applies the log level
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	return cfg, nil
}

// withEngine opens the engine for a one-shot command and closes it afterwards
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, deps *httpapi.Dependencies) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	deps, err := httpapi.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	return fn(ctx, deps)
}
