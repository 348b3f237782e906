package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/logging"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay: rate limiting, caching and cost control for delegated model calls",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("RELAY_CONFIG"), "path to relay config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		newMCPCmd(g),
		newServeCmd(g),
		newHistoryCmd(g),
		newBudgetCmd(g),
		newTiersCmd(),
		newConfigCmd(g),
	)
	return root
}

// load reads the dotenv file (when present) and the effective config, and
// installs the configured logger on stderr. stdout is reserved for the MCP
// transport.
func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return cfg, logger, nil
}
