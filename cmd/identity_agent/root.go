package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/config"
	"github.com/jonathan/identity-pipeline/internal/logging"
)

// cli carries the state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:   "identity_agent",
		Short: "Identity pipeline API server and workers",
		Long: `identity_agent ingests resumes and stories into a professional identity, ingests job
opportunities, and tailors the identity to an opportunity. Work runs as asynchronous,
phased jobs whose progress is visible through the API.

Configuration is read from --config (YAML, JSON or TOML), IDENTITY_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to a config file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().Bool("log-json", false, "Log as JSON")
	root.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")

	root.AddCommand(
		newServeCmd(c),
		newWorkCmd(c),
		newEnqueueCmd(c),
		newStatusCmd(c),
		newMigrateCmd(c),
	)
	return root
}

// load binds the flags of the running command and builds config and logger.
func (c *cli) load(cmd *cobra.Command) error {
	if err := config.BindFlags(c.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogJSON, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}
