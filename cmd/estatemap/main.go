// Command estatemap serves map sessions over HTTP and offers offline tools
// for building and profiling cluster indexes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"web/estatemap/cluster"
	"web/estatemap/config"
	"web/estatemap/logging"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// env is what every subcommand gets after the persistent pre-run.
type env struct {
	cfg    *config.Config
	logger logging.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	e := &env{}

	cmd := &cobra.Command{
		Use:     "estatemap",
		Short:   "Clustered real-estate map engine",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			e.cfg = cfg
			e.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(e), newBuildCommand(e), newProfileCommand(e))
	return cmd
}

func clusterOptions(cfg *config.Config) cluster.Options {
	return cluster.Options{
		RadiusPx:  cfg.Cluster.RadiusPx,
		MaxZoom:   cfg.Cluster.MaxZoom,
		MinPoints: cfg.Cluster.MinPoints,
		TileSize:  cfg.Cluster.TileSize,
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
