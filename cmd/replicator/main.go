package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/hubmirror/internal/config"
	"github.com/dmitrijs2005/hubmirror/internal/replicator"
)

var (
	configPath string
	hubAddr    string
	dsn        string
	healthAddr string
	fullResync bool
	maxFid     uint64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads defaults plus the optional JSON file, then applies flag
// overrides so explicit flags win over the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("hub") {
		cfg.HubAddr = hubAddr
	}
	if cmd.Flags().Changed("dsn") {
		cfg.DatabaseDSN = dsn
	}
	if cmd.Flags().Changed("health-addr") {
		cfg.HealthAddr = healthAddr
	}
	if cmd.Flags().Changed("max-fid") {
		cfg.BackfillMaxFid = maxFid
	}
	cfg.FullResync = fullResync

	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "replicator",
	Short: "Mirror the origin hub's event log into a PostgreSQL replica",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tail the hub from the stored checkpoint (backfills first when needed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		app, err := replicator.NewApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer app.Close()

		return app.Run(ctx)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay full account history once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		app, err := replicator.NewApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer app.Close()

		return app.Backfill(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&hubAddr, "hub", "", "origin hub HTTP API base URL")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	rootCmd.PersistentFlags().StringVar(&healthAddr, "health-addr", "", "bind address for the gRPC health endpoint")
	rootCmd.PersistentFlags().Uint64Var(&maxFid, "max-fid", 0, "upper bound on backfilled account ids (0 = all)")

	runCmd.Flags().BoolVar(&fullResync, "full-resync", false, "force a full backfill before tailing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
}
