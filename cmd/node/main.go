// Package main implements the Strata node service: one shard node that
// serves the shard API and offers itself to a coordinator's spare pool.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API (see shard.Handler):          │
//	│    /health, /install, /metadata         │
//	│    /records/*   - record operations     │
//	│    /backup/*    - backup slot           │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    shard.Node   - table and backup      │
//	│    state file   - <data-dir>/<id>.state │
//	│    backup file  - <data-dir>/<id>.backup│
//	│    Registration - coordinator link      │
//	└─────────────────────────────────────────┘
//
// Configuration comes from an optional file, then the environment
// (NODE_ID, NODE_LISTEN, NODE_ADDR, COORDINATOR_ADDR, NODE_DATA_DIR), then
// flags.
//
// Example usage:
//
//	strata-node --id node-1 --listen :8081 \
//	  --public-url http://10.0.0.7:8081 \
//	  --coordinator http://10.0.0.2:8080 --data-dir /var/lib/strata
//
// A node that restarts on an installed state file resumes as that shard
// and does not register again.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/logging"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "strata-node --config `path-to-config`",
	Short: "Run a Strata shard node",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadNode(cfgPath, cmd.Flags())
		if err != nil {
			return err
		}
		logging.Init(cfg.LogLevel, cfg.LogFormat)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-stop
			cancel()
		}()
		return a.run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (.yaml, .toml or .json)")
	defaults := config.DefaultNode()
	defaults.BindFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("node failed")
	}
}
