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
	Use:   "strata-coordinator --config `path-to-config`",
	Short: "Run the Strata coordinator",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadCoordinator(cfgPath, cmd.Flags())
		if err != nil {
			return err
		}
		logging.Init(cfg.LogLevel, cfg.LogFormat)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

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
	defaults := config.DefaultCoordinator()
	defaults.BindFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("coordinator failed")
	}
}
