package cmd

import (
	"github.com/spf13/cobra"

	"daybot/internal/config"
	"daybot/internal/util"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "daybot",
	Short: "Intraday equity trading engine",
	Long: `Daybot drives a single account through the trading day: it computes the
session phase from wall-clock time, runs each configured strategy inside
its window, enforces forced liquidation at window deadlines, and
reconciles fills against the portfolio on a tight polling loop.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/daybot.yaml", "path to config file")
}

// loadConfig reads the config file and installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}
