package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gwr-relay/internal/config"
)

var (
	cfg *config.Config

	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gwr-relay",
	Short: "Geodata relay and building register lookup service",
	Long: `Relays allow-listed requests to Swiss geodata services and extracts building attributes from federal building register popups.

Settings come from config.yaml (or --config), a .env file and GWR_* environment variables.`,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setup loads the configuration and installs the global logger before any
// subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	zap.L().Debug("config loaded",
		zap.String("command", cmd.Name()),
		zap.String("config_file", configFile),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
