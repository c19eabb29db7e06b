package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/config"
	"github.com/schoolist/edgeservice/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeservice",
	Short: "OIDC edge service for the frontend",
	Long: `edgeservice terminates the OpenID Connect login for the browser frontend,
keeps server-side sessions, authorizes every request against an ordered path
policy and forwards the rest to upstream services.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger, err = logging.New(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: EDGE_DATABASE_URL)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (env: EDGE_OBSERVABILITY_LOG_LEVEL)")

	_ = viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("observability.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
