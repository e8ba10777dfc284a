package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/config"
	"github.com/zhouzirui/heartline/backend/pkg/logging"
)

var (
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "heartline",
	Short: "Emotion-aware counseling conversation service",
	Long: `heartline runs a counseling agent that reads the user's emotion from
text, voice and face, reconciles the channels and answers with that context.

Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(chatCmd)
}
