package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"examflow/internal/config"
	"examflow/internal/logger"
)

var version = "1.0.0"

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "examflow",
	Short: "Examflow - turns photographed veterinary exams into delivered reports",
	Long: `Examflow reads a photographed veterinary exam, extracts the tutor's CPF and the
exam date, fills the clinic's report template, renders it to PDF, stores both
documents and emails the PDF to the requesting veterinarian.

Configuration is read from defaults, an optional TOML file (--config or
CONFIG_FILE) and environment variables, in that order. A .env file in the
working directory is loaded first.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML configuration file (default: $CONFIG_FILE)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logger.Setup(loaded.GetLoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg = loaded
	log := logger.WithComponent("cmd")
	log.Debug().
		Str("command", cmd.Name()).
		Str("ocr_engine", cfg.OCR.Engine).
		Str("store", cfg.Store.Backend).
		Msg("Configuration loaded")
	return nil
}
