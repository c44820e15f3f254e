package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/intent-sensor/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sensor",
		Short: "Detect buying intent on a page and open a sales chat",
		Long: `sensor observes a visitor's browsing behavior, reports it to the intent
backend and shows a contextual chat widget once the backend decides the
visitor is likely to buy.

Configuration comes from the environment (a .env file is loaded when
present) and may be overridden by a YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file overlaid on the environment")

	root.AddCommand(
		newWatchCmd(a),
		newStubCmd(a),
		newSessionCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(a.logger)
	a.logger.Info("Configuration loaded", "config", cfg)
	return nil
}
