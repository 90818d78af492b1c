// Package app contains the Cobra command tree for cleansight.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/config"
	"github.com/cleansight/analytics/internal/logging"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagConfig  string
	flagJSON    bool
	flagVerbose bool
)

// Loaded by the root PersistentPreRunE for every subcommand.
var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "cleansight",
	Short: "Surface-cleaning hygiene analytics",
	Long: `cleansight scores surface-cleaning sessions from a wipe coverage grid,
ranks them against similar historical sessions and narrates what was missed.

Run 'cleansight serve' to start the HTTP service, or 'cleansight analyze' to
score a single recorded session offline.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/cleansight/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts := logging.Options{Level: loaded.Logging.Level, Format: loaded.Logging.Format}
	if flagVerbose {
		opts.Level = "debug"
	}
	l, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	cfg, logger = loaded, l
	return nil
}

func teardown(*cobra.Command, []string) error {
	// Sync fails on terminals (ENOTTY); nothing useful to report.
	_ = logger.Sync()
	return nil
}
