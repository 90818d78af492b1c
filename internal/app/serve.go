package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/server"
)

var serveFlagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analytics service",
	Long: `Serve accepts cleaning sessions over HTTP, answers each with its
analysis immediately and refines it in the background with similar
historical sessions and a streamed narrative. SIGINT or SIGTERM drains
in-flight requests and cancels pending refinements.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlagAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	orch := d.orchestrator(cfg, logger)
	defer orch.Close()

	sc := cfg.Server
	if serveFlagAddr != "" {
		sc.Addr = serveFlagAddr
	}
	logger.Info("cleansight starting",
		zap.String("version", appVersion),
		zap.String("index", cfg.Index.Backend),
		zap.String("narrative", cfg.Narrative.Provider))
	return server.New(sc, orch, logger).ListenAndServe(ctx)
}
