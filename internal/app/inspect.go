package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/logging"
)

var (
	inspectFlagLimit   int
	inspectFlagForget  string
	inspectFlagSession string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Check dependencies and browse stored fingerprints",
	Long: `Inspect checks the configured similarity index and narrative provider,
then lists the most recent fingerprints in the local index.

--session prints the refinement outcome log for one session.
--forget removes one session's fingerprint from the index.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&inspectFlagLimit, "limit", 20, "Number of stored fingerprints to list")
	inspectCmd.Flags().StringVar(&inspectFlagForget, "forget", "", "Delete the fingerprint of this session id")
	inspectCmd.Flags().StringVar(&inspectFlagSession, "session", "", "Show refinement outcomes for this session id")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	out := cmd.OutOrStdout()

	switch {
	case inspectFlagForget != "":
		del, ok := d.store.(index.Deleter)
		if !ok {
			return fmt.Errorf("index backend %q cannot delete sessions", cfg.Index.Backend)
		}
		if err := del.Delete(ctx, inspectFlagForget); err != nil {
			return err
		}
		fmt.Fprintf(out, "forgot %s\n", inspectFlagForget)
		return nil

	case inspectFlagSession != "":
		if d.outcomes == nil {
			return errors.New("outcome log is disabled (logging.outcome_db is empty)")
		}
		entries, err := d.outcomes.ForSession(ctx, inspectFlagSession)
		if err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd, entries)
		}
		fmt.Fprintln(out, renderOutcomes(entries))
		return nil
	}

	orch := d.orchestrator(cfg, logger)
	defer orch.Close()
	report := orch.Health(ctx)
	var records []index.Record
	if local, ok := d.store.(*index.LocalStore); ok {
		if records, err = local.List(ctx, inspectFlagLimit); err != nil {
			return err
		}
	}
	if flagJSON {
		return writeJSON(cmd, map[string]any{"health": report, "fingerprints": records})
	}

	fmt.Fprintln(out, renderTable([]string{"Dependency", "Backend", "Status"}, [][]string{
		{"similarity index", cfg.Index.Backend, report.SimilarityIndex},
		{"narrative provider", cfg.Narrative.Provider, report.NarrativeProvider},
	}, nil))
	if len(records) > 0 {
		fmt.Fprintln(out, renderRecords(records))
	}
	return nil
}

func renderRecords(records []index.Record) string {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.SessionID,
			r.Metadata.RoomID,
			r.Metadata.SurfaceID,
			fmt.Sprintf("%.1f%%", r.Metadata.CoveragePercent),
			r.Metadata.WorstRisk,
			r.Metadata.Protocol,
			r.UpdatedAt.Local().Format(time.DateTime),
		}
	}
	return renderTable(
		[]string{"Session", "Room", "Surface", "Coverage", "Worst risk", "Protocol", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func renderOutcomes(entries []logging.OutcomeEntry) string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.CreatedAt.Local().Format(time.DateTime),
			string(e.Stage),
			string(e.Outcome),
			e.Reason,
		}
	}
	return renderTable([]string{"Time", "Stage", "Outcome", "Reason"}, rows, nil)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
