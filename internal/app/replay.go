package app

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cleansight/analytics/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <fixture.json>",
	Short: "Re-run a recorded fixture and check its expected results",
	Long: `Replay loads a fixture of recorded sessions, runs each through
validation, analysis and in-memory similarity ranking in order, and compares
the results with the fixture's expectations. The command fails when any
expectation is not met.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

type replayReport struct {
	Summary    replay.ReplaySummary  `json:"summary"`
	Results    []replay.ReplayResult `json:"results"`
	Mismatches []string              `json:"mismatches"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return err
	}
	rc, err := f.Config.ToReplayConfig()
	if err != nil {
		return fmt.Errorf("fixture config: %w", err)
	}

	results := replay.Replay(cmd.Context(), f.Sessions, rc)
	summary := replay.Summarize(results)
	var mismatches []string
	if len(f.ExpectedResults) > 0 {
		for _, m := range replay.Check(results, f.ExpectedResults) {
			mismatches = append(mismatches, m.String())
		}
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		if err := writeJSON(cmd, replayReport{Summary: summary, Results: results, Mismatches: mismatches}); err != nil {
			return err
		}
	} else {
		if f.Description != "" {
			fmt.Fprintln(out, f.Description)
		}
		fmt.Fprintln(out, renderReplay(results))
		fmt.Fprintf(out, "%d sessions: %d analyzed, %d rejected, %d failed. Mean quality %.1f.\n",
			summary.TotalSessions, summary.Analyzed, summary.Rejected, summary.Failed, summary.MeanQuality)
		protocols := make([]string, 0, len(summary.Protocols))
		for p := range summary.Protocols {
			protocols = append(protocols, p)
		}
		sort.Strings(protocols)
		for _, p := range protocols {
			fmt.Fprintf(out, "  %-28s %d\n", p, summary.Protocols[p])
		}
		for _, m := range mismatches {
			fmt.Fprintln(out, "MISMATCH", m)
		}
	}

	if len(mismatches) > 0 {
		return fmt.Errorf("%d expectation(s) not met", len(mismatches))
	}
	return nil
}

func renderReplay(results []replay.ReplayResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.Analysis == nil {
			rows = append(rows, []string{r.SessionID, r.Outcome, "", "", r.Reason, ""})
			continue
		}
		top := "-"
		if len(r.Similar) > 0 {
			top = fmt.Sprintf("%s (%.2f)", r.Similar[0].SessionID, r.Similar[0].SimilarityScore)
		}
		rows = append(rows, []string{
			r.SessionID,
			r.Outcome,
			fmt.Sprintf("%.1f%%", r.Analysis.CoveragePercent),
			fmt.Sprintf("%.1f", r.Analysis.QualityScore),
			r.Analysis.Protocol,
			top,
		})
	}
	return renderTable(
		[]string{"Session", "Outcome", "Coverage", "Quality", "Protocol / reason", "Most similar"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}
