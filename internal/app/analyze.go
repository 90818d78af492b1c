package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/ingest"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
	"github.com/cleansight/analytics/internal/view"
)

var (
	analyzeFlagPrompt  bool
	analyzeFlagNarrate bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <session.json>",
	Short: "Score one recorded session offline",
	Long: `Analyze reads an ingest request (a file path, or - for stdin), validates
it and prints its quality metrics, risk tally and missed cells. Nothing is
stored in the similarity index.

With --narrate the configured narrative provider streams its explanation to
stdout, falling back to the built-in steps if the provider fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeFlagPrompt, "prompt", false, "Print the narrative prompt instead of the metrics")
	analyzeCmd.Flags().BoolVar(&analyzeFlagNarrate, "narrate", false, "Stream a narrative after the metrics")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	req, err := readRequest(cmd, args[0])
	if err != nil {
		return err
	}

	orch := ingest.New(view.NewHub(), nil, nil, nil, ingest.Options{
		Analysis: cfg.AnalysisOptions(),
		Salt:     cfg.Privacy.Salt,
	}, logger)
	defer orch.Close()

	s, a, err := orch.Prepare(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case analyzeFlagPrompt:
		fmt.Fprintln(out, narrative.BuildPrompt(s, a))
		return nil
	case flagJSON:
		return writeJSON(cmd, a)
	}

	fmt.Fprintf(out, "Session %s  room %s  surface %s\n", s.ID, s.RoomID, s.SurfaceID)
	fmt.Fprintln(out, renderMetrics(a))
	if len(a.MissedCells) > 0 {
		fmt.Fprintln(out, renderMissed(a.MissedCells))
	}
	if !analyzeFlagNarrate {
		return nil
	}
	return narrate(cmd, req)
}

func readRequest(cmd *cobra.Command, path string) (session.IngestRequest, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return session.IngestRequest{}, fmt.Errorf("open session: %w", err)
		}
		defer f.Close()
		r = f
	}
	var req session.IngestRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("parse session %s: %w", path, err)
	}
	return req, nil
}

// narrate streams text deltas to stdout. A provider failure prints its cause
// on its own line before the fallback text.
func narrate(cmd *cobra.Command, req session.IngestRequest) error {
	d, err := buildDeps(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	orch := d.orchestrator(cfg, logger)
	defer orch.Close()

	out := cmd.OutOrStdout()
	var mode narrative.Mode
	sent := 0
	_, err = orch.Narrate(cmd.Context(), req, func(snap narrative.Snapshot) {
		if snap.State == narrative.Failed {
			fmt.Fprintf(out, "\n[narrative provider failed: %s]\n", snap.Cause)
			return
		}
		if snap.Mode != mode {
			mode, sent = snap.Mode, 0
		}
		if len(snap.Text) > sent {
			fmt.Fprint(out, snap.Text[sent:])
			sent = len(snap.Text)
		}
	})
	fmt.Fprintln(out)
	return err
}

func renderMetrics(a analysis.Analysis) string {
	rows := [][]string{
		{"Quality score", fmt.Sprintf("%.1f", a.QualityScore)},
		{"Coverage", fmt.Sprintf("%.1f%%", a.CoveragePercent)},
		{"High-touch coverage", percentOrNA(a.HighTouchPercent)},
		{"Low-touch coverage", percentOrNA(a.LowTouchPercent)},
		{"Overwipe ratio", fmt.Sprintf("%.2f", a.OverwipeRatio)},
		{"Uniformity", fmt.Sprintf("%.2f", a.Uniformity)},
		{"Cells touched", fmt.Sprintf("%d / %d", a.TouchedCells, a.TotalCells)},
		{"Hotspots", fmt.Sprint(len(a.Hotspots))},
		{"Risk", fmt.Sprintf("%d critical, %d high, %d medium, %d low",
			a.RiskCounts.Critical, a.RiskCounts.High, a.RiskCounts.Medium, a.RiskCounts.Low)},
		{"Flags", flagList(a.Flags)},
		{"Protocol", a.Protocol},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderMissed(cells []analysis.MissedCell) string {
	rows := make([][]string, len(cells))
	for i, c := range cells {
		rows[i] = []string{fmt.Sprint(i + 1), fmt.Sprint(c.Row), fmt.Sprint(c.Col), c.Priority}
	}
	return renderTable([]string{"#", "Row", "Col", "Priority"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft})
}

func percentOrNA(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func flagList(flags []analysis.Flag) string {
	if len(flags) == 0 {
		return "none"
	}
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
