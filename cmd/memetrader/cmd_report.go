package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"memetrader/internal/dataset"
	"memetrader/internal/recorder"
	"memetrader/internal/reporting"
	"memetrader/internal/verification"
)

const (
	reportFile    = "report.md"
	positionsFile = "positions.csv"
)

var reportOutDir string

var reportCmd = &cobra.Command{
	Use:   "report <run-dir>",
	Short: "Render a Markdown report and a positions CSV for a run",
	Long: `Render report.md and positions.csv for a run directory: activity counts,
decision reasons, performance, closed positions and the audit result. When
the run captured snapshots.jsonl, its data sufficiency checks are included.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportOutDir, "output-dir", "", "Output directory (defaults to the run directory)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	run, err := verification.LoadRun(dir)
	if err != nil {
		return err
	}

	var snapshots *dataset.Dataset
	records, err := dataset.ReadSnapshotsFile(filepath.Join(dir, recorder.SnapshotsFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	case len(records) > 0:
		if snapshots, err = dataset.New(recorder.SnapshotsFile, records); err != nil {
			return err
		}
	}

	report := reporting.NewGenerator(dataset.DefaultThresholds()).Generate(run, snapshots)

	out := reportOutDir
	if out == "" {
		out = dir
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, reportFile), []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, positionsFile), []byte(reporting.RenderCSV(report.Positions)), 0o644); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s to %s\n", reportFile, positionsFile, out)
	return nil
}
