package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"memetrader/internal/verification"
)

var auditCmd = &cobra.Command{
	Use:   "audit <run-dir>...",
	Short: "Check the artifacts of run directories for consistency",
	Long: `Check that a run's artifacts agree with each other: reason counts cover
every decision, timestamps never go back, total_pnl equals the sum of
pnl_delta, no candidate holds two positions at once, and trades resolve at
most once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, dir := range args {
		report, err := verification.AuditDir(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed the audit", failed, len(args))
	}
	return nil
}
