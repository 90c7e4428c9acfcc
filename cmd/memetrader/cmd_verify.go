package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"memetrader/internal/dataset"
	"memetrader/internal/verification"
)

var (
	verifyDataset string
	verifyRunDir  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that runs are reproducible",
	Long: `Check reproducibility in one of two ways:

  --dataset   backtest the dataset twice and compare the artifacts byte for byte
  --run-dir   replay a run's captured snapshots.jsonl and compare every decision
              and trade with what the run recorded

A run that received acknowledgments over the control API can only be
reproduced when the same acknowledgments are replayed, which verify does not do.`,
	Example: `  memetrader verify --dataset data/pairs/
  memetrader verify --run-dir runs/live-1234`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyDataset, "dataset", "", "Dataset to backtest twice")
	verifyCmd.Flags().StringVar(&verifyRunDir, "run-dir", "", "Run directory with snapshots.jsonl")
	verifyCmd.MarkFlagsMutuallyExclusive("dataset", "run-dir")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	if verifyDataset == "" && verifyRunDir == "" {
		return errors.New("--dataset or --run-dir is required")
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signalContext()
	defer stop()

	v := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		Config:     e.cfg.Pipeline,
		ConfigHash: e.hash,
		Logger:     e.logger,
	})

	if verifyDataset != "" {
		ds, err := dataset.Load(verifyDataset, e.cfg.Dataset)
		if err != nil {
			return err
		}
		same, err := v.VerifyDeterminism(ctx, ds)
		if err != nil {
			return err
		}
		if !same {
			return errors.New("backtest is not deterministic: artifacts differ between runs")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deterministic: artifacts identical across two runs")
		return nil
	}

	report, err := v.VerifyRun(ctx, verifyRunDir)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Match() {
		return fmt.Errorf("replay diverged: %d mismatched records", len(report.Mismatches))
	}
	return nil
}
