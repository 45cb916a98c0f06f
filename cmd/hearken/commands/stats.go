package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
)

var statsTop int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show correction statistics and local model state",
	Long: `Report what the review loop has learned: total corrections, the most
misrecognized words, confidence calibration per decile, and how far the
local fallback model is from its next training run.

Examples:
  hearken stats
  hearken stats --top 25
  hearken stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "misrecognized words to show, 0 for all")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd.Context(), app.WithoutBackends())
	if err != nil {
		return err
	}
	defer closeApp(a)

	st := a.TrainingStats(statsTop)
	if outputJSON {
		return printJSON(st)
	}

	fmt.Printf("corrections          %d\n", st.Learning.TotalCorrections)
	fmt.Printf("misrecognized words  %d\n", st.Learning.UniqueMisrecognized)
	fmt.Printf("improved words       %d\n", st.Learning.UniqueImproved)

	if len(st.Learning.TopMisrecognized) > 0 {
		fmt.Println("\ntop misrecognized:")
		for _, e := range st.Learning.TopMisrecognized {
			fmt.Printf("  %-20s %4dx  avg conf %.2f\n", e.Word, e.Count, e.AvgConfidence)
		}
	}

	if st.Learning.CalibrationSamples > 0 {
		fmt.Printf("\ncalibration (%d outcomes):\n", st.Learning.CalibrationSamples)
		for _, d := range st.Learning.Calibration {
			if d.Total == 0 {
				continue
			}
			fmt.Printf("  %.1f-%.1f  %4d/%-4d  %3.0f%% correct\n",
				d.Low, d.High, d.Correct, d.Total, d.Accuracy*100)
		}
	}

	fmt.Println()
	printModelInfo(st.LocalModel)
	if st.SamplesUntilTrainable > 0 {
		fmt.Printf("samples until trainable: %d\n", st.SamplesUntilTrainable)
	}
	return nil
}
