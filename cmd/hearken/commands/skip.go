package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
)

var (
	skipWord     bool
	skipReviewer string
)

var skipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Archive a review item as acceptable as-is",
	Long: `Mark a pending review item as correct despite its low confidence. No
override or training sample is recorded, but the calibration statistics
learn that this confidence level was trustworthy.

Examples:
  hearken skip 3f2a...
  hearken skip --word 9c1b...`,
	Args: cobra.ExactArgs(1),
	RunE: runSkip,
}

func init() {
	skipCmd.Flags().BoolVar(&skipWord, "word", false, "the id names a flagged word, not a clip")
	skipCmd.Flags().StringVar(&skipReviewer, "reviewer", "", "reviewer name recorded on the item")

	rootCmd.AddCommand(skipCmd)
}

func runSkip(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := openApp(ctx, app.WithoutBackends())
	if err != nil {
		return err
	}
	defer closeApp(a)

	if skipWord {
		err = a.SkipWord(ctx, args[0], skipReviewer)
	} else {
		err = a.SkipClip(ctx, args[0], skipReviewer)
	}
	if err != nil {
		return err
	}
	fmt.Printf("skipped %s\n", args[0])
	return nil
}
