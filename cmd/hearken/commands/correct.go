package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
)

var (
	correctWord     bool
	correctReviewer string
)

var correctCmd = &cobra.Command{
	Use:   "correct <id> <text>...",
	Short: "Resolve a review item with the corrected text",
	Long: `Submit the human-verified text for a pending review item. The
correction feeds the override map, the misrecognition statistics, and
the local model's training samples, so the same clip transcribes
correctly from then on.

For a flagged word (--word), give the replacement word; the stored
transcript is rewritten around it.

Examples:
  hearken correct 3f2a... turn on the kitchen lights
  hearken correct --word 9c1b... crosswalk
  hearken correct --reviewer dana 3f2a... play some jazz`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCorrect,
}

func init() {
	correctCmd.Flags().BoolVar(&correctWord, "word", false, "the id names a flagged word, not a clip")
	correctCmd.Flags().StringVar(&correctReviewer, "reviewer", "", "reviewer name recorded in the journal")

	rootCmd.AddCommand(correctCmd)
}

func runCorrect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := openApp(ctx, app.WithoutBackends())
	if err != nil {
		return err
	}
	defer closeApp(a)

	id, text := args[0], strings.Join(args[1:], " ")
	if correctWord {
		err = a.SubmitWordCorrection(ctx, id, text, correctReviewer)
	} else {
		err = a.SubmitClipCorrection(ctx, id, text, correctReviewer)
	}
	if err != nil {
		return err
	}
	fmt.Printf("corrected %s\n", id)
	return nil
}
