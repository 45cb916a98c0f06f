package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
	"github.com/hearkenlabs/hearken/internal/review"
)

var reviewWords bool

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List pending review items",
	Long: `List clips (or, with --words, individual words) that were transcribed
below the review threshold and are waiting for a human verdict.

Resolve items with 'hearken correct' or 'hearken skip'.

Examples:
  hearken reviews
  hearken reviews --words
  hearken reviews --json`,
	Args: cobra.NoArgs,
	RunE: runReviews,
}

func init() {
	reviewsCmd.Flags().BoolVar(&reviewWords, "words", false, "list flagged words instead of clips")

	rootCmd.AddCommand(reviewsCmd)
}

func runReviews(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, _, err := openApp(ctx, app.WithoutBackends())
	if err != nil {
		return err
	}
	defer closeApp(a)

	var items []review.Item
	if reviewWords {
		items, err = a.ListPendingWords(ctx)
	} else {
		items, err = a.ListPendingClips(ctx)
	}
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("review queue is empty")
		return nil
	}
	for _, it := range items {
		printItem(it)
	}
	fmt.Printf("%d pending\n", len(items))
	return nil
}

func printItem(it review.Item) {
	fmt.Printf("%s  %s  %.2f", it.ID, it.CreatedAt.Local().Format("2006-01-02 15:04"), it.Confidence)
	if it.Source != "" {
		fmt.Printf("  via %s", it.Source)
	}
	fmt.Println()
	if it.Kind == review.KindWord {
		fmt.Printf("    word %q", it.Word)
		if len(it.UncertaintyReasons) > 0 {
			fmt.Printf(" (%s)", strings.Join(it.UncertaintyReasons, ", "))
		}
		fmt.Println()
		if it.Surrounding != "" {
			fmt.Printf("    context: %s\n", it.Surrounding)
		}
	} else {
		fmt.Printf("    %q\n", it.Text)
	}
}
