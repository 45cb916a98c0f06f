package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
	"github.com/hearkenlabs/hearken/internal/fallback"
)

var rebuildOverride bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the local fallback model on accumulated corrections",
	Long: `Cluster the corrected samples into a new local model version. Fails
until enough corrections have accumulated; 'hearken stats' shows how
many more are needed.

With --rebuild-override, the correction journal is replayed into the
override map instead. That is a recovery path for a lost or corrupted
override file.

Examples:
  hearken train
  hearken train --rebuild-override`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().BoolVar(&rebuildOverride, "rebuild-override", false, "replay the journal into the override map instead of training")

	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, _, err := openApp(ctx, app.WithoutBackends())
	if err != nil {
		return err
	}
	defer closeApp(a)

	if rebuildOverride {
		n, err := a.RebuildOverride(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("override map rebuilt, %d entries\n", n)
		return nil
	}

	if err := a.TrainLocalModel(ctx); err != nil {
		return err
	}
	info := a.LocalModelInfo()
	if outputJSON {
		return printJSON(info)
	}
	fmt.Println("local model trained")
	printModelInfo(info)
	return nil
}

func printModelInfo(info fallback.Info) {
	fmt.Print("local model          ")
	if info.Trained {
		fmt.Printf("%s, trained %s\n", info.Version, info.TrainedAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Println("untrained")
	}
	fmt.Printf("samples              %d (%d unique texts)\n", info.SampleCount, info.UniqueTexts)
	if info.Clusters > 0 {
		fmt.Printf("clusters             %d\n", info.Clusters)
	}
	fmt.Printf("offline recognizer   %v\n", info.OfflineReady)
	fmt.Printf("sample index         %v\n", info.Indexed)
}
