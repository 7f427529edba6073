package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdm-pipeline/core/evaluation"
)

// trainCmd fits the random forest on the processed training data
var trainCmd = &cobra.Command{
	Use:   "train [n_estimators] [max_depth]",
	Short: "train a random forest on the processed training data",
	Example: `  $ pdm train
  $ pdm train 200 8`,
	Args: cobra.MaximumNArgs(2),
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	params := current.params.Train
	if err := intArg(args, 0, "n_estimators", &params.NEstimators); err != nil {
		return err
	}
	if err := intArg(args, 1, "max_depth", &params.MaxDepth); err != nil {
		return err
	}

	result, err := current.pipeline.Train(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Printf("train finished (run %s)\n", result.RunID)
	fmt.Printf("  model: %s\n", result.ModelURI)
	printScores("  ", result.Scores)
	return nil
}

func printScores(indent string, s evaluation.Scores) {
	fmt.Printf("%saccuracy:  %.4f\n", indent, s.Accuracy)
	fmt.Printf("%sprecision: %.4f\n", indent, s.Precision)
	fmt.Printf("%srecall:    %.4f\n", indent, s.Recall)
	fmt.Printf("%sf1:        %.4f\n", indent, s.F1)
}
