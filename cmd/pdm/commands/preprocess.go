package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pdm-pipeline/core/stages"
)

// preprocessCmd builds the labelled training feature table
var preprocessCmd = &cobra.Command{
	Use:   "preprocess [input] [output]",
	Short: "build rolling features and failure labels for the training units",
	Example: `  $ pdm preprocess
  $ pdm preprocess data/raw/train_FD001.txt data/processed/train_processed.csv`,
	Args: cobra.MaximumNArgs(2),
	RunE: runPreprocess,
}

// preprocessTestCmd builds the labelled test feature table
var preprocessTestCmd = &cobra.Command{
	Use:   "preprocess-test [input] [output] [rul_file]",
	Short: "build rolling features and failure labels for the test units",
	Long: `Build the test feature table. When a RUL file with the true remaining
cycles of every test unit is given, labels account for it; otherwise the last
observed cycle of each unit is treated as its failure.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runPreprocessTest,
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	params := current.params.Preprocess
	if len(args) > 0 {
		params.TrainInput = args[0]
	}
	if len(args) > 1 {
		params.TrainOutput = args[1]
	}

	result, err := current.pipeline.Preprocess(cmd.Context(), params)
	if err != nil {
		return err
	}
	printPreprocess(stages.StagePreprocess, result)
	return nil
}

func runPreprocessTest(cmd *cobra.Command, args []string) error {
	params := current.params.Preprocess
	if len(args) > 0 {
		params.TestInput = args[0]
	}
	if len(args) > 1 {
		params.TestOutput = args[1]
	}
	if len(args) > 2 {
		params.RULFile = args[2]
	}

	result, err := current.pipeline.PreprocessTest(cmd.Context(), params)
	if err != nil {
		return err
	}
	printPreprocess(stages.StagePreprocessTest, result)
	return nil
}

func printPreprocess(stage string, r *stages.PreprocessResult) {
	fmt.Printf("%s finished (run %s)\n", stage, r.RunID)
	fmt.Printf("  output:        %s\n", r.OutputPath)
	fmt.Printf("  samples:       %d\n", r.NumSamples)
	fmt.Printf("  features:      %d\n", r.NumFeatures)
	fmt.Printf("  failure ratio: %.4f\n", r.FailureRatio)
}
