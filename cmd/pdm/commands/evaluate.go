package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// evaluateCmd scores a trained model on the test data and registers it
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [model_uri]",
	Short: "evaluate a model on the processed test data and register it",
	Long: `Evaluate a model on the processed test data. The model is logged into the
evaluation run and that copy is registered as a new version of the model name.

The model URI may be runs:/<run_id>/<path>, models:/<name>/<version> or a
local directory holding model.json.`,
	Example: `  $ pdm evaluate runs:/0a1b.../random_forest_model
  $ pdm evaluate models:/PredictiveMaintenanceModel/1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	params := current.params.Evaluate
	if len(args) > 0 {
		params.ModelURI = args[0]
	}

	result, err := current.pipeline.Evaluate(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Printf("evaluate finished (run %s)\n", result.RunID)
	printScores("  test_", result.Scores)
	if v := result.ModelVersion; v != nil {
		fmt.Printf("registered %s version %d\n", v.Name, v.Version)
	}
	return nil
}
