package stages

import (
	"context"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/dataset"
	"pdm-pipeline/core/evaluation"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/spec"
	"pdm-pipeline/core/tracking"
)

// EvaluateResult summarizes an evaluation run
type EvaluateResult struct {
	RunID        string
	Scores       evaluation.Scores
	ModelVersion *models.ModelVersion
}

// Evaluate scores a model on the processed test data, logs it into the
// evaluation run and registers that copy as a new model version
func (p *Pipeline) Evaluate(ctx context.Context, params spec.EvaluateParams) (*EvaluateResult, error) {
	if params.ModelURI == "" {
		return nil, apperr.Invalid("a model uri is required")
	}
	name := params.ModelName
	if name == "" {
		name = spec.DefaultModelName
	}

	var result *EvaluateResult
	err := Execute(ctx, p.client, p.experiment, StageEvaluate, func(ctx context.Context, run *tracking.Run) error {
		if err := run.LogParams(ctx, map[string]interface{}{
			"model_uri": params.ModelURI,
			"test_data": params.TestData,
		}); err != nil {
			return err
		}

		frame, err := dataset.ReadCSV(params.TestData)
		if err != nil {
			return err
		}
		model, err := p.client.LoadModel(ctx, params.ModelURI)
		if err != nil {
			return err
		}

		X, y, _, err := dataset.XY(frame, dataset.LabelColumn, dataset.UnitColumn, dataset.CycleColumn)
		if err != nil {
			return err
		}
		if len(model.Metadata.FeatureNames) > 0 {
			if X, err = dataset.Select(frame, model.Metadata.FeatureNames); err != nil {
				return err
			}
		}

		pred, err := model.Predict(X)
		if err != nil {
			return err
		}
		scores, err := evaluation.Score(y, pred)
		if err != nil {
			return err
		}
		if err := run.LogMetrics(ctx, scores.Map("test_")); err != nil {
			return err
		}

		if _, err := run.LogModel(ctx, model, ModelArtifactPath); err != nil {
			return err
		}
		mv, err := RegisterModel(ctx, p.client, run, name)
		if err != nil {
			return err
		}

		p.logger.Info("model evaluated",
			zap.String("run_id", run.ID),
			zap.Float64("test_accuracy", scores.Accuracy),
			zap.Float64("test_f1_score", scores.F1),
			zap.String("model_name", mv.Name),
			zap.Int("model_version", mv.Version),
		)
		result = &EvaluateResult{RunID: run.ID, Scores: scores, ModelVersion: mv}
		return nil
	})
	return result, err
}

// RegisterModel registers the model logged in run under name as a new version
func RegisterModel(ctx context.Context, client *tracking.Client, run *tracking.Run, name string) (*models.ModelVersion, error) {
	if run.Ended() {
		return nil, apperr.State("cannot register model %q without an active run", name)
	}
	return client.RegisterModel(ctx, name, run.ModelURI(ModelArtifactPath), run.ID)
}
