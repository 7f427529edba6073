package stages

import (
	"context"

	"go.uber.org/zap"

	"pdm-pipeline/core/dataset"
	"pdm-pipeline/core/evaluation"
	"pdm-pipeline/core/spec"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/training/forest"
)

// TrainResult summarizes a training run
type TrainResult struct {
	RunID    string
	ModelURI string
	Scores   evaluation.Scores
}

// Train fits a random forest on the processed training data and logs it
func (p *Pipeline) Train(ctx context.Context, params spec.TrainParams) (*TrainResult, error) {
	var result *TrainResult
	err := Execute(ctx, p.client, p.experiment, StageTrain, func(ctx context.Context, run *tracking.Run) error {
		if err := run.LogParams(ctx, map[string]interface{}{
			"n_estimators": params.NEstimators,
			"max_depth":    params.MaxDepth,
			"data_path":    params.DataPath,
			"test_size":    params.TestSize,
			"random_state": params.Seed,
		}); err != nil {
			return err
		}

		frame, err := dataset.ReadCSV(params.DataPath)
		if err != nil {
			return err
		}
		X, y, names, err := dataset.XY(frame, dataset.LabelColumn, dataset.UnitColumn, dataset.CycleColumn)
		if err != nil {
			return err
		}

		trainIdx, testIdx, err := dataset.Split(len(X), params.TestSize, params.Seed)
		if err != nil {
			return err
		}
		XTrain, yTrain := dataset.Take(X, y, trainIdx)
		XTest, yTest := dataset.Take(X, y, testIdx)

		cfg := forest.DefaultConfig()
		cfg.NEstimators = params.NEstimators
		cfg.MaxDepth = params.MaxDepth
		cfg.Seed = params.Seed
		trainer, err := forest.New(cfg, p.logger)
		if err != nil {
			return err
		}

		model, err := trainer.Fit(ctx, XTrain, yTrain, names)
		if err != nil {
			return err
		}
		model.Metadata.TrainingData = params.DataPath

		pred, err := model.Predict(XTest)
		if err != nil {
			return err
		}
		scores, err := evaluation.Score(yTest, pred)
		if err != nil {
			return err
		}
		if err := run.LogMetrics(ctx, scores.Map("")); err != nil {
			return err
		}

		uri, err := run.LogModel(ctx, model, ModelArtifactPath)
		if err != nil {
			return err
		}

		p.logger.Info("model trained",
			zap.String("run_id", run.ID),
			zap.String("model_uri", uri),
			zap.Int("train_rows", len(XTrain)),
			zap.Int("test_rows", len(XTest)),
			zap.Float64("accuracy", scores.Accuracy),
			zap.Float64("f1_score", scores.F1),
		)
		result = &TrainResult{RunID: run.ID, ModelURI: uri, Scores: scores}
		return nil
	})
	return result, err
}
