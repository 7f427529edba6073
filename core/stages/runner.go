// Package stages runs the pipeline stages, each inside its own tracked run.
package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pdm-pipeline/core/models"
	"pdm-pipeline/core/tracking"
)

// Stage and run names
const (
	StagePreprocess     = "preprocess"
	StagePreprocessTest = "preprocess_test"
	StageTrain          = "train"
	StageEvaluate       = "evaluate"
	StageDeploy         = "deploy"
)

// ModelArtifactPath is the artifact directory a fitted model is logged under
const ModelArtifactPath = "random_forest_model"

// StageFunc is the body of a stage, given its open run
type StageFunc func(ctx context.Context, run *tracking.Run) error

// Execute starts a run named runName in experiment, runs fn, records
// <runName>_status as 1 or 0 and ends the run FINISHED or FAILED.
// The error of fn is returned unchanged.
func Execute(ctx context.Context, client *tracking.Client, experiment, runName string, fn StageFunc) error {
	expID, err := client.GetOrCreateExperiment(ctx, experiment)
	if err != nil {
		return fmt.Errorf("failed to get experiment %q: %w", experiment, err)
	}

	run, err := client.StartRun(ctx, expID, runName)
	if err != nil {
		return err
	}

	stageErr := fn(ctx, run)

	status, value := models.RunStatusFinished, 1.0
	if stageErr != nil {
		status, value = models.RunStatusFailed, 0.0
	}

	// Bookkeeping uses a fresh context so a cancelled stage still closes its run
	cleanup := context.WithoutCancel(ctx)
	if !run.Ended() {
		if err := run.LogMetric(cleanup, runName+"_status", value); err != nil && stageErr == nil {
			stageErr = err
			status = models.RunStatusFailed
		}
		if err := run.End(cleanup, status); err != nil && stageErr == nil {
			return err
		}
	}
	return stageErr
}

// Pipeline runs the stages against one tracking server and experiment
type Pipeline struct {
	client     *tracking.Client
	experiment string
	logger     *zap.Logger
}

// NewPipeline creates a stage runner
func NewPipeline(client *tracking.Client, experiment string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{client: client, experiment: experiment, logger: logger}
}

// Client returns the tracking client
func (p *Pipeline) Client() *tracking.Client {
	return p.client
}

// Experiment returns the experiment name
func (p *Pipeline) Experiment() string {
	return p.experiment
}
