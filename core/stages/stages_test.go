package stages_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/dataset"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/spec"
	"pdm-pipeline/core/stages"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/testutil"
)

const experiment = "PredictiveMaintenance_Experiment"

type fixture struct {
	server   *testutil.TrackingServer
	client   *tracking.Client
	pipeline *stages.Pipeline
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := testutil.NewTrackingServer(t)
	logger := zaptest.NewLogger(t)
	client := tracking.NewClient(server.URL, logger)
	return &fixture{
		server:   server,
		client:   client,
		pipeline: stages.NewPipeline(client, experiment, logger),
		dir:      t.TempDir(),
	}
}

// writeRawLog writes units of the given length whose sensors track remaining life
func writeRawLog(t *testing.T, path string, units, cycles int) {
	t.Helper()
	var b strings.Builder
	for u := 1; u <= units; u++ {
		for c := 1; c <= cycles; c++ {
			fields := []string{fmt.Sprint(u), fmt.Sprint(c), "0.0", "0.0", "100.0"}
			for s := 1; s <= models.NumSensors; s++ {
				fields = append(fields, fmt.Sprintf("%.2f", float64(cycles-c)+float64(s)/10))
			}
			b.WriteString(strings.Join(fields, " "))
			b.WriteString("\n")
		}
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func (f *fixture) preprocessParams(t *testing.T) spec.PreprocessParams {
	t.Helper()
	params := spec.Default().Preprocess
	params.TrainInput = filepath.Join(f.dir, "train_FD001.txt")
	params.TrainOutput = filepath.Join(f.dir, "processed", "train_processed.csv")
	params.TestInput = filepath.Join(f.dir, "test_FD001.txt")
	params.TestOutput = filepath.Join(f.dir, "processed", "test_processed.csv")
	writeRawLog(t, params.TrainInput, 4, 60)
	writeRawLog(t, params.TestInput, 2, 60)
	return params
}

func (f *fixture) run(t *testing.T, runID string) *models.Run {
	t.Helper()
	run, err := f.server.Store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	return run
}

func TestExecuteRecordsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var okID string
	err := stages.Execute(ctx, f.client, experiment, "train", func(ctx context.Context, run *tracking.Run) error {
		okID = run.ID
		return nil
	})
	require.NoError(t, err)
	ok := f.run(t, okID)
	assert.Equal(t, models.RunStatusFinished, ok.Status)
	assert.Equal(t, 1.0, tracking.LatestMetrics(ok)["train_status"])

	boom := errors.New("boom")
	var failedID string
	err = stages.Execute(ctx, f.client, experiment, "evaluate", func(ctx context.Context, run *tracking.Run) error {
		failedID = run.ID
		return boom
	})
	assert.Same(t, boom, err)
	failed := f.run(t, failedID)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	assert.Equal(t, 0.0, tracking.LatestMetrics(failed)["evaluate_status"])
}

func TestPreprocess(t *testing.T) {
	f := newFixture(t)
	params := f.preprocessParams(t)

	result, err := f.pipeline.Preprocess(context.Background(), params)
	require.NoError(t, err)

	// 56 windows per unit, the last 31 cycles of each unit are failure-imminent
	assert.Equal(t, 224, result.NumSamples)
	assert.Equal(t, 69, result.NumFeatures)
	assert.InDelta(t, 124.0/224.0, result.FailureRatio, 1e-12)

	frame, err := dataset.ReadCSV(params.TrainOutput)
	require.NoError(t, err)
	assert.Equal(t, dataset.ProcessedColumns(), frame.Columns)
	assert.Equal(t, 224, frame.Len())

	run := f.run(t, result.RunID)
	assert.Equal(t, models.RunStatusFinished, run.Status)
	assert.Equal(t, "5", tracking.ParamMap(run)["window_size"])
	assert.Equal(t, params.TrainInput, tracking.ParamMap(run)["input_path"])
	metrics := tracking.LatestMetrics(run)
	assert.Equal(t, 224.0, metrics["num_samples"])
	assert.Equal(t, 1.0, metrics["preprocess_status"])

	root, err := tracking.ArtifactPath(run.ArtifactURI)
	require.NoError(t, err)
	items, err := f.client.ListArtifacts(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, root+"/"+stages.TrendsFileName, items[0].Path)
}

func TestPreprocessMissingInputFailsRun(t *testing.T) {
	f := newFixture(t)
	params := spec.Default().Preprocess
	params.TrainInput = filepath.Join(f.dir, "absent.txt")
	params.TrainOutput = filepath.Join(f.dir, "out.csv")

	_, err := f.pipeline.Preprocess(context.Background(), params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrIO))
}

func TestPreprocessTestUsesRULFile(t *testing.T) {
	f := newFixture(t)
	params := f.preprocessParams(t)

	withoutRUL, err := f.pipeline.PreprocessTest(context.Background(), params)
	require.NoError(t, err)
	assert.InDelta(t, 62.0/112.0, withoutRUL.FailureRatio, 1e-12)

	params.RULFile = filepath.Join(f.dir, "RUL_FD001.txt")
	require.NoError(t, os.WriteFile(params.RULFile, []byte("100\n10\n"), 0o644))

	withRUL, err := f.pipeline.PreprocessTest(context.Background(), params)
	require.NoError(t, err)
	// unit 1 is far from failure, unit 2 has its last 21 windows inside the horizon
	assert.InDelta(t, 21.0/112.0, withRUL.FailureRatio, 1e-12)

	run := f.run(t, withRUL.RunID)
	assert.Equal(t, params.RULFile, tracking.ParamMap(run)["rul_file"])
	root, err := tracking.ArtifactPath(run.ArtifactURI)
	require.NoError(t, err)
	items, err := f.client.ListArtifacts(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, root+"/test_processed.csv", items[0].Path)
}

func TestTrainEvaluateRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pre := f.preprocessParams(t)
	_, err := f.pipeline.Preprocess(ctx, pre)
	require.NoError(t, err)
	_, err = f.pipeline.PreprocessTest(ctx, pre)
	require.NoError(t, err)

	trainParams := spec.Default().Train
	trainParams.DataPath = pre.TrainOutput
	trainParams.NEstimators = 10
	trained, err := f.pipeline.Train(ctx, trainParams)
	require.NoError(t, err)
	assert.Equal(t, "runs:/"+trained.RunID+"/random_forest_model", trained.ModelURI)
	assert.Greater(t, trained.Scores.Accuracy, 0.9)

	trainRun := f.run(t, trained.RunID)
	params := tracking.ParamMap(trainRun)
	assert.Equal(t, "10", params["n_estimators"])
	assert.Equal(t, "5", params["max_depth"])
	assert.Equal(t, pre.TrainOutput, params["data_path"])
	for _, key := range []string{"accuracy", "precision", "recall", "f1_score", "train_status"} {
		assert.Contains(t, tracking.LatestMetrics(trainRun), key)
	}

	evalParams := spec.EvaluateParams{ModelURI: trained.ModelURI, TestData: pre.TestOutput}
	first, err := f.pipeline.Evaluate(ctx, evalParams)
	require.NoError(t, err)
	assert.Equal(t, spec.DefaultModelName, first.ModelVersion.Name)
	assert.Equal(t, 1, first.ModelVersion.Version)
	assert.Equal(t, "runs:/"+first.RunID+"/random_forest_model", first.ModelVersion.Source)
	assert.Greater(t, first.Scores.Accuracy, 0.9)

	evalRun := f.run(t, first.RunID)
	for _, key := range []string{"test_accuracy", "test_precision", "test_recall", "test_f1_score"} {
		assert.Contains(t, tracking.LatestMetrics(evalRun), key)
	}

	second, err := f.pipeline.Evaluate(ctx, spec.EvaluateParams{
		ModelURI: "models:/" + spec.DefaultModelName + "/1",
		TestData: pre.TestOutput,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ModelVersion.Version)
}

func TestEvaluateUnknownModel(t *testing.T) {
	f := newFixture(t)
	pre := f.preprocessParams(t)
	_, err := f.pipeline.PreprocessTest(context.Background(), pre)
	require.NoError(t, err)

	_, err = f.pipeline.Evaluate(context.Background(), spec.EvaluateParams{
		ModelURI: "models:/" + spec.DefaultModelName + "/7",
		TestData: pre.TestOutput,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.pipeline.Evaluate(context.Background(), spec.EvaluateParams{TestData: pre.TestOutput})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestRegisterModelNeedsActiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := stages.RegisterModel(ctx, f.client, nil, spec.DefaultModelName)
	assert.True(t, apperr.IsState(err))

	expID, err := f.client.GetOrCreateExperiment(ctx, experiment)
	require.NoError(t, err)
	run, err := f.client.StartRun(ctx, expID, "evaluate")
	require.NoError(t, err)
	require.NoError(t, run.End(ctx, models.RunStatusFinished))

	_, err = stages.RegisterModel(ctx, f.client, run, spec.DefaultModelName)
	assert.True(t, apperr.IsState(err))
}
