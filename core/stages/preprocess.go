package stages

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/dataset"
	"pdm-pipeline/core/features"
	"pdm-pipeline/core/labeling"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/spec"
	"pdm-pipeline/core/tracking"
)

// TrendsFileName is the sensor trend artifact of the train preprocessing run
const TrendsFileName = "sensor_trends.csv"

// PreprocessResult summarizes a preprocessing run
type PreprocessResult struct {
	RunID        string
	OutputPath   string
	NumSamples   int
	NumFeatures  int
	FailureRatio float64
}

// Preprocess builds labeled features from the raw training log
func (p *Pipeline) Preprocess(ctx context.Context, params spec.PreprocessParams) (*PreprocessResult, error) {
	var result *PreprocessResult
	err := Execute(ctx, p.client, p.experiment, StagePreprocess, func(ctx context.Context, run *tracking.Run) error {
		if err := run.LogParams(ctx, map[string]interface{}{
			"window_size": params.WindowSize,
			"input_path":  params.TrainInput,
			"horizon":     horizonOf(params),
		}); err != nil {
			return err
		}

		rows, err := p.buildRows(ctx, params.TrainInput, params.WindowSize, params.Horizon, nil)
		if err != nil {
			return err
		}

		result, err = p.writeAndLog(ctx, run, rows, params.TrainOutput)
		if err != nil {
			return err
		}

		return p.logTrends(ctx, run, rows, params.TrendSensor, params.TrendUnits)
	})
	return result, err
}

// PreprocessTest builds labeled features from the raw test log. With a RUL
// file the labels use each unit's true end of life; without one every test
// trace is treated as run to failure.
func (p *Pipeline) PreprocessTest(ctx context.Context, params spec.PreprocessParams) (*PreprocessResult, error) {
	var result *PreprocessResult
	err := Execute(ctx, p.client, p.experiment, StagePreprocessTest, func(ctx context.Context, run *tracking.Run) error {
		logged := map[string]interface{}{
			"window_size": params.WindowSize,
			"input_path":  params.TestInput,
			"horizon":     horizonOf(params),
		}
		if params.RULFile != "" {
			logged["rul_file"] = params.RULFile
		}
		if err := run.LogParams(ctx, logged); err != nil {
			return err
		}

		var remaining map[int]int
		if params.RULFile != "" {
			var err error
			if remaining, err = features.ReadRUL(params.RULFile); err != nil {
				return err
			}
		} else {
			p.logger.Warn("no RUL file given, labeling test units as if they ran to failure",
				zap.String("input_path", params.TestInput))
		}

		rows, err := p.buildRows(ctx, params.TestInput, params.WindowSize, params.Horizon, remaining)
		if err != nil {
			return err
		}

		result, err = p.writeAndLog(ctx, run, rows, params.TestOutput)
		if err != nil {
			return err
		}
		return run.LogArtifact(ctx, params.TestOutput, "")
	})
	return result, err
}

func horizonOf(params spec.PreprocessParams) int {
	if params.Horizon <= 0 {
		return labeling.DefaultHorizon
	}
	return params.Horizon
}

func (p *Pipeline) buildRows(ctx context.Context, input string, window, horizon int, remaining map[int]int) ([]models.FeatureRow, error) {
	readings, err := features.ReadReadings(input)
	if err != nil {
		return nil, err
	}

	builder, err := features.NewBuilder(window, p.logger)
	if err != nil {
		return nil, err
	}
	rows, err := builder.Build(ctx, readings)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.DataShape("no rows of %s have a full window of %d cycles", input, window)
	}

	labeling.NewLabeler(horizon).Apply(rows, remaining)

	p.logger.Info("features built",
		zap.String("input_path", input),
		zap.Int("readings", len(readings)),
		zap.Int("rows", len(rows)),
		zap.Int("window_size", window),
	)
	return rows, nil
}

// writeAndLog writes the processed CSV and logs the dataset metrics
func (p *Pipeline) writeAndLog(ctx context.Context, run *tracking.Run, rows []models.FeatureRow, output string) (*PreprocessResult, error) {
	frame := dataset.FromFeatureRows(rows)
	if err := dataset.WriteCSV(output, frame); err != nil {
		return nil, err
	}

	failures := 0
	for _, r := range rows {
		failures += r.Failure
	}
	result := &PreprocessResult{
		RunID:        run.ID,
		OutputPath:   output,
		NumSamples:   frame.Len(),
		NumFeatures:  len(frame.Columns) - 1,
		FailureRatio: float64(failures) / float64(len(rows)),
	}

	if err := run.LogMetrics(ctx, map[string]float64{
		"num_samples":   float64(result.NumSamples),
		"num_features":  float64(result.NumFeatures),
		"failure_ratio": result.FailureRatio,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// logTrends logs one sensor's readings over the cycles of the first units
func (p *Pipeline) logTrends(ctx context.Context, run *tracking.Run, rows []models.FeatureRow, sensor, units int) error {
	if sensor < 1 || sensor > models.NumSensors {
		return apperr.Invalid("trend sensor must be in 1..%d, got %d", models.NumSensors, sensor)
	}
	column := dataset.SensorColumn(sensor)

	frame := dataset.NewFrame([]string{dataset.UnitColumn, dataset.CycleColumn, column})
	picked := make(map[int]bool)
	for _, r := range rows {
		if !picked[r.Unit] {
			if len(picked) >= units {
				continue
			}
			picked[r.Unit] = true
		}
		if err := frame.Append([]float64{float64(r.Unit), float64(r.Cycle), r.Sensors[sensor-1]}); err != nil {
			return err
		}
	}

	dir, err := os.MkdirTemp("", "pdm-trends-")
	if err != nil {
		return apperr.IO(err, "failed to create temp directory")
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, TrendsFileName)
	if err := dataset.WriteCSV(path, frame); err != nil {
		return err
	}
	p.logger.Debug("sensor trends logged", zap.String("sensor", column), zap.Int("units", len(picked)))
	return run.LogArtifact(ctx, path, "")
}
