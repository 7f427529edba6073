package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "")
	t.Setenv("PDM_EXPERIMENT", "")
	t.Setenv("SERVE_COMMAND", "")
	t.Setenv("ARTIFACT_BACKEND", "")

	cfg := Load()

	assert.Equal(t, "http://127.0.0.1:5000", cfg.TrackingURI)
	assert.Equal(t, "PredictiveMaintenance_Experiment", cfg.ExperimentName)
	assert.Equal(t, "file", cfg.ArtifactBackend)
	assert.Empty(t, cfg.ServeCommand)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://tracking:5000")
	t.Setenv("SERVE_COMMAND", "mlflow models serve --env-manager local")
	t.Setenv("MINIO_SECURE", "true")

	cfg := Load()

	assert.Equal(t, "http://tracking:5000", cfg.TrackingURI)
	assert.Equal(t, []string{"mlflow", "models", "serve", "--env-manager", "local"}, cfg.ServeCommand)
	assert.True(t, cfg.MinioSecure)
}
