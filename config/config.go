package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Tracking
	TrackingURI    string
	ExperimentName string

	// Pipeline
	ParamsFile   string
	LogLevel     string
	ServeCommand []string

	// Tracking server
	ServerPort  string
	DatabaseURL string

	// Artifact storage
	ArtifactBackend string
	ArtifactRoot    string
	ArtifactBucket  string
	AWSRegion       string

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
}

// Load loads configuration from a .env file, if present, and environment variables
func Load() *Config {
	// A missing .env file is fine; the process environment still applies
	_ = godotenv.Load()

	return &Config{
		TrackingURI:     getEnv("MLFLOW_TRACKING_URI", "http://127.0.0.1:5000"),
		ExperimentName:  getEnv("PDM_EXPERIMENT", "PredictiveMaintenance_Experiment"),
		ParamsFile:      getEnv("PDM_PARAMS", "params.yaml"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServeCommand:    strings.Fields(getEnv("SERVE_COMMAND", "")),
		ServerPort:      getEnv("SERVER_PORT", "5000"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		ArtifactBackend: getEnv("ARTIFACT_BACKEND", "file"),
		ArtifactRoot:    getEnv("ARTIFACT_ROOT", "./mlartifacts"),
		ArtifactBucket:  getEnv("ARTIFACT_BUCKET", "mlflow"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioSecure:     getEnv("MINIO_SECURE", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
