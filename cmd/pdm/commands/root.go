// Package commands implements the pdm command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdm-pipeline/config"
	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/spec"
	"pdm-pipeline/core/stages"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/pkg/logger"
)

var (
	paramsFile  string
	logLevel    string
	trackingURI string
	experiment  string
)

// app is what every subcommand runs against, built before each command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	params   *spec.Params
	client   *tracking.Client
	pipeline *stages.Pipeline
}

var current *app

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:   "pdm",
	Short: "Predictive maintenance pipeline",
	Long: `Runs the predictive maintenance pipeline stages against a tracking server.
Every stage records its parameters, metrics and artifacts in its own run.`,
	Example: `  # Build the training and test feature tables
  $ pdm preprocess
  $ pdm preprocess-test

  # Train a forest of 200 trees of depth 8
  $ pdm train 200 8

  # Evaluate a trained model and register it
  $ pdm evaluate runs:/<run_id>/random_forest_model

  # Serve version 1 on port 5001
  $ pdm deploy PredictiveMaintenanceModel 1 5001`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			_ = current.logger.Sync()
		}
	},
}

// Execute runs the command line until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&paramsFile, "params", "", "stage parameter file (default $PDM_PARAMS or params.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (default $LOG_LEVEL)")
	flags.StringVar(&trackingURI, "tracking-uri", "", "tracking server URL (default $MLFLOW_TRACKING_URI)")
	flags.StringVar(&experiment, "experiment", "", "experiment name (default $PDM_EXPERIMENT)")

	rootCmd.AddCommand(preprocessCmd)
	rootCmd.AddCommand(preprocessTestCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if paramsFile != "" {
		cfg.ParamsFile = paramsFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if trackingURI != "" {
		cfg.TrackingURI = trackingURI
	}
	if experiment != "" {
		cfg.ExperimentName = experiment
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	params, err := spec.LoadParams(cfg.ParamsFile)
	if err != nil {
		return err
	}

	client := tracking.NewClient(cfg.TrackingURI, log)
	current = &app{
		cfg:      cfg,
		logger:   log,
		params:   params,
		client:   client,
		pipeline: stages.NewPipeline(client, cfg.ExperimentName, log),
	}
	log.Debug("configuration loaded",
		zap.String("tracking_uri", cfg.TrackingURI),
		zap.String("experiment", cfg.ExperimentName),
		zap.Stringer("params", params),
	)
	return nil
}

// intArg parses the positional argument at i, if present, into dst
func intArg(args []string, i int, name string, dst *int) error {
	if len(args) <= i {
		return nil
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return apperr.Invalid("%s must be an integer, got %q", name, args[i])
	}
	*dst = v
	return nil
}
