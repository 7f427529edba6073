// Package deploy launches a registered model version as a local REST server
// and waits until it answers its readiness check.
package deploy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/spec"
)

// Metric and param names logged by a deployment
const (
	MetricDeploymentStatus = "deployment_status"
	DeploymentTypeLocal    = "local"
)

// Registry resolves registered model versions
type Registry interface {
	GetModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error)
}

// RunLogger is the part of a tracked run a deployment logs to
type RunLogger interface {
	LogParams(ctx context.Context, params map[string]interface{}) error
	LogMetric(ctx context.Context, key string, value float64) error
	LogArtifact(ctx context.Context, localPath, artifactDir string) error
}

// Config describes what to deploy and how to probe it
type Config struct {
	ModelName    string
	ModelVersion string
	Port         int
	Host         string
	ProbeHost    string
	LogFile      string
	// ServeCommand replaces the default "<this executable> serve" prefix
	ServeCommand []string
	// TrackingURI is passed to the serving process
	TrackingURI string
	Timings     spec.ProbeTimings
}

// ConfigFromParams builds a deploy config from the deploy params
func ConfigFromParams(p spec.DeployParams) (Config, error) {
	timings, err := p.Timings()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ModelName:    p.ModelName,
		ModelVersion: p.ModelVersion,
		Port:         p.Port,
		Host:         p.Host,
		ProbeHost:    p.ProbeHost,
		LogFile:      p.LogFile,
		Timings:      timings,
	}, nil
}

// ModelURI is the registry reference of the deployed model
func (c Config) ModelURI() string {
	return fmt.Sprintf("models:/%s/%s", c.ModelName, c.ModelVersion)
}

// ServeURL is the address clients use to reach the server
func (c Config) ServeURL() string {
	return fmt.Sprintf("http://%s:%d", c.ProbeHost, c.Port)
}

// Command returns the serving command line
func (c Config) Command() ([]string, error) {
	prefix := c.ServeCommand
	if len(prefix) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, apperr.Process(err, "failed to locate the current executable")
		}
		prefix = []string{exe, "serve"}
	}

	cmd := append([]string{}, prefix...)
	return append(cmd,
		"-m", c.ModelURI(),
		"--port", strconv.Itoa(c.Port),
		"--host", c.Host,
	), nil
}

// Deployer resolves, launches and probes model servers
type Deployer struct {
	registry Registry
	launcher Launcher
	logger   *zap.Logger
}

// NewDeployer creates a deployer
func NewDeployer(registry Registry, launcher Launcher, logger *zap.Logger) *Deployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{registry: registry, launcher: launcher, logger: logger}
}

// Deploy serves the configured model version and logs the outcome to run.
// On success the returned deployment is Ready and its Process keeps running.
// On failure the process is terminated and the error includes the server log.
func (d *Deployer) Deploy(ctx context.Context, run RunLogger, cfg Config) (*Deployment, error) {
	dep := newDeployment(cfg, d.logger)

	if err := run.LogParams(ctx, map[string]interface{}{
		"model_name":      cfg.ModelName,
		"model_version":   cfg.ModelVersion,
		"model_port":      cfg.Port,
		"deployment_type": DeploymentTypeLocal,
	}); err != nil {
		return dep, err
	}

	// Resolving
	if _, err := d.registry.GetModelVersion(ctx, cfg.ModelName, cfg.ModelVersion); err != nil {
		dep.transition(StateFailed, "model version not resolved")
		d.logStatus(ctx, run, 0)
		return dep, fmt.Errorf("model %s not found: %w", dep.ModelURI, err)
	}
	dep.transition(StateLaunching, "model version resolved")

	// Launching
	command, err := cfg.Command()
	if err != nil {
		dep.transition(StateFailed, "serving command unavailable")
		d.logStatus(ctx, run, 0)
		return dep, err
	}
	var env []string
	if cfg.TrackingURI != "" {
		env = append(env, "MLFLOW_TRACKING_URI="+cfg.TrackingURI)
	}
	proc, err := d.launcher.Launch(ctx, LaunchSpec{Command: command, LogPath: cfg.LogFile, Env: env})
	if err != nil {
		dep.transition(StateFailed, "launch failed")
		d.logStatus(ctx, run, 0)
		return dep, d.withServerLog(ctx, run, cfg.LogFile, err)
	}
	dep.Process = proc
	dep.transition(StateProbing, fmt.Sprintf("serving process %d started", proc.Pid()))

	// Probing
	prober := NewProber(cfg.Timings, d.logger)
	if err := prober.WaitReady(ctx, dep.URL+"/ping", proc.Done(), proc.Err); err != nil {
		dep.transition(StateFailed, err.Error())
		d.logStatus(ctx, run, 0)
		if termErr := proc.Terminate(); termErr != nil {
			d.logger.Warn("failed to terminate serving process", zap.Int("pid", proc.Pid()), zap.Error(termErr))
		}
		return dep, d.withServerLog(ctx, run, cfg.LogFile, err)
	}

	d.logStatus(ctx, run, 1)
	d.attachLog(ctx, run, cfg.LogFile)
	dep.transition(StateReady, "readiness check passed")

	d.logger.Info("model deployed",
		zap.String("model_uri", dep.ModelURI),
		zap.String("url", dep.URL),
		zap.Int("pid", proc.Pid()),
	)
	return dep, nil
}

func (d *Deployer) logStatus(ctx context.Context, run RunLogger, value float64) {
	if err := run.LogMetric(context.WithoutCancel(ctx), MetricDeploymentStatus, value); err != nil {
		d.logger.Warn("failed to log deployment status", zap.Error(err))
	}
}

func (d *Deployer) attachLog(ctx context.Context, run RunLogger, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := run.LogArtifact(context.WithoutCancel(ctx), path, ""); err != nil {
		d.logger.Warn("failed to log server log artifact", zap.String("path", path), zap.Error(err))
	}
}

// withServerLog attaches the server log and appends its content to cause
func (d *Deployer) withServerLog(ctx context.Context, run RunLogger, path string, cause error) error {
	d.attachLog(ctx, run, path)

	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("deployment failed: %w", cause)
	}
	return fmt.Errorf("deployment failed: %w\nserver log:\n%s", cause, strings.TrimRight(string(data), "\n"))
}
