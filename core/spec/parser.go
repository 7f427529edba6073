package spec

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pdm-pipeline/core/apperr"
)

// Params represents the YAML stage parameter file
type Params struct {
	Preprocess PreprocessParams `yaml:"preprocess"`
	Train      TrainParams      `yaml:"train"`
	Evaluate   EvaluateParams   `yaml:"evaluate"`
	Deploy     DeployParams     `yaml:"deploy"`
}

// PreprocessParams configures both preprocessing stages
type PreprocessParams struct {
	WindowSize  int    `yaml:"window_size"`
	Horizon     int    `yaml:"horizon"`
	TrainInput  string `yaml:"train_input"`
	TrainOutput string `yaml:"train_output"`
	TestInput   string `yaml:"test_input"`
	TestOutput  string `yaml:"test_output"`
	RULFile     string `yaml:"rul_file"` // optional, true remaining cycles of test units
	TrendSensor int    `yaml:"trend_sensor"`
	TrendUnits  int    `yaml:"trend_units"`
}

// TrainParams configures the train stage
type TrainParams struct {
	DataPath    string  `yaml:"data_path"`
	NEstimators int     `yaml:"n_estimators"`
	MaxDepth    int     `yaml:"max_depth"`
	TestSize    float64 `yaml:"test_size"`
	Seed        int64   `yaml:"seed"`
}

// EvaluateParams configures the evaluate stage
type EvaluateParams struct {
	ModelURI  string `yaml:"model_uri"`
	TestData  string `yaml:"test_data"`
	ModelName string `yaml:"model_name"`
}

// DeployParams configures the deploy stage and its readiness probe
type DeployParams struct {
	ModelName       string `yaml:"model_name"`
	ModelVersion    string `yaml:"model_version"`
	Port            int    `yaml:"port"`
	Host            string `yaml:"host"`
	ProbeHost       string `yaml:"probe_host"`
	LogFile         string `yaml:"log_file"`
	SettleDelay     string `yaml:"settle_delay"`
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
	MaxWait         string `yaml:"max_wait"`
	RequestTimeout  string `yaml:"request_timeout"`
}

// ProbeTimings are the parsed deploy durations
type ProbeTimings struct {
	SettleDelay     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxWait         time.Duration
	RequestTimeout  time.Duration
}

// DefaultModelName is the registered model name used by evaluate and deploy
const DefaultModelName = "PredictiveMaintenanceModel"

// Default returns the parameters used when no file is present
func Default() *Params {
	p := &Params{}
	p.applyDefaults()
	return p
}

// LoadParams reads a params file; a missing file yields the defaults
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, apperr.IO(err, "failed to read params file %s", path)
	}
	return ParseParams(string(data))
}

// ParseParams parses a YAML params document and fills in defaults
func ParseParams(paramsYAML string) (*Params, error) {
	var p Params
	if err := yaml.Unmarshal([]byte(paramsYAML), &p); err != nil {
		return nil, apperr.Parse(err, "failed to parse YAML")
	}

	p.applyDefaults()

	if p.Preprocess.WindowSize < 1 {
		return nil, apperr.Invalid("preprocess.window_size must be >= 1, got %d", p.Preprocess.WindowSize)
	}
	if p.Train.TestSize <= 0 || p.Train.TestSize >= 1 {
		return nil, apperr.Invalid("train.test_size must be in (0, 1), got %g", p.Train.TestSize)
	}
	if p.Deploy.Port < 1 || p.Deploy.Port > 65535 {
		return nil, apperr.Invalid("deploy.port out of range: %d", p.Deploy.Port)
	}
	if _, err := p.Deploy.Timings(); err != nil {
		return nil, err
	}

	return &p, nil
}

// applyDefaults fills zero values; window_size 0 means unset
func (p *Params) applyDefaults() {
	pre := &p.Preprocess
	if pre.WindowSize == 0 {
		pre.WindowSize = 5
	}
	if pre.Horizon == 0 {
		pre.Horizon = 30
	}
	if pre.TrainInput == "" {
		pre.TrainInput = "data/raw/train_FD001.txt"
	}
	if pre.TrainOutput == "" {
		pre.TrainOutput = "data/processed/train_processed.csv"
	}
	if pre.TestInput == "" {
		pre.TestInput = "data/raw/test_FD001.txt"
	}
	if pre.TestOutput == "" {
		pre.TestOutput = "data/processed/test_processed.csv"
	}
	if pre.TrendSensor == 0 {
		pre.TrendSensor = 11
	}
	if pre.TrendUnits == 0 {
		pre.TrendUnits = 3
	}

	tr := &p.Train
	if tr.DataPath == "" {
		tr.DataPath = pre.TrainOutput
	}
	if tr.NEstimators == 0 {
		tr.NEstimators = 100
	}
	if tr.MaxDepth == 0 {
		tr.MaxDepth = 5
	}
	if tr.TestSize == 0 {
		tr.TestSize = 0.2
	}
	if tr.Seed == 0 {
		tr.Seed = 42
	}

	ev := &p.Evaluate
	if ev.TestData == "" {
		ev.TestData = pre.TestOutput
	}
	if ev.ModelName == "" {
		ev.ModelName = DefaultModelName
	}

	d := &p.Deploy
	if d.ModelName == "" {
		d.ModelName = ev.ModelName
	}
	if d.ModelVersion == "" {
		d.ModelVersion = "1"
	}
	if d.Port == 0 {
		d.Port = 5001
	}
	if d.Host == "" {
		d.Host = "0.0.0.0"
	}
	if d.ProbeHost == "" {
		d.ProbeHost = "localhost"
	}
	if d.LogFile == "" {
		d.LogFile = "server_log.txt"
	}
	if d.SettleDelay == "" {
		d.SettleDelay = "0s"
	}
	if d.InitialInterval == "" {
		d.InitialInterval = "500ms"
	}
	if d.MaxInterval == "" {
		d.MaxInterval = "5s"
	}
	if d.MaxWait == "" {
		d.MaxWait = "60s"
	}
	if d.RequestTimeout == "" {
		d.RequestTimeout = "10s"
	}
}

// Timings parses the deploy durations
func (d DeployParams) Timings() (ProbeTimings, error) {
	var t ProbeTimings
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"settle_delay", d.SettleDelay, &t.SettleDelay},
		{"initial_interval", d.InitialInterval, &t.InitialInterval},
		{"max_interval", d.MaxInterval, &t.MaxInterval},
		{"max_wait", d.MaxWait, &t.MaxWait},
		{"request_timeout", d.RequestTimeout, &t.RequestTimeout},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return t, apperr.Invalid("invalid deploy.%s %q: %v", f.name, f.value, err)
		}
		if v < 0 {
			return t, apperr.Invalid("deploy.%s must not be negative", f.name)
		}
		*f.dst = v
	}
	if t.InitialInterval == 0 || t.MaxWait == 0 || t.RequestTimeout == 0 {
		return t, apperr.Invalid("deploy intervals must be positive")
	}
	return t, nil
}

// String summarises the parameters for logging
func (p *Params) String() string {
	return fmt.Sprintf("window=%d horizon=%d n_estimators=%d max_depth=%d model=%s/%s port=%d",
		p.Preprocess.WindowSize, p.Preprocess.Horizon, p.Train.NEstimators, p.Train.MaxDepth,
		p.Deploy.ModelName, p.Deploy.ModelVersion, p.Deploy.Port)
}
