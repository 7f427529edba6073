package deploy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/spec"
)

type fakeRegistry map[string]*models.ModelVersion

func (r fakeRegistry) GetModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	mv, ok := r[name+"/"+version]
	if !ok {
		return nil, apperr.NotFound("model version", name+"/"+version)
	}
	return mv, nil
}

type recordingRun struct {
	mu        sync.Mutex
	params    map[string]interface{}
	metrics   map[string][]float64
	artifacts map[string]string
}

func newRecordingRun() *recordingRun {
	return &recordingRun{
		params:    make(map[string]interface{}),
		metrics:   make(map[string][]float64),
		artifacts: make(map[string]string),
	}
}

func (r *recordingRun) LogParams(ctx context.Context, params map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range params {
		r.params[k] = v
	}
	return nil
}

func (r *recordingRun) LogMetric(ctx context.Context, key string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[key] = append(r.metrics[key], value)
	return nil
}

func (r *recordingRun) LogArtifact(ctx context.Context, localPath, artifactDir string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[filepath.Base(localPath)] = string(data)
	return nil
}

type fakeProcess struct {
	done       chan struct{}
	err        error
	once       sync.Once
	terminated atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return 4242 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	p.exit(errors.New("signal: terminated"))
	return nil
}

type fakeLauncher struct {
	calls   int
	logText string
	proc    *fakeProcess
	spec    LaunchSpec
}

func (l *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	l.calls++
	l.spec = spec
	if err := os.WriteFile(spec.LogPath, []byte(l.logText), 0o644); err != nil {
		return nil, err
	}
	return l.proc, nil
}

func fastTimings(maxWait time.Duration) spec.ProbeTimings {
	return spec.ProbeTimings{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
		MaxWait:         maxWait,
		RequestTimeout:  time.Second,
	}
}

func configFor(t *testing.T, serverURL string, maxWait time.Duration) Config {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{
		ModelName:    "PredictiveMaintenanceModel",
		ModelVersion: "1",
		Port:         port,
		Host:         "0.0.0.0",
		ProbeHost:    host,
		LogFile:      filepath.Join(t.TempDir(), "server_log.txt"),
		ServeCommand: []string{"serve-model"},
		Timings:      fastTimings(maxWait),
	}
}

// deadURL returns the address of a server that is no longer listening
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

var registered = fakeRegistry{
	"PredictiveMaintenanceModel/1": {Name: "PredictiveMaintenanceModel", Version: 1, Source: "runs:/abc/random_forest_model"},
}

func TestDeploySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := configFor(t, srv.URL, time.Second)
	cfg.TrackingURI = "http://127.0.0.1:5000"
	launcher := &fakeLauncher{logText: "Listening on 0.0.0.0\n", proc: newFakeProcess()}
	run := newRecordingRun()

	dep, err := NewDeployer(registered, launcher, zaptest.NewLogger(t)).Deploy(context.Background(), run, cfg)
	require.NoError(t, err)

	assert.Equal(t, StateReady, dep.State())
	assert.Same(t, launcher.proc, dep.Process)
	assert.False(t, launcher.proc.terminated.Load())

	var path []State
	for _, tr := range dep.Transitions() {
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{StateLaunching, StateProbing, StateReady}, path)

	assert.Equal(t, []string{
		"serve-model", "-m", "models:/PredictiveMaintenanceModel/1",
		"--port", strconv.Itoa(cfg.Port), "--host", "0.0.0.0",
	}, launcher.spec.Command)
	assert.Contains(t, launcher.spec.Env, "MLFLOW_TRACKING_URI=http://127.0.0.1:5000")

	assert.Equal(t, map[string]interface{}{
		"model_name":      "PredictiveMaintenanceModel",
		"model_version":   "1",
		"model_port":      cfg.Port,
		"deployment_type": "local",
	}, run.params)
	assert.Equal(t, []float64{1}, run.metrics[MetricDeploymentStatus])
	assert.Equal(t, "Listening on 0.0.0.0\n", run.artifacts["server_log.txt"])
}

func TestDeployModelNotFound(t *testing.T) {
	cfg := configFor(t, deadURL(t), time.Second)
	cfg.ModelVersion = "9"
	launcher := &fakeLauncher{proc: newFakeProcess()}
	run := newRecordingRun()

	dep, err := NewDeployer(registered, launcher, zaptest.NewLogger(t)).Deploy(context.Background(), run, cfg)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Contains(t, err.Error(), "models:/PredictiveMaintenanceModel/9")

	assert.Equal(t, 0, launcher.calls)
	assert.Equal(t, StateFailed, dep.State())
	assert.Equal(t, []float64{0}, run.metrics[MetricDeploymentStatus])
	assert.Equal(t, "9", run.params["model_version"])
}

func TestDeployUnhealthyServerFailsWithLog(t *testing.T) {
	var pings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pings.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	launcher := &fakeLauncher{logText: "Traceback: model failed to load\n", proc: newFakeProcess()}
	run := newRecordingRun()

	dep, err := NewDeployer(registered, launcher, zaptest.NewLogger(t)).
		Deploy(context.Background(), run, configFor(t, srv.URL, 5*time.Second))
	require.Error(t, err)

	assert.True(t, errors.Is(err, apperr.ErrProcess))
	assert.False(t, apperr.IsTimeout(err))
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "Traceback: model failed to load")
	assert.EqualValues(t, 1, pings.Load())

	assert.Equal(t, StateFailed, dep.State())
	assert.True(t, launcher.proc.terminated.Load())
	assert.Equal(t, []float64{0}, run.metrics[MetricDeploymentStatus])
	assert.Contains(t, run.artifacts, "server_log.txt")
}

func TestDeployTimeout(t *testing.T) {
	launcher := &fakeLauncher{logText: "starting\n", proc: newFakeProcess()}
	run := newRecordingRun()

	start := time.Now()
	dep, err := NewDeployer(registered, launcher, zaptest.NewLogger(t)).
		Deploy(context.Background(), run, configFor(t, deadURL(t), 200*time.Millisecond))
	require.Error(t, err)

	assert.True(t, apperr.IsTimeout(err))
	assert.False(t, errors.Is(err, apperr.ErrProcess))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateFailed, dep.State())
	assert.True(t, launcher.proc.terminated.Load())
	assert.Equal(t, []float64{0}, run.metrics[MetricDeploymentStatus])
}

func TestDeployProcessExitsBeforeReady(t *testing.T) {
	proc := newFakeProcess()
	proc.exit(errors.New("exit status 1"))
	launcher := &fakeLauncher{logText: "address already in use\n", proc: proc}
	run := newRecordingRun()

	start := time.Now()
	_, err := NewDeployer(registered, launcher, zaptest.NewLogger(t)).
		Deploy(context.Background(), run, configFor(t, deadURL(t), 10*time.Second))
	require.Error(t, err)

	assert.True(t, errors.Is(err, apperr.ErrProcess))
	assert.Contains(t, err.Error(), "exited before it became ready")
	assert.Contains(t, err.Error(), "address already in use")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProberRetriesConnectionErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober := NewProber(fastTimings(5*time.Second), zaptest.NewLogger(t))
	err := prober.WaitReady(context.Background(), srv.URL+"/ping", make(chan struct{}), func() error { return nil })
	require.NoError(t, err)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestProberHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := NewProber(fastTimings(5*time.Second), zaptest.NewLogger(t))
	err := prober.WaitReady(ctx, deadURL(t)+"/ping", make(chan struct{}), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigFromParams(t *testing.T) {
	cfg, err := ConfigFromParams(spec.Default().Deploy)
	require.NoError(t, err)
	assert.Equal(t, "models:/PredictiveMaintenanceModel/1", cfg.ModelURI())
	assert.Equal(t, "http://localhost:5001", cfg.ServeURL())
	assert.Equal(t, 60*time.Second, cfg.Timings.MaxWait)

	command, err := cfg.Command()
	require.NoError(t, err)
	require.True(t, len(command) > 2)
	assert.Equal(t, "serve", command[1])

	bad := spec.Default().Deploy
	bad.MaxWait = "soon"
	_, err = ConfigFromParams(bad)
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestExecLauncherCapturesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	logPath := filepath.Join(t.TempDir(), "logs", "server_log.txt")
	launcher := NewExecLauncher(zaptest.NewLogger(t))
	proc, err := launcher.Launch(context.Background(), LaunchSpec{
		Command: []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		LogPath: logPath,
	})
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Error(t, proc.Err())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "out")
	assert.Contains(t, string(data), "err")
}

func TestExecLauncherTerminate(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	launcher := NewExecLauncher(zaptest.NewLogger(t))
	proc, err := launcher.Launch(context.Background(), LaunchSpec{
		Command: []string{"sleep", "30"},
		LogPath: filepath.Join(t.TempDir(), "server_log.txt"),
	})
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())
	select {
	case <-proc.Done():
	default:
		t.Fatal("process still running after Terminate")
	}
}

func TestExecLauncherRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecLauncher(zaptest.NewLogger(t)).Launch(context.Background(), LaunchSpec{LogPath: "x"})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestMonitorWatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := configFor(t, srv.URL, time.Second)
	newReady := func() (*Deployment, *fakeProcess) {
		proc := newFakeProcess()
		dep := newDeployment(cfg, zaptest.NewLogger(t))
		dep.Process = proc
		dep.transition(StateLaunching, "test")
		dep.transition(StateProbing, "test")
		dep.transition(StateReady, "test")
		return dep, proc
	}
	monitor := NewMonitor(10*time.Millisecond, zaptest.NewLogger(t))

	t.Run("cancel terminates", func(t *testing.T) {
		dep, proc := newReady()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		require.NoError(t, monitor.Watch(ctx, dep))
		assert.True(t, proc.terminated.Load())
	})

	t.Run("exit is reported", func(t *testing.T) {
		dep, proc := newReady()
		go func() {
			time.Sleep(30 * time.Millisecond)
			proc.exit(errors.New("exit status 2"))
		}()
		err := monitor.Watch(context.Background(), dep)
		assert.True(t, errors.Is(err, apperr.ErrProcess))
	})

	t.Run("not ready", func(t *testing.T) {
		dep := newDeployment(cfg, zaptest.NewLogger(t))
		assert.True(t, apperr.IsState(monitor.Watch(context.Background(), dep)))
	})
}
