package deploy

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
)

// LaunchSpec describes the serving command to start
type LaunchSpec struct {
	Command []string
	// LogPath receives the combined stdout and stderr of the command
	LogPath string
	// Env is appended to the current environment
	Env []string
}

// Process is a launched serving command
type Process interface {
	Pid() int
	// Done is closed when the process has exited
	Done() <-chan struct{}
	// Err is the exit error; valid once Done is closed
	Err() error
	// Terminate stops the process and waits for it to exit
	Terminate() error
}

// Launcher starts serving commands
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts serving commands as local subprocesses
type ExecLauncher struct {
	// GracePeriod is how long Terminate waits after SIGTERM before killing
	GracePeriod time.Duration
	logger      *zap.Logger
}

// NewExecLauncher creates a subprocess launcher
func NewExecLauncher(logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{GracePeriod: 5 * time.Second, logger: logger}
}

// Launch starts the command with its output redirected to spec.LogPath.
// The process is not tied to ctx: it keeps serving after the deploy stage returns.
func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if len(spec.Command) == 0 {
		return nil, apperr.Invalid("serving command is empty")
	}

	if dir := filepath.Dir(spec.LogPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.IO(err, "failed to create log directory %s", dir)
		}
	}
	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return nil, apperr.IO(err, "failed to create server log %s", spec.LogPath)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), spec.Env...)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, apperr.Process(err, "failed to start %s", spec.Command[0])
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{}), grace: l.GracePeriod}
	go func() {
		p.err = cmd.Wait()
		logFile.Close()
		close(p.done)
	}()

	l.logger.Info("serving process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("command", spec.Command),
		zap.String("log_file", spec.LogPath),
	)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	done  chan struct{}
	err   error
	grace time.Duration
	once  sync.Once
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Terminate() error {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		_ = p.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-p.done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return nil
}
