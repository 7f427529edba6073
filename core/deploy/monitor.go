package deploy

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
)

// Monitor watches a ready deployment until its process exits or ctx ends
type Monitor struct {
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// NewMonitor creates a monitor that checks health every interval
func NewMonitor(interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Watch blocks until the serving process exits (a process error) or ctx is
// done (nil, after terminating the process).
func (m *Monitor) Watch(ctx context.Context, dep *Deployment) error {
	if dep.Process == nil || dep.State() != StateReady {
		return apperr.State("deployment of %s is %s, not ready", dep.ModelURI, dep.State())
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stopping serving process", zap.Int("pid", dep.Process.Pid()))
			return dep.Process.Terminate()
		case <-dep.Process.Done():
			return apperr.Process(dep.Process.Err(), "serving process for %s exited", dep.ModelURI)
		case <-ticker.C:
			failures = m.checkHealth(ctx, dep, failures)
		}
	}
}

// checkHealth pings the server and returns the consecutive failure count
func (m *Monitor) checkHealth(ctx context.Context, dep *Deployment, failures int) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.URL+"/ping", nil)
	if err != nil {
		return failures + 1
	}
	resp, err := m.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			if failures > 0 {
				m.logger.Info("server healthy again", zap.String("url", dep.URL))
			}
			return 0
		}
	}

	failures++
	fields := []zap.Field{zap.String("url", dep.URL), zap.Int("consecutive_failures", failures)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	} else {
		fields = append(fields, zap.Int("status", resp.StatusCode))
	}
	m.logger.Warn("health check failed", fields...)
	return failures
}
