package deploy

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/spec"
)

// Prober waits for a serving endpoint to answer its readiness check
type Prober struct {
	client  *http.Client
	timings spec.ProbeTimings
	logger  *zap.Logger
}

// NewProber creates a readiness prober
func NewProber(timings spec.ProbeTimings, logger *zap.Logger) *Prober {
	return &Prober{
		client:  &http.Client{Timeout: timings.RequestTimeout},
		timings: timings,
		logger:  logger,
	}
}

// WaitReady polls url until it answers 200. A non-200 answer fails at once;
// connection errors are retried with exponential backoff until MaxWait runs
// out, which is a timeout error. A close of exited means the server process
// stopped, which is a process error carrying exitErr().
func (p *Prober) WaitReady(ctx context.Context, url string, exited <-chan struct{}, exitErr func() error) error {
	if err := p.sleep(ctx, p.timings.SettleDelay, exited, exitErr); err != nil {
		return err
	}

	deadline := time.Now().Add(p.timings.MaxWait)
	interval := p.timings.InitialInterval
	attempt := 0

	for {
		attempt++
		status, err := p.ping(ctx, url)
		if err == nil {
			if status == http.StatusOK {
				p.logger.Info("server ready", zap.String("url", url), zap.Int("attempts", attempt))
				return nil
			}
			return apperr.Process(nil, "server at %s returned status %d", url, status)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return apperr.Timeout("server at %s not ready after %s (%d attempts, last error: %v)",
				url, p.timings.MaxWait, attempt, err)
		}

		p.logger.Debug("server not ready",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", interval),
			zap.Error(err),
		)

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := p.sleep(ctx, wait, exited, exitErr); err != nil {
			return err
		}

		interval *= 2
		if p.timings.MaxInterval > 0 && interval > p.timings.MaxInterval {
			interval = p.timings.MaxInterval
		}
	}
}

// ping performs one readiness request
func (p *Prober) ping(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// sleep waits for d unless the context ends or the process exits first
func (p *Prober) sleep(ctx context.Context, d time.Duration, exited <-chan struct{}, exitErr func() error) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-exited:
		return apperr.Process(exitErr(), "serving process exited before it became ready")
	}
}
