package deploy

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a deployment
type State string

const (
	StateResolving State = "resolving"
	StateLaunching State = "launching"
	StateProbing   State = "probing"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Transition records one state change of a deployment
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Deployment tracks one attempt to serve a registered model version
type Deployment struct {
	ModelName    string
	ModelVersion string
	ModelURI     string
	Port         int
	URL          string
	LogPath      string

	// Process is set once the serving command is launched; the caller owns it after Ready
	Process Process

	mu          sync.Mutex
	state       State
	transitions []Transition
	logger      *zap.Logger
}

func newDeployment(cfg Config, logger *zap.Logger) *Deployment {
	return &Deployment{
		ModelName:    cfg.ModelName,
		ModelVersion: cfg.ModelVersion,
		ModelURI:     cfg.ModelURI(),
		Port:         cfg.Port,
		URL:          cfg.ServeURL(),
		LogPath:      cfg.LogFile,
		state:        StateResolving,
		logger:       logger,
	}
}

// State returns the current state
func (d *Deployment) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Transitions returns the recorded state changes, oldest first
func (d *Deployment) Transitions() []Transition {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Transition, len(d.transitions))
	copy(out, d.transitions)
	return out
}

// transition moves to the next state; leaving a terminal state is a no-op
func (d *Deployment) transition(to State, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Terminal() {
		return
	}
	from := d.state
	d.state = to
	d.transitions = append(d.transitions, Transition{From: from, To: to, Reason: reason, At: time.Now().UTC()})

	d.logger.Info("deployment status updated",
		zap.String("model_uri", d.ModelURI),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(to)),
		zap.String("reason", reason),
	)
}
