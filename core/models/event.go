package models

import "time"

// RunEvent represents a status transition of a run
type RunEvent struct {
	ID         int64
	RunID      string
	At         time.Time
	FromStatus *RunStatus
	ToStatus   RunStatus
	Reason     string
}

// ArtifactInfo describes one stored artifact file or directory
type ArtifactInfo struct {
	Path     string
	IsDir    bool
	FileSize int64
}
