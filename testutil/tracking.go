// Package testutil starts in-process tracking servers for tests.
package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"

	"pdm-pipeline/api/rest/routes"
	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/repository"
	"pdm-pipeline/storage"
)

// TrackingServer is a tracking server backed by memory and a temp directory
type TrackingServer struct {
	*httptest.Server
	Store       *repository.MemoryStore
	ArtifactDir string
}

// NewTrackingServer starts a server that is closed when the test ends
func NewTrackingServer(t testing.TB) *TrackingServer {
	t.Helper()

	dir := t.TempDir()
	artifacts, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}

	store := repository.NewMemoryStore()
	r := mux.NewRouter()
	routes.SetupRoutes(r, store, artifacts, monitoring.NewMetrics(), zaptest.NewLogger(t))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &TrackingServer{Server: server, Store: store, ArtifactDir: dir}
}
