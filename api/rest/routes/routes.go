package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pdm-pipeline/api/rest/handlers"
	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/repository"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/storage"
)

// SetupRoutes configures all tracking, registry and artifact routes
func SetupRoutes(r *mux.Router, store repository.Store, artifacts storage.ArtifactStore, metrics *monitoring.Metrics, logger *zap.Logger) {
	experimentHandler := handlers.NewExperimentHandler(store, logger)
	runHandler := handlers.NewRunHandler(store, metrics, logger)
	registryHandler := handlers.NewRegistryHandler(store, metrics, logger)
	artifactHandler := handlers.NewArtifactHandler(artifacts, metrics, logger)

	r.Use(durationMiddleware(metrics))

	// Experiment endpoints
	r.HandleFunc(tracking.PathExperimentsCreate, experimentHandler.CreateExperiment).Methods("POST")
	r.HandleFunc(tracking.PathExperimentsGet, experimentHandler.GetExperiment).Methods("GET")
	r.HandleFunc(tracking.PathExperimentsGetByName, experimentHandler.GetExperimentByName).Methods("GET")

	// Run endpoints
	r.HandleFunc(tracking.PathRunsCreate, runHandler.CreateRun).Methods("POST")
	r.HandleFunc(tracking.PathRunsGet, runHandler.GetRun).Methods("GET")
	r.HandleFunc(tracking.PathRunsUpdate, runHandler.UpdateRun).Methods("POST")
	r.HandleFunc(tracking.PathRunsLogParameter, runHandler.LogParam).Methods("POST")
	r.HandleFunc(tracking.PathRunsLogMetric, runHandler.LogMetric).Methods("POST")
	r.HandleFunc(tracking.PathRunsLogBatch, runHandler.LogBatch).Methods("POST")
	r.HandleFunc(tracking.PathRunsSetTag, runHandler.SetTag).Methods("POST")
	r.HandleFunc(tracking.PathRunsEvents, runHandler.GetRunEvents).Methods("GET")

	// Registry endpoints
	r.HandleFunc(tracking.PathRegisteredModels, registryHandler.CreateRegisteredModel).Methods("POST")
	r.HandleFunc(tracking.PathRegisteredModelsGet, registryHandler.GetRegisteredModel).Methods("GET")
	r.HandleFunc(tracking.PathModelVersionsCreate, registryHandler.CreateModelVersion).Methods("POST")
	r.HandleFunc(tracking.PathModelVersionsGet, registryHandler.GetModelVersion).Methods("GET")

	// Artifact endpoints
	r.HandleFunc(tracking.PathArtifacts, artifactHandler.List).Methods("GET")
	r.HandleFunc(tracking.PathArtifacts+"/{path:.+}", artifactHandler.Upload).Methods("PUT")
	r.HandleFunc(tracking.PathArtifacts+"/{path:.+}", artifactHandler.Download).Methods("GET")
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func durationMiddleware(metrics *monitoring.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.RequestDuration.
				WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}
