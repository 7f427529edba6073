package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"pdm-pipeline/core/repository"
	"pdm-pipeline/core/tracking"
)

// ExperimentHandler handles experiment HTTP requests
type ExperimentHandler struct {
	store  repository.Store
	logger *zap.Logger
}

// NewExperimentHandler creates a new experiment handler
func NewExperimentHandler(store repository.Store, logger *zap.Logger) *ExperimentHandler {
	return &ExperimentHandler{store: store, logger: logger}
}

// CreateExperiment handles POST experiments/create
func (h *ExperimentHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req tracking.CreateExperimentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("name", req.Name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	exp, err := h.store.CreateExperiment(r.Context(), req.Name, req.ArtifactLocation)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("experiment created", zap.String("experiment_id", exp.ID), zap.String("name", exp.Name))
	writeJSON(w, http.StatusOK, tracking.CreateExperimentResponse{ExperimentID: exp.ID})
}

// GetExperiment handles GET experiments/get
func (h *ExperimentHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("experiment_id")
	if err := requireField("experiment_id", id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	exp, err := h.store.GetExperiment(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking.GetExperimentResponse{Experiment: tracking.ExperimentToJSON(exp)})
}

// GetExperimentByName handles GET experiments/get-by-name
func (h *ExperimentHandler) GetExperimentByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("experiment_name")
	if err := requireField("experiment_name", name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	exp, err := h.store.GetExperimentByName(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking.GetExperimentResponse{Experiment: tracking.ExperimentToJSON(exp)})
}
