package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/repository"
	"pdm-pipeline/core/tracking"
)

// RegistryHandler handles registered model and model version requests
type RegistryHandler struct {
	store   repository.Store
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(store repository.Store, metrics *monitoring.Metrics, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{store: store, metrics: metrics, logger: logger}
}

// CreateRegisteredModel handles POST registered-models/create
func (h *RegistryHandler) CreateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req tracking.CreateRegisteredModelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("name", req.Name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rm, err := h.store.CreateRegisteredModel(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("registered model created", zap.String("name", rm.Name))
	writeJSON(w, http.StatusOK, tracking.RegisteredModelResponse{RegisteredModel: tracking.RegisteredModelToJSON(rm)})
}

// GetRegisteredModel handles GET registered-models/get
func (h *RegistryHandler) GetRegisteredModel(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := requireField("name", name); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rm, err := h.store.GetRegisteredModel(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking.RegisteredModelResponse{RegisteredModel: tracking.RegisteredModelToJSON(rm)})
}

// CreateModelVersion handles POST model-versions/create
func (h *RegistryHandler) CreateModelVersion(w http.ResponseWriter, r *http.Request) {
	var req tracking.CreateModelVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("name", req.Name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("source", req.Source); err != nil {
		writeError(w, h.logger, err)
		return
	}

	mv, err := h.store.CreateModelVersion(r.Context(), req.Name, req.Source, req.RunID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.metrics.ModelVersionsCreated.WithLabelValues(mv.Name).Inc()
	h.logger.Info("model version created",
		zap.String("name", mv.Name),
		zap.Int("version", mv.Version),
		zap.String("source", mv.Source),
	)
	writeJSON(w, http.StatusOK, tracking.ModelVersionResponse{ModelVersion: tracking.ModelVersionToJSON(mv)})
}

// GetModelVersion handles GET model-versions/get
func (h *RegistryHandler) GetModelVersion(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	versionParam := r.URL.Query().Get("version")
	if err := requireField("name", name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("version", versionParam); err != nil {
		writeError(w, h.logger, err)
		return
	}

	version, err := strconv.Atoi(versionParam)
	if err != nil || version < 1 {
		writeError(w, h.logger, apperr.Invalid("invalid model version %q", versionParam))
		return
	}

	mv, err := h.store.GetModelVersion(r.Context(), name, version)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking.ModelVersionResponse{ModelVersion: tracking.ModelVersionToJSON(mv)})
}
