package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/repository"
	"pdm-pipeline/core/tracking"
)

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	store   repository.Store
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(store repository.Store, metrics *monitoring.Metrics, logger *zap.Logger) *RunHandler {
	return &RunHandler{store: store, metrics: metrics, logger: logger}
}

// CreateRun handles POST runs/create
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req tracking.CreateRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("experiment_id", req.ExperimentID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	start := time.Now()
	if req.StartTime > 0 {
		start = time.UnixMilli(req.StartTime)
	}
	tags := make(map[string]string, len(req.Tags))
	for _, t := range req.Tags {
		tags[t.Key] = t.Value
	}

	run, err := h.store.CreateRun(r.Context(), req.ExperimentID, req.RunName, start, tags)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.metrics.RunsCreated.Inc()
	h.metrics.RunsActive.Inc()
	h.logger.Info("run created",
		zap.String("run_id", run.ID),
		zap.String("experiment_id", run.ExperimentID),
		zap.String("run_name", run.Name),
	)
	writeJSON(w, http.StatusOK, tracking.RunResponse{Run: tracking.RunToJSON(run)})
}

// GetRun handles GET runs/get
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if err := requireField("run_id", runID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking.RunResponse{Run: tracking.RunToJSON(run)})
}

// UpdateRun handles POST runs/update
func (h *RunHandler) UpdateRun(w http.ResponseWriter, r *http.Request) {
	var req tracking.UpdateRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("run_id", req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := models.RunStatus(req.Status)
	switch status {
	case models.RunStatusRunning, models.RunStatusFinished, models.RunStatusFailed, models.RunStatusKilled:
	default:
		writeError(w, h.logger, apperr.Invalid("invalid run status %q", req.Status))
		return
	}

	current, err := h.store.GetRun(r.Context(), req.RunID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var endTime *time.Time
	if req.EndTime > 0 {
		t := time.UnixMilli(req.EndTime)
		endTime = &t
	} else if status.Terminal() {
		t := time.Now()
		endTime = &t
	}

	run, err := h.store.UpdateRunStatus(r.Context(), req.RunID, status, endTime, "status_update")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if status.Terminal() && !current.Status.Terminal() {
		h.metrics.RunsEnded.WithLabelValues(string(status)).Inc()
		h.metrics.RunsActive.Dec()
	}
	h.logger.Info("run updated",
		zap.String("run_id", run.ID),
		zap.String("from_status", string(current.Status)),
		zap.String("to_status", string(run.Status)),
	)
	writeJSON(w, http.StatusOK, tracking.UpdateRunResponse{RunInfo: tracking.RunInfoToJSON(run)})
}

// LogParam handles POST runs/log-parameter
func (h *RunHandler) LogParam(w http.ResponseWriter, r *http.Request) {
	var req tracking.LogParamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("run_id", req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("key", req.Key); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.store.LogParam(r.Context(), req.RunID, models.Param{Key: req.Key, Value: req.Value}); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// LogMetric handles POST runs/log-metric
func (h *RunHandler) LogMetric(w http.ResponseWriter, r *http.Request) {
	var req tracking.LogMetricRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("run_id", req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("key", req.Key); err != nil {
		writeError(w, h.logger, err)
		return
	}

	metric := models.Metric{Key: req.Key, Value: req.Value, Timestamp: req.Timestamp, Step: req.Step}
	if metric.Timestamp == 0 {
		metric.Timestamp = time.Now().UnixMilli()
	}
	if err := h.store.LogMetric(r.Context(), req.RunID, metric); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// LogBatch handles POST runs/log-batch
func (h *RunHandler) LogBatch(w http.ResponseWriter, r *http.Request) {
	var req tracking.LogBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("run_id", req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetRun(ctx, req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	for _, p := range req.Params {
		if err := h.store.LogParam(ctx, req.RunID, models.Param{Key: p.Key, Value: p.Value}); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	now := time.Now().UnixMilli()
	for _, m := range req.Metrics {
		metric := models.Metric{Key: m.Key, Value: m.Value, Timestamp: m.Timestamp, Step: m.Step}
		if metric.Timestamp == 0 {
			metric.Timestamp = now
		}
		if err := h.store.LogMetric(ctx, req.RunID, metric); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	for _, t := range req.Tags {
		if err := h.store.SetTag(ctx, req.RunID, t.Key, t.Value); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// SetTag handles POST runs/set-tag
func (h *RunHandler) SetTag(w http.ResponseWriter, r *http.Request) {
	var req tracking.SetTagRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("run_id", req.RunID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := requireField("key", req.Key); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.store.SetTag(r.Context(), req.RunID, req.Key, req.Value); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// GetRunEvents handles GET runs/events
func (h *RunHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if err := requireField("run_id", runID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 0 {
			writeError(w, h.logger, apperr.Invalid("invalid limit %q", limitParam))
			return
		}
		limit = n
	}

	events, err := h.store.GetRunEvents(r.Context(), runID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	items := make([]tracking.RunEventJSON, len(events))
	for i, event := range events {
		item := tracking.RunEventJSON{
			ID:       event.ID,
			At:       event.At.UnixMilli(),
			ToStatus: string(event.ToStatus),
			Reason:   event.Reason,
		}
		if event.FromStatus != nil {
			item.FromStatus = string(*event.FromStatus)
		}
		items[i] = item
	}

	writeJSON(w, http.StatusOK, tracking.RunEventsResponse{Events: items})
}
