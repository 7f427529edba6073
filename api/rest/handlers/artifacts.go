package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pdm-pipeline/core/monitoring"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/storage"
)

// ArtifactHandler proxies artifact uploads, downloads and listings to the artifact store
type ArtifactHandler struct {
	store   storage.ArtifactStore
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(store storage.ArtifactStore, metrics *monitoring.Metrics, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{store: store, metrics: metrics, logger: logger}
}

// countingReader tracks how many bytes were read
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Upload handles PUT artifacts/{path}
func (h *ArtifactHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	body := &countingReader{r: r.Body}
	if err := h.store.Put(r.Context(), path, body, r.ContentLength); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.metrics.ArtifactBytes.WithLabelValues("upload").Add(float64(body.n))
	h.logger.Debug("artifact uploaded", zap.String("path", path), zap.Int64("bytes", body.n))
	writeJSON(w, http.StatusOK, struct{}{})
}

// Download handles GET artifacts/{path}
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	rc, err := h.store.Get(r.Context(), path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	n, err := io.Copy(w, rc)
	if err != nil {
		h.logger.Warn("artifact download interrupted", zap.String("path", path), zap.Error(err))
	}
	h.metrics.ArtifactBytes.WithLabelValues("download").Add(float64(n))
}

// List handles GET artifacts?path=
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	items, err := h.store.List(r.Context(), path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	files := make([]tracking.FileInfoJSON, len(items))
	for i, item := range items {
		files[i] = tracking.FileInfoJSON{Path: item.Path, IsDir: item.IsDir, FileSize: item.FileSize}
	}
	writeJSON(w, http.StatusOK, tracking.ListArtifactsResponse{Files: files})
}
