// Package serving exposes a fitted model over a small REST scoring API.
package serving

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/dataset"
	"pdm-pipeline/core/tracking"
	"pdm-pipeline/training/forest"
)

// ErrorCodeBadRequest marks scoring requests that cannot be parsed
const ErrorCodeBadRequest = "BAD_REQUEST"

// DataframeSplit is a column-labelled batch of rows
type DataframeSplit struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

// InvocationRequest is the body of POST /invocations; exactly one field is set
type InvocationRequest struct {
	DataframeSplit *DataframeSplit `json:"dataframe_split,omitempty"`
	Inputs         [][]float64     `json:"inputs,omitempty"`
}

// InvocationResponse carries one prediction per input row
type InvocationResponse struct {
	Predictions []int `json:"predictions"`
}

// Server scores rows with one model
type Server struct {
	model    *forest.Model
	modelURI string
	logger   *zap.Logger
}

// NewServer creates a scoring server for model
func NewServer(model *forest.Model, modelURI string, logger *zap.Logger) *Server {
	return &Server{model: model, modelURI: modelURI, logger: logger}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ping", s.Ping).Methods("GET")
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.HandleFunc("/invocations", s.Invocations).Methods("POST")
	return r
}

// Ping answers the readiness check
func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("\n"))
}

// Health describes the loaded model
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"model_uri": s.modelURI,
		"trees":     len(s.model.Trees),
		"features":  len(s.model.Metadata.FeatureNames),
	})
}

// Invocations predicts the failure label of every input row
func (s *Server) Invocations(w http.ResponseWriter, r *http.Request) {
	var req InvocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("invalid request body: %v", err))
		return
	}

	X, err := s.features(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	pred, err := s.model.Predict(X)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Debug("scored batch", zap.Int("rows", len(X)))
	writeJSON(w, http.StatusOK, InvocationResponse{Predictions: pred})
}

// features extracts the feature matrix in the model's column order
func (s *Server) features(req InvocationRequest) ([][]float64, error) {
	switch {
	case req.DataframeSplit != nil && req.Inputs != nil:
		return nil, apperr.Invalid("only one of dataframe_split and inputs may be set")
	case req.DataframeSplit != nil:
		split := req.DataframeSplit
		names := s.model.Metadata.FeatureNames
		if len(split.Columns) == 0 || len(names) == 0 {
			return split.Data, nil
		}
		frame := &dataset.Frame{Columns: split.Columns, Data: split.Data}
		for i, row := range frame.Data {
			if len(row) != len(frame.Columns) {
				return nil, apperr.DataShape("row %d has %d values for %d columns", i, len(row), len(frame.Columns))
			}
		}
		return dataset.Select(frame, names)
	case req.Inputs != nil:
		return req.Inputs, nil
	default:
		return nil, apperr.Invalid("request must contain dataframe_split or inputs")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusBadRequest, ErrorCodeBadRequest
	if !errors.Is(err, apperr.ErrInvalid) && !errors.Is(err, apperr.ErrDataShape) {
		status, code = http.StatusInternalServerError, tracking.ErrorCodeInternal
		s.logger.Error("scoring failed", zap.Error(err))
	}

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, tracking.ErrorResponse{ErrorCode: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ListenAndServe serves h on addr until ctx is done, then shuts down gracefully
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return apperr.Process(err, "server on %s failed", addr)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server", zap.String("addr", addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return apperr.Process(err, "server on %s forced to shut down", addr)
	}
	logger.Info("server exited", zap.String("addr", addr))
	return nil
}
