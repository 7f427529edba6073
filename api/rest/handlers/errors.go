package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/tracking"
)

// writeJSON encodes body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error kind to an API error body
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	code := tracking.ErrorCodeInternal

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, code = http.StatusNotFound, tracking.ErrorCodeNotFound
	case errors.Is(err, apperr.ErrAlreadyExists):
		status, code = http.StatusBadRequest, tracking.ErrorCodeAlreadyExists
	case errors.Is(err, apperr.ErrInvalid), errors.Is(err, apperr.ErrParse):
		status, code = http.StatusBadRequest, tracking.ErrorCodeInvalid
	case errors.Is(err, apperr.ErrState):
		status, code = http.StatusBadRequest, tracking.ErrorCodeInvalidState
	default:
		logger.Error("request failed", zap.Error(err))
	}

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	writeJSON(w, status, tracking.ErrorResponse{ErrorCode: code, Message: message})
}

// decodeBody parses a JSON request body
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Invalid("invalid request body: %v", err)
	}
	return nil
}

// requireField rejects an empty required parameter
func requireField(name, value string) error {
	if value == "" {
		return apperr.Invalid("missing value for required parameter '%s'", name)
	}
	return nil
}
