package apperr

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		code string
	}{
		{"io", IO(os.ErrNotExist, "failed to open %s", "a.txt"), ErrIO, "IO_ERROR"},
		{"parse", Parse(nil, "bad row"), ErrParse, "PARSE_ERROR"},
		{"data shape", DataShape("%d columns", 3), ErrDataShape, "DATA_SHAPE"},
		{"not found", NotFound("run", "abc"), ErrNotFound, "NOT_FOUND"},
		{"already exists", AlreadyExists("experiment", "x"), ErrAlreadyExists, "ALREADY_EXISTS"},
		{"state", State("run ended"), ErrState, "INVALID_STATE"},
		{"external", External(errors.New("refused"), "tracking unreachable"), ErrExternal, "EXTERNAL"},
		{"process", Process(nil, "exited"), ErrProcess, "PROCESS"},
		{"timeout", Timeout("no answer after %s", "60s"), ErrTimeout, "TIMEOUT"},
		{"invalid", Invalid("bad port"), ErrInvalid, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.kind))

			var appErr *Error
			assert.True(t, errors.As(tt.err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestCauseIsKept(t *testing.T) {
	err := IO(os.ErrNotExist, "failed to open %s", "data.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.True(t, errors.Is(err, ErrIO))
	assert.Equal(t, "IO_ERROR: failed to open data.txt (io error: file does not exist)", err.Error())

	wrapped := fmt.Errorf("failed to preprocess: %w", err)
	assert.True(t, errors.Is(wrapped, ErrIO))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("model version", "m/1")))
	assert.True(t, IsAlreadyExists(AlreadyExists("registered model", "m")))
	assert.True(t, IsState(State("ended")))
	assert.True(t, IsTimeout(fmt.Errorf("deploy: %w", Timeout("waited"))))
	assert.True(t, IsDataShape(DataShape("empty")))
	assert.False(t, IsNotFound(Invalid("x")))
	assert.Equal(t, "NOT_FOUND: run 'abc' not found (not found)", NotFound("run", "abc").Error())
}
