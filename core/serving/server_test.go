package serving

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdm-pipeline/core/tracking"
	"pdm-pipeline/training/forest"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	X := [][]float64{{0, 10}, {1, 11}, {2, 12}, {8, 10}, {9, 11}, {10, 12}}
	y := []int{0, 0, 0, 1, 1, 1}
	cfg := forest.DefaultConfig()
	cfg.NEstimators = 9
	cfg.MaxFeatures = 2
	f, err := forest.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	model, err := f.Fit(context.Background(), X, y, []string{"sensor_2", "sensor_3"})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(model, "models:/PredictiveMaintenanceModel/1", zaptest.NewLogger(t)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url+"/invocations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestPing(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 9, health["trees"])
}

func TestInvocations(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want []int
	}{
		{"inputs", `{"inputs": [[0, 10], [10, 12]]}`, []int{0, 1}},
		{"dataframe split", `{"dataframe_split": {"columns": ["sensor_2", "sensor_3"], "data": [[1, 11], [9, 11]]}}`, []int{0, 1}},
		{"columns reordered", `{"dataframe_split": {"columns": ["sensor_3", "sensor_2", "unit"], "data": [[11, 9, 1], [11, 1, 1]]}}`, []int{1, 0}},
		{"empty batch", `{"inputs": []}`, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp InvocationResponse
			require.Equal(t, http.StatusOK, post(t, srv.URL, tt.body, &resp))
			assert.Equal(t, tt.want, resp.Predictions)
		})
	}
}

func TestInvocationsRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	for name, body := range map[string]string{
		"not json":       `{`,
		"empty":          `{}`,
		"wrong width":    `{"inputs": [[1, 2, 3]]}`,
		"missing column": `{"dataframe_split": {"columns": ["sensor_2"], "data": [[1]]}}`,
		"ragged row":     `{"dataframe_split": {"columns": ["sensor_2", "sensor_3"], "data": [[1]]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			var resp tracking.ErrorResponse
			assert.Equal(t, http.StatusBadRequest, post(t, srv.URL, body, &resp))
			assert.Equal(t, ErrorCodeBadRequest, resp.ErrorCode)
			assert.NotEmpty(t, resp.Message)
		})
	}
}
