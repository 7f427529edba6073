package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdm-pipeline/core/apperr"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []int
		yPred []int
		want  Scores
	}{
		{
			name:  "perfect",
			yTrue: []int{0, 1, 1, 0},
			yPred: []int{0, 1, 1, 0},
			want:  Scores{Accuracy: 1, Precision: 1, Recall: 1, F1: 1},
		},
		{
			name:  "mixed",
			yTrue: []int{1, 1, 1, 0, 0},
			yPred: []int{1, 0, 1, 1, 0},
			want:  Scores{Accuracy: 0.6, Precision: 2.0 / 3.0, Recall: 2.0 / 3.0, F1: 2.0 / 3.0},
		},
		{
			name:  "no positive predictions",
			yTrue: []int{1, 0},
			yPred: []int{0, 0},
			want:  Scores{Accuracy: 0.5},
		},
		{
			name:  "no positives at all",
			yTrue: []int{0, 0},
			yPred: []int{0, 0},
			want:  Scores{Accuracy: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Score(tt.yTrue, tt.yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Accuracy, got.Accuracy, 1e-12)
			assert.InDelta(t, tt.want.Precision, got.Precision, 1e-12)
			assert.InDelta(t, tt.want.Recall, got.Recall, 1e-12)
			assert.InDelta(t, tt.want.F1, got.F1, 1e-12)
		})
	}
}

func TestScoreShapeErrors(t *testing.T) {
	_, err := Score([]int{1}, []int{1, 0})
	assert.True(t, apperr.IsDataShape(err))

	_, err = Score(nil, nil)
	assert.True(t, apperr.IsDataShape(err))
}

func TestScoresMap(t *testing.T) {
	s := Scores{Accuracy: 0.9, Precision: 0.8, Recall: 0.7, F1: 0.6}

	assert.Equal(t, map[string]float64{
		"accuracy": 0.9, "precision": 0.8, "recall": 0.7, "f1_score": 0.6,
	}, s.Map(""))
	assert.Contains(t, s.Map("test_"), "test_f1_score")
}
