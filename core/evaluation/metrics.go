package evaluation

import (
	"pdm-pipeline/core/apperr"
)

// Scores holds binary classification metrics for the positive class
type Scores struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Score compares predictions with true labels. A ratio with a zero
// denominator is reported as 0.
func Score(yTrue, yPred []int) (Scores, error) {
	if len(yTrue) != len(yPred) {
		return Scores{}, apperr.DataShape("%d labels but %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Scores{}, apperr.DataShape("cannot score an empty set")
	}

	var tp, fp, fn, correct int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
		switch {
		case yPred[i] == 1 && yTrue[i] == 1:
			tp++
		case yPred[i] == 1:
			fp++
		case yTrue[i] == 1:
			fn++
		}
	}

	s := Scores{
		Accuracy:  float64(correct) / float64(len(yTrue)),
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Map returns the scores keyed by metric name, each name given the prefix
func (s Scores) Map(prefix string) map[string]float64 {
	return map[string]float64{
		prefix + "accuracy":  s.Accuracy,
		prefix + "precision": s.Precision,
		prefix + "recall":    s.Recall,
		prefix + "f1_score":  s.F1,
	}
}
