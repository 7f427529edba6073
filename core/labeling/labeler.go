package labeling

import (
	"pdm-pipeline/core/models"
)

// DefaultHorizon is the number of cycles before end of life that counts as failure-imminent
const DefaultHorizon = 30

// Labeler derives the binary failure label from remaining cycles
type Labeler struct {
	Horizon int
}

// NewLabeler creates a labeler; a non-positive horizon falls back to DefaultHorizon
func NewLabeler(horizon int) *Labeler {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Labeler{Horizon: horizon}
}

// Apply sets Failure on every row in place.
// remaining maps a unit to the cycles it still ran after its last observed
// cycle; units missing from it (or a nil map) are treated as run to failure.
func (l *Labeler) Apply(rows []models.FeatureRow, remaining map[int]int) {
	last := LastCycles(rows)

	for i := range rows {
		rul := RemainingCycles(last[rows[i].Unit], rows[i].Cycle, remaining[rows[i].Unit])
		if rul <= l.Horizon {
			rows[i].Failure = 1
		} else {
			rows[i].Failure = 0
		}
	}
}

// LastCycles returns the maximum observed cycle per unit
func LastCycles(rows []models.FeatureRow) map[int]int {
	last := make(map[int]int)
	for _, r := range rows {
		if c, ok := last[r.Unit]; !ok || r.Cycle > c {
			last[r.Unit] = r.Cycle
		}
	}
	return last
}

// RemainingCycles is the distance from cycle to the unit's end of life
func RemainingCycles(lastCycle, cycle, offset int) int {
	return lastCycle - cycle + offset
}
