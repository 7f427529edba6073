package models

// Fixed layout of the raw sensor logs
const (
	NumSettings = 3
	NumSensors  = 21
	// NumRawColumns is unit + cycle + settings + sensors
	NumRawColumns = 2 + NumSettings + NumSensors
)

// Reading is one row of a raw sensor log, keyed by (Unit, Cycle)
type Reading struct {
	Unit     int
	Cycle    int
	Settings [NumSettings]float64
	Sensors  [NumSensors]float64
}

// FeatureRow is a Reading with trailing-window statistics per sensor and the
// failure-imminent label
type FeatureRow struct {
	Reading
	Mean    [NumSensors]float64
	Std     [NumSensors]float64
	Failure int
}
