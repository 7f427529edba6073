package dataset

import (
	"fmt"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// Column names shared by the processed CSV files
const (
	LabelColumn = "failure"
	UnitColumn  = "unit"
	CycleColumn = "cycle"
)

// Frame is a dense numeric table with named columns
type Frame struct {
	Columns []string
	Data    [][]float64
}

// NewFrame creates an empty frame with the given columns
func NewFrame(columns []string) *Frame {
	return &Frame{Columns: columns}
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.Data)
}

// Index returns the position of a column or -1
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row; its width must match the columns
func (f *Frame) Append(row []float64) error {
	if len(row) != len(f.Columns) {
		return apperr.DataShape("row has %d values, frame has %d columns", len(row), len(f.Columns))
	}
	f.Data = append(f.Data, row)
	return nil
}

// ProcessedColumns returns the column layout of a processed feature file
func ProcessedColumns() []string {
	cols := []string{UnitColumn, CycleColumn}
	for i := 1; i <= models.NumSettings; i++ {
		cols = append(cols, fmt.Sprintf("setting_%d", i))
	}
	for i := 1; i <= models.NumSensors; i++ {
		cols = append(cols, SensorColumn(i))
	}
	for i := 1; i <= models.NumSensors; i++ {
		cols = append(cols, SensorColumn(i)+"_mean", SensorColumn(i)+"_std")
	}
	return append(cols, LabelColumn)
}

// SensorColumn names the i-th sensor, counting from 1
func SensorColumn(i int) string {
	return fmt.Sprintf("sensor_%d", i)
}

// FromFeatureRows converts labeled feature rows into a frame
func FromFeatureRows(rows []models.FeatureRow) *Frame {
	f := NewFrame(ProcessedColumns())
	f.Data = make([][]float64, 0, len(rows))

	for _, r := range rows {
		row := make([]float64, 0, len(f.Columns))
		row = append(row, float64(r.Unit), float64(r.Cycle))
		row = append(row, r.Settings[:]...)
		row = append(row, r.Sensors[:]...)
		for s := 0; s < models.NumSensors; s++ {
			row = append(row, r.Mean[s], r.Std[s])
		}
		row = append(row, float64(r.Failure))
		f.Data = append(f.Data, row)
	}

	return f
}

// XY splits a frame into a feature matrix and integer labels. The label
// column and every column in drop are excluded from the features; drop
// columns that are absent are ignored.
func XY(f *Frame, label string, drop ...string) ([][]float64, []int, []string, error) {
	labelIdx := f.Index(label)
	if labelIdx < 0 {
		return nil, nil, nil, apperr.DataShape("label column %q missing", label)
	}

	excluded := map[int]bool{labelIdx: true}
	for _, name := range drop {
		if i := f.Index(name); i >= 0 {
			excluded[i] = true
		}
	}

	var featureIdx []int
	var names []string
	for i, c := range f.Columns {
		if !excluded[i] {
			featureIdx = append(featureIdx, i)
			names = append(names, c)
		}
	}
	if len(featureIdx) == 0 {
		return nil, nil, nil, apperr.DataShape("no feature columns besides %q", label)
	}

	X := make([][]float64, len(f.Data))
	y := make([]int, len(f.Data))
	for r, row := range f.Data {
		x := make([]float64, len(featureIdx))
		for j, i := range featureIdx {
			x[j] = row[i]
		}
		X[r] = x
		y[r] = int(row[labelIdx])
	}

	return X, y, names, nil
}

// Select returns the feature matrix restricted to the named columns, in that order
func Select(f *Frame, names []string) ([][]float64, error) {
	idx := make([]int, len(names))
	for j, name := range names {
		i := f.Index(name)
		if i < 0 {
			return nil, apperr.DataShape("feature column %q missing", name)
		}
		idx[j] = i
	}

	X := make([][]float64, len(f.Data))
	for r, row := range f.Data {
		x := make([]float64, len(idx))
		for j, i := range idx {
			x[j] = row[i]
		}
		X[r] = x
	}
	return X, nil
}
