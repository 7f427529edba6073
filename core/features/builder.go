package features

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// DefaultWindowSize is the documented rolling window
const DefaultWindowSize = 5

// Builder computes trailing rolling statistics per unit
type Builder struct {
	windowSize int
	logger     *zap.Logger
}

// NewBuilder creates a feature builder for the given window size
func NewBuilder(windowSize int, logger *zap.Logger) (*Builder, error) {
	if windowSize < 1 {
		return nil, apperr.Invalid("window size must be >= 1, got %d", windowSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{windowSize: windowSize, logger: logger}, nil
}

// WindowSize returns the configured window
func (b *Builder) WindowSize() int {
	return b.windowSize
}

// unitGroup holds the input positions of one unit, ordered by cycle
type unitGroup struct {
	unit    int
	indices []int
}

// Build appends rolling mean and std for every sensor. Rows without a full
// window inside their unit are dropped; the rest keep input order.
func (b *Builder) Build(ctx context.Context, readings []models.Reading) ([]models.FeatureRow, error) {
	groups := groupByUnit(readings)

	rows := make([]models.FeatureRow, len(readings))
	complete := make([]bool, len(readings))

	g, ctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.buildGroup(readings, group, rows, complete)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.FeatureRow, 0, len(readings))
	for i := range rows {
		if complete[i] {
			out = append(out, rows[i])
		}
	}

	b.logger.Debug("built rolling features",
		zap.Int("window_size", b.windowSize),
		zap.Int("units", len(groups)),
		zap.Int("input_rows", len(readings)),
		zap.Int("output_rows", len(out)),
	)

	return out, nil
}

// buildGroup writes only the positions owned by its unit, so groups can run
// concurrently over the shared slices
func (b *Builder) buildGroup(readings []models.Reading, group unitGroup, rows []models.FeatureRow, complete []bool) {
	w := b.windowSize
	window := make([]float64, w)

	for pos := w - 1; pos < len(group.indices); pos++ {
		idx := group.indices[pos]
		row := models.FeatureRow{Reading: readings[idx]}

		for s := 0; s < models.NumSensors; s++ {
			for k := 0; k < w; k++ {
				window[k] = readings[group.indices[pos-w+1+k]].Sensors[s]
			}
			row.Mean[s], row.Std[s] = meanStd(window)
		}

		rows[idx] = row
		complete[idx] = true
	}
}

// groupByUnit returns unit groups in order of first appearance, each sorted by cycle
func groupByUnit(readings []models.Reading) []unitGroup {
	positions := make(map[int]int)
	var groups []unitGroup

	for i, r := range readings {
		p, ok := positions[r.Unit]
		if !ok {
			p = len(groups)
			positions[r.Unit] = p
			groups = append(groups, unitGroup{unit: r.Unit})
		}
		groups[p].indices = append(groups[p].indices, i)
	}

	for i := range groups {
		idx := groups[i].indices
		sort.SliceStable(idx, func(a, b int) bool {
			return readings[idx[a]].Cycle < readings[idx[b]].Cycle
		})
	}

	return groups
}

// meanStd returns the mean and the sample standard deviation (ddof=1).
// Values are shifted by the first element so a constant window yields
// exactly that value and exactly zero. A single value has std 0.
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	shift := values[0]

	var sum, sumSq float64
	for _, v := range values {
		d := v - shift
		sum += d
		sumSq += d * d
	}

	mean := shift + sum/n
	if len(values) < 2 {
		return mean, 0
	}

	variance := (sumSq - sum*sum/n) / (n - 1)
	if variance <= 0 {
		return mean, 0
	}
	return mean, math.Sqrt(variance)
}
