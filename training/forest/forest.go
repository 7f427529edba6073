package forest

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pdm-pipeline/core/apperr"
)

// Algorithm identifies the model format written by Save
const Algorithm = "random_forest"

// ModelFileName is the file holding the serialized model inside its artifact directory
const ModelFileName = "model.json"

// Config holds forest hyperparameters
type Config struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"` // <= 0 grows until leaves are pure
	MaxFeatures     int   `json:"max_features"` // <= 0 uses sqrt(n_features)
	MinSamplesSplit int   `json:"min_samples_split"`
	Seed            int64 `json:"seed"`
}

// DefaultConfig returns the hyperparameters of the train stage
func DefaultConfig() Config {
	return Config{
		NEstimators:     100,
		MaxDepth:        5,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

func (c Config) featuresPerSplit(nFeatures int) int {
	m := c.MaxFeatures
	if m <= 0 {
		m = int(math.Sqrt(float64(nFeatures)))
	}
	if m < 1 {
		m = 1
	}
	if m > nFeatures {
		m = nFeatures
	}
	return m
}

// Metadata describes how a model was produced
type Metadata struct {
	Algorithm    string    `json:"algorithm"`
	Config       Config    `json:"config"`
	FeatureNames []string  `json:"feature_names"`
	Classes      []int     `json:"classes"`
	TrainingData string    `json:"training_data,omitempty"`
	NSamples     int       `json:"n_samples"`
	TrainedAt    time.Time `json:"trained_at"`
}

// Model is a fitted random forest. It is not modified after Fit returns.
type Model struct {
	Metadata Metadata `json:"metadata"`
	Trees    []*Tree  `json:"trees"`
}

// Forest fits random forest classifiers
type Forest struct {
	config Config
	logger *zap.Logger
}

// New creates a forest trainer
func New(config Config, logger *zap.Logger) (*Forest, error) {
	if config.NEstimators < 1 {
		return nil, apperr.Invalid("n_estimators must be >= 1, got %d", config.NEstimators)
	}
	if config.MinSamplesSplit < 2 {
		config.MinSamplesSplit = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forest{config: config, logger: logger}, nil
}

// Fit grows NEstimators trees on bootstrap samples of X. Labels must be 0 or 1.
// Per-tree seeds are drawn up front so the result does not depend on scheduling.
func (f *Forest) Fit(ctx context.Context, X [][]float64, y []int, featureNames []string) (*Model, error) {
	if len(X) == 0 {
		return nil, apperr.DataShape("cannot fit on an empty dataset")
	}
	if len(X) != len(y) {
		return nil, apperr.DataShape("features have %d rows, labels have %d", len(X), len(y))
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return nil, apperr.DataShape("no feature columns")
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, apperr.DataShape("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, apperr.DataShape("row %d has label %d, expected 0 or 1", i, y[i])
		}
	}
	if featureNames != nil && len(featureNames) != nFeatures {
		return nil, apperr.DataShape("%d feature names for %d features", len(featureNames), nFeatures)
	}

	rng := rand.New(rand.NewSource(f.config.Seed))
	seeds := make([]int64, f.config.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees := make([]*Tree, f.config.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			trees[i] = growTree(X, y, f.config, nFeatures, seeds[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.logger.Info("fitted random forest",
		zap.Int("n_estimators", f.config.NEstimators),
		zap.Int("max_depth", f.config.MaxDepth),
		zap.Int("n_samples", len(X)),
		zap.Int("n_features", nFeatures),
	)

	return &Model{
		Metadata: Metadata{
			Algorithm:    Algorithm,
			Config:       f.config,
			FeatureNames: featureNames,
			Classes:      []int{0, 1},
			NSamples:     len(X),
			TrainedAt:    time.Now().UTC(),
		},
		Trees: trees,
	}, nil
}

// PredictProba returns the positive class probability averaged over trees
func (m *Model) PredictProba(X [][]float64) ([]float64, error) {
	if err := m.checkShape(X); err != nil {
		return nil, err
	}

	out := make([]float64, len(X))
	for i, x := range X {
		var sum float64
		for _, t := range m.Trees {
			sum += t.proba(x)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}

// Predict returns class labels; ties go to class 0
func (m *Model) Predict(X [][]float64) ([]int, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}

	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func (m *Model) checkShape(X [][]float64) error {
	if len(m.Trees) == 0 {
		return apperr.State("model has no trees")
	}
	want := len(m.Metadata.FeatureNames)
	for i, x := range X {
		if want > 0 && len(x) != want {
			return apperr.DataShape("row %d has %d features, model expects %d", i, len(x), want)
		}
		if want == 0 && len(x) <= maxFeatureIndex(m.Trees) {
			return apperr.DataShape("row %d has %d features, model splits on feature %d", i, len(x), maxFeatureIndex(m.Trees))
		}
	}
	return nil
}

func maxFeatureIndex(trees []*Tree) int {
	highest := -1
	for _, t := range trees {
		for _, n := range t.Nodes {
			if !n.Leaf && n.Feature > highest {
				highest = n.Feature
			}
		}
	}
	return highest
}

// Save writes the model as JSON
func (m *Model) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return apperr.IO(err, "failed to encode model")
	}
	return nil
}

// Load reads a model written by Save
func Load(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, apperr.Parse(err, "failed to decode model")
	}
	if m.Metadata.Algorithm != Algorithm {
		return nil, apperr.Parse(nil, "unsupported model algorithm %q", m.Metadata.Algorithm)
	}
	if len(m.Trees) == 0 {
		return nil, apperr.Parse(nil, "model has no trees")
	}
	for ti, t := range m.Trees {
		if t == nil || len(t.Nodes) == 0 {
			return nil, apperr.Parse(nil, "tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return nil, apperr.Parse(nil, "tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return &m, nil
}
