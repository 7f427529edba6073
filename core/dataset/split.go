package dataset

import (
	"math"
	"math/rand"

	"pdm-pipeline/core/apperr"
)

// Split defaults used by the train stage
const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
)

// Split returns shuffled train and test row indices for n rows.
// The same n, testSize and seed always yield the same partition.
func Split(n int, testSize float64, seed int64) ([]int, []int, error) {
	if n < 2 {
		return nil, nil, apperr.DataShape("need at least 2 rows to split, got %d", n)
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, apperr.Invalid("test size must be in (0, 1), got %g", testSize)
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test := append([]int(nil), perm[:nTest]...)
	train := append([]int(nil), perm[nTest:]...)
	return train, test, nil
}

// Take returns the rows of X and y at the given indices
func Take(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}
