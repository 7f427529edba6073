package forest

import (
	"math/rand"
	"sort"
)

// Node is one entry of a flattened decision tree. Leaves carry the
// fraction of positive samples that reached them.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
	Samples   int     `json:"samples"`
}

// Tree is a binary CART classifier stored as a node slice rooted at 0
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// proba walks the tree for one sample
func (t *Tree) proba(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeBuilder grows one tree on a bootstrap sample
type treeBuilder struct {
	X           [][]float64
	y           []int
	maxDepth    int
	maxFeatures int
	minSplit    int
	rng         *rand.Rand
	tree        *Tree
}

func growTree(X [][]float64, y []int, cfg Config, nFeatures int, seed int64) *Tree {
	b := &treeBuilder{
		X:           X,
		y:           y,
		maxDepth:    cfg.MaxDepth,
		maxFeatures: cfg.featuresPerSplit(nFeatures),
		minSplit:    cfg.MinSamplesSplit,
		rng:         rand.New(rand.NewSource(seed)),
		tree:        &Tree{},
	}

	sample := make([]int, len(X))
	for i := range sample {
		sample[i] = b.rng.Intn(len(X))
	}

	b.build(sample, 0)
	return b.tree
}

// build appends the subtree for idx and returns its node index
func (b *treeBuilder) build(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}

	self := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{
		Leaf:    true,
		Value:   float64(pos) / float64(len(idx)),
		Samples: len(idx),
	})

	if pos == 0 || pos == len(idx) || len(idx) < b.minSplit {
		return self
	}
	if b.maxDepth > 0 && depth >= b.maxDepth {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return self
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	n := &b.tree.Nodes[self]
	n.Leaf = false
	n.Feature = feature
	n.Threshold = threshold
	n.Left = l
	n.Right = r
	return self
}

// bestSplit searches a random subset of features for the threshold with the
// lowest weighted gini impurity
func (b *treeBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	nFeatures := len(b.X[idx[0]])
	candidates := b.rng.Perm(nFeatures)[:b.maxFeatures]

	total := float64(len(idx))
	bestScore := gini(pos, len(idx))
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	for _, f := range candidates {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})

		leftPos := 0
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += b.y[sorted[k]]
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}

			nLeft := k + 1
			nRight := len(sorted) - nLeft
			score := (float64(nLeft)*gini(leftPos, nLeft) + float64(nRight)*gini(pos-leftPos, nRight)) / total
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

// gini is the impurity of a node with pos positives out of n
func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
