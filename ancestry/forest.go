package ancestry

import (
	"math"
	"math/rand"
	"sort"
)

// A compact random-forest classifier over PCA coordinates: bagged CART trees
// with Gini splitting and per-node feature subsampling. Only what population
// assignment needs; not a general-purpose learner.

type treeNode struct {
	// Internal nodes.
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode

	// Leaves.
	leaf   bool
	counts []float64 // class histogram, normalized
}

type forest struct {
	trees    []*treeNode
	nClasses int
}

type forestConfig struct {
	nTrees   int
	maxDepth int
	minLeaf  int
	mtry     int // features considered per split; 0 means sqrt(p)
	seed     int64
}

func defaultForestConfig(nFeatures int) forestConfig {
	return forestConfig{
		nTrees:   500,
		maxDepth: 16,
		minLeaf:  2,
		mtry:     int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures))))),
		seed:     44,
	}
}

func trainForest(x [][]float64, y []int, nClasses int, cfg forestConfig) *forest {
	rng := rand.New(rand.NewSource(cfg.seed))
	f := &forest{nClasses: nClasses}

	n := len(x)
	for t := 0; t < cfg.nTrees; t++ {
		// Bootstrap sample.
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		f.trees = append(f.trees, growTree(x, y, idx, nClasses, cfg, rng, 0))
	}

	return f
}

func classCounts(y []int, idx []int, nClasses int) []float64 {
	counts := make([]float64, nClasses)
	for _, i := range idx {
		counts[y[i]]++
	}
	return counts
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

func growTree(x [][]float64, y []int, idx []int, nClasses int, cfg forestConfig, rng *rand.Rand, depth int) *treeNode {
	counts := classCounts(y, idx, nClasses)

	pure := false
	for _, c := range counts {
		if c == float64(len(idx)) {
			pure = true
		}
	}

	if pure || depth >= cfg.maxDepth || len(idx) < 2*cfg.minLeaf {
		return leafNode(counts, len(idx))
	}

	nFeatures := len(x[0])
	features := rng.Perm(nFeatures)[:cfg.mtry]

	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0
	parentImpurity := gini(counts, float64(len(idx)))

	values := make([]float64, len(idx))
	for _, feature := range features {
		for i, ix := range idx {
			values[i] = x[ix][feature]
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		// Candidate thresholds at midpoints of adjacent distinct values.
		for i := 1; i < len(sorted); i++ {
			if sorted[i] == sorted[i-1] {
				continue
			}
			threshold := (sorted[i] + sorted[i-1]) / 2

			leftCounts := make([]float64, nClasses)
			rightCounts := make([]float64, nClasses)
			var nLeft, nRight float64
			for _, ix := range idx {
				if x[ix][feature] <= threshold {
					leftCounts[y[ix]]++
					nLeft++
				} else {
					rightCounts[y[ix]]++
					nRight++
				}
			}
			if int(nLeft) < cfg.minLeaf || int(nRight) < cfg.minLeaf {
				continue
			}

			total := nLeft + nRight
			gain := parentImpurity -
				(nLeft/total)*gini(leftCounts, nLeft) -
				(nRight/total)*gini(rightCounts, nRight)
			if gain > bestGain {
				bestGain, bestFeature, bestThreshold = gain, feature, threshold
			}
		}
	}

	if bestFeature < 0 {
		return leafNode(counts, len(idx))
	}

	var leftIdx, rightIdx []int
	for _, ix := range idx {
		if x[ix][bestFeature] <= bestThreshold {
			leftIdx = append(leftIdx, ix)
		} else {
			rightIdx = append(rightIdx, ix)
		}
	}

	return &treeNode{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      growTree(x, y, leftIdx, nClasses, cfg, rng, depth+1),
		right:     growTree(x, y, rightIdx, nClasses, cfg, rng, depth+1),
	}
}

func leafNode(counts []float64, n int) *treeNode {
	normalized := make([]float64, len(counts))
	if n > 0 {
		for i, c := range counts {
			normalized[i] = c / float64(n)
		}
	}
	return &treeNode{leaf: true, counts: normalized}
}

// predictProba averages the leaf class histograms across all trees.
func (f *forest) predictProba(x []float64) []float64 {
	probs := make([]float64, f.nClasses)
	for _, tree := range f.trees {
		node := tree
		for !node.leaf {
			if x[node.feature] <= node.threshold {
				node = node.left
			} else {
				node = node.right
			}
		}
		for i, p := range node.counts {
			probs[i] += p
		}
	}

	for i := range probs {
		probs[i] /= float64(len(f.trees))
	}

	return probs
}
