package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// RandomForest is a bagged ensemble of decision trees with per-tree
// bootstrap samples and random feature subsets. A fixed seed makes
// training reproducible.
type RandomForest struct {
	Trees       []*DecisionTree `json:"trees"`
	NumTrees    int             `json:"num_trees"`
	MaxDepth    int             `json:"max_depth"`
	NumFeatures int             `json:"num_features"`
	Classes     []string        `json:"classes"`
	RandomSeed  int64           `json:"random_seed"`
}

// NewRandomForest returns an unfitted forest.
func NewRandomForest(numTrees, maxDepth int, seed int64) *RandomForest {
	if numTrees <= 0 {
		numTrees = 25
	}
	return &RandomForest{NumTrees: numTrees, MaxDepth: maxDepth, RandomSeed: seed}
}

// Fit trains every tree on a bootstrap sample using sqrt(p) random
// features per tree.
func (f *RandomForest) Fit(X [][]float64, y []string) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X and y must have same length, got %d and %d", len(X), len(y))
	}

	f.NumFeatures = len(X[0])
	f.Classes = uniqueClasses(y)
	f.Trees = make([]*DecisionTree, 0, f.NumTrees)

	rng := rand.New(rand.NewSource(f.RandomSeed))
	subsetSize := int(math.Sqrt(float64(f.NumFeatures)))
	if subsetSize < 1 {
		subsetSize = 1
	}

	for i := 0; i < f.NumTrees; i++ {
		sampleX := make([][]float64, len(X))
		sampleY := make([]string, len(y))
		for j := range X {
			k := rng.Intn(len(X))
			sampleX[j] = X[k]
			sampleY[j] = y[k]
		}

		subset := rng.Perm(f.NumFeatures)[:subsetSize]
		sort.Ints(subset)

		tree := NewDecisionTree(f.MaxDepth)
		tree.NumFeatures = f.NumFeatures
		tree.Classes = f.Classes
		tree.importances = make([]float64, f.NumFeatures)
		tree.totalWeight = float64(len(sampleY))

		indices := make([]int, len(sampleX))
		for j := range indices {
			indices[j] = j
		}
		tree.Root = tree.build(sampleX, sampleY, indices, 0, subset)
		f.Trees = append(f.Trees, tree)
	}
	return nil
}

// Predict returns the majority-vote class and the fraction of trees that
// voted for it.
func (f *RandomForest) Predict(x []float64) (string, float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return "", 0, err
	}

	best, bestP := "", -1.0
	classes := make([]string, 0, len(proba))
	for c := range proba {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		if proba[c] > bestP {
			best, bestP = c, proba[c]
		}
	}
	return best, bestP, nil
}

// PredictProba averages leaf distributions across trees.
func (f *RandomForest) PredictProba(x []float64) (map[string]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("forest not fitted")
	}
	if len(x) != f.NumFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", f.NumFeatures, len(x))
	}

	sum := make(map[string]float64)
	for _, tree := range f.Trees {
		proba, err := tree.PredictProba(x)
		if err != nil {
			return nil, err
		}
		for c, p := range proba {
			sum[c] += p
		}
	}
	for c := range sum {
		sum[c] /= float64(len(f.Trees))
	}
	return sum, nil
}

// FeatureImportances averages per-tree importances.
func (f *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, f.NumFeatures)
	if len(f.Trees) == 0 {
		return out
	}
	for _, tree := range f.Trees {
		for i, v := range tree.FeatureImportances() {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(f.Trees))
	}
	return out
}
