// Package classifier trains tree-based models on reviewed candidates and
// scores new candidates with them.
package classifier

import (
	"fmt"
	"sort"
)

// TreeNode is one node of a fitted decision tree. Leaves carry the class
// distribution of the training samples that reached them.
type TreeNode struct {
	FeatureIndex int                `json:"feature_index"`
	Threshold    float64            `json:"threshold"`
	Left         *TreeNode          `json:"left,omitempty"`
	Right        *TreeNode          `json:"right,omitempty"`
	IsLeaf       bool               `json:"is_leaf"`
	Prediction   string             `json:"prediction,omitempty"`
	ClassCounts  map[string]int     `json:"class_counts,omitempty"`
	Probability  map[string]float64 `json:"probability,omitempty"`
}

// DecisionTree is a CART-style classifier using Gini impurity.
type DecisionTree struct {
	Root            *TreeNode `json:"root"`
	MaxDepth        int       `json:"max_depth"`
	MinSamplesSplit int       `json:"min_samples_split"`
	MinSamplesLeaf  int       `json:"min_samples_leaf"`
	Classes         []string  `json:"classes"`
	NumFeatures     int       `json:"num_features"`

	// importances accumulates weighted impurity decrease per feature
	// during fitting; exported normalized via FeatureImportances.
	importances []float64
	totalWeight float64
}

// NewDecisionTree returns a tree with the given depth limit. Zero or
// negative maxDepth means depth 8.
func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &DecisionTree{
		MaxDepth:        maxDepth,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// Fit trains the tree on X (rows of features) and y (class labels).
func (t *DecisionTree) Fit(X [][]float64, y []string) error {
	if len(X) == 0 {
		return fmt.Errorf("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("X and y must have same length, got %d and %d", len(X), len(y))
	}

	t.NumFeatures = len(X[0])
	t.Classes = uniqueClasses(y)
	t.importances = make([]float64, t.NumFeatures)
	t.totalWeight = float64(len(y))

	indices := make([]int, len(X))
	for i := range indices {
		indices[i] = i
	}
	t.Root = t.build(X, y, indices, 0, nil)
	return nil
}

// build grows the tree over the sample subset in indices.
// featureSubset restricts the features considered at each split; nil means
// all features (the forest passes per-tree subsets).
func (t *DecisionTree) build(X [][]float64, y []string, indices []int, depth int, featureSubset []int) *TreeNode {
	counts := classCounts(y, indices)

	if depth >= t.MaxDepth || len(indices) < t.MinSamplesSplit || len(counts) == 1 {
		return leafNode(counts, len(indices))
	}

	feature, threshold, gain := t.bestSplit(X, y, indices, featureSubset)
	if gain <= 0 {
		return leafNode(counts, len(indices))
	}

	var left, right []int
	for _, i := range indices {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < t.MinSamplesLeaf || len(right) < t.MinSamplesLeaf {
		return leafNode(counts, len(indices))
	}

	t.importances[feature] += gain * float64(len(indices)) / t.totalWeight

	return &TreeNode{
		FeatureIndex: feature,
		Threshold:    threshold,
		Left:         t.build(X, y, left, depth+1, featureSubset),
		Right:        t.build(X, y, right, depth+1, featureSubset),
	}
}

// bestSplit scans candidate thresholds (midpoints between distinct sorted
// values) for the split with the highest Gini gain.
func (t *DecisionTree) bestSplit(X [][]float64, y []string, indices []int, featureSubset []int) (int, float64, float64) {
	parentGini := gini(classCounts(y, indices), len(indices))

	features := featureSubset
	if features == nil {
		features = make([]int, t.NumFeatures)
		for i := range features {
			features[i] = i
		}
	}

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	for _, f := range features {
		values := make([]float64, 0, len(indices))
		for _, i := range indices {
			values = append(values, X[i][f])
		}
		sort.Float64s(values)

		for vi := 1; vi < len(values); vi++ {
			if values[vi] == values[vi-1] {
				continue
			}
			threshold := (values[vi] + values[vi-1]) / 2

			leftCounts := make(map[string]int)
			rightCounts := make(map[string]int)
			leftN, rightN := 0, 0
			for _, i := range indices {
				if X[i][f] <= threshold {
					leftCounts[y[i]]++
					leftN++
				} else {
					rightCounts[y[i]]++
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}

			n := float64(len(indices))
			weighted := float64(leftN)/n*gini(leftCounts, leftN) + float64(rightN)/n*gini(rightCounts, rightN)
			gain := parentGini - weighted
			if gain > bestGain {
				bestFeature, bestThreshold, bestGain = f, threshold, gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

// Predict returns the predicted class and its probability for one row.
func (t *DecisionTree) Predict(x []float64) (string, float64, error) {
	if t.Root == nil {
		return "", 0, fmt.Errorf("tree not fitted")
	}
	if len(x) != t.NumFeatures {
		return "", 0, fmt.Errorf("expected %d features, got %d", t.NumFeatures, len(x))
	}

	node := t.Root
	for !node.IsLeaf {
		if x[node.FeatureIndex] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Prediction, node.Probability[node.Prediction], nil
}

// PredictProba returns the class probability distribution for one row.
func (t *DecisionTree) PredictProba(x []float64) (map[string]float64, error) {
	if t.Root == nil {
		return nil, fmt.Errorf("tree not fitted")
	}
	node := t.Root
	for !node.IsLeaf {
		if x[node.FeatureIndex] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Probability, nil
}

// FeatureImportances returns normalized impurity-decrease importances.
func (t *DecisionTree) FeatureImportances() []float64 {
	out := make([]float64, len(t.importances))
	total := 0.0
	for _, v := range t.importances {
		total += v
	}
	if total == 0 {
		return out
	}
	for i, v := range t.importances {
		out[i] = v / total
	}
	return out
}

func leafNode(counts map[string]int, n int) *TreeNode {
	prediction := ""
	best := -1
	// Iterate classes in sorted order so ties break deterministically.
	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	proba := make(map[string]float64, len(counts))
	for _, c := range classes {
		proba[c] = float64(counts[c]) / float64(n)
		if counts[c] > best {
			best = counts[c]
			prediction = c
		}
	}
	return &TreeNode{
		IsLeaf:      true,
		Prediction:  prediction,
		ClassCounts: counts,
		Probability: proba,
	}
}

func classCounts(y []string, indices []int) map[string]int {
	counts := make(map[string]int)
	for _, i := range indices {
		counts[y[i]]++
	}
	return counts
}

func gini(counts map[string]int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		impurity -= p * p
	}
	return impurity
}

func uniqueClasses(y []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range y {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
