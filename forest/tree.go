package forest

import (
	"math/rand"
	"sort"
)

// A Node represents a splitting decision of the form "x[FeatureIndex] < Threshold ?"
type Node struct {
	// FeatureIndex indicates which feature is used in this splitting decision
	FeatureIndex int `json:"feature_index"`
	// Threshold indicates the cutoff value between the left and right subtrees
	Threshold float64 `json:"threshold"`
	// LeftChild is the index of the node (or output) representing the left subtree
	LeftChild int `json:"left_child"`
	// LeftIsLeaf indicates whether LeftChild indexes Outputs rather than Nodes
	LeftIsLeaf bool `json:"left_is_leaf"`
	// RightChild is the index of the node (or output) representing the right subtree
	RightChild int `json:"right_child"`
	// RightIsLeaf indicates whether RightChild indexes Outputs rather than Nodes
	RightIsLeaf bool `json:"right_is_leaf"`
}

// A DecisionTree maps a feature vector to a class distribution. A tree with no
// nodes is a single leaf holding Outputs[0].
type DecisionTree struct {
	// Nodes is a flat list of all internal nodes; Nodes[0] is the root
	Nodes []Node `json:"nodes"`
	// Outputs holds the class distribution of each leaf
	Outputs [][]float64 `json:"outputs"`
	// FeatureSize is the length of feature vectors processed by this tree
	FeatureSize int `json:"feature_size"`
	// Depth is the maximum depth of any leaf in the tree
	Depth int `json:"depth"`
}

// Bin drops a feature vector down the tree and returns the index of the leaf it ends up in
func (t *DecisionTree) Bin(x []float64) int {
	if len(x) != t.FeatureSize {
		panic("feature vector had incorrect length")
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	cur := t.Nodes[0]
	for i := 0; i <= t.Depth; i++ {
		if x[cur.FeatureIndex] < cur.Threshold {
			if cur.LeftIsLeaf {
				return cur.LeftChild
			}
			cur = t.Nodes[cur.LeftChild]
		} else {
			if cur.RightIsLeaf {
				return cur.RightChild
			}
			cur = t.Nodes[cur.RightChild]
		}
	}
	panic("tree traversal did not terminate")
}

// Evaluate returns the class distribution of the leaf x falls into
func (t *DecisionTree) Evaluate(x []float64) []float64 {
	return t.Outputs[t.Bin(x)]
}

// treeBuilder grows one CART tree on a (possibly bootstrapped) sample using
// gini impurity and a random feature subset at every split.
type treeBuilder struct {
	X          [][]float64
	y          []int
	numClasses int
	cfg        Config
	maxFeat    int
	rng        *rand.Rand
	tree       *DecisionTree
}

func (b *treeBuilder) build(idx []int, depth int) (int, bool) {
	if depth > b.tree.Depth {
		b.tree.Depth = depth
	}

	counts := make([]float64, b.numClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}

	if b.isTerminal(idx, counts, depth) {
		return b.leaf(counts, len(idx)), true
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return b.leaf(counts, len(idx)), true
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	nodeIdx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{FeatureIndex: feature, Threshold: threshold})

	l, lLeaf := b.build(left, depth+1)
	r, rLeaf := b.build(right, depth+1)

	node := &b.tree.Nodes[nodeIdx]
	node.LeftChild, node.LeftIsLeaf = l, lLeaf
	node.RightChild, node.RightIsLeaf = r, rLeaf
	return nodeIdx, false
}

func (b *treeBuilder) isTerminal(idx []int, counts []float64, depth int) bool {
	if len(idx) < b.cfg.MinSamplesSplit || len(idx) < 2*b.cfg.MinSamplesLeaf {
		return true
	}
	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth {
		return true
	}
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func (b *treeBuilder) leaf(counts []float64, n int) int {
	probs := make([]float64, len(counts))
	for c, v := range counts {
		probs[c] = v / float64(n)
	}
	b.tree.Outputs = append(b.tree.Outputs, probs)
	return len(b.tree.Outputs) - 1
}

// bestSplit scans features in random order. At least maxFeat features are
// examined, and scanning continues past that only until a valid split exists.
func (b *treeBuilder) bestSplit(idx []int, parent []float64) (int, float64, bool) {
	n := float64(len(idx))
	parentScore := 0.0
	for _, c := range parent {
		parentScore += c * c
	}
	parentScore /= n

	bestScore := parentScore + 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	left := make([]float64, b.numClasses)
	right := make([]float64, b.numClasses)

	for visited, f := range b.rng.Perm(b.tree.FeatureSize) {
		if visited >= b.maxFeat && found {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		for c := range left {
			left[c] = 0
			right[c] = parent[c]
		}
		sqL, sqR := 0.0, parentScore*n

		for pos := 0; pos < len(sorted)-1; pos++ {
			c := b.y[sorted[pos]]
			sqL += 2*left[c] + 1
			left[c]++
			sqR -= 2*right[c] - 1
			right[c]--

			nl := float64(pos + 1)
			nr := n - nl
			if int(nl) < b.cfg.MinSamplesLeaf || int(nr) < b.cfg.MinSamplesLeaf {
				continue
			}
			v, next := b.X[sorted[pos]][f], b.X[sorted[pos+1]][f]
			if v == next {
				continue
			}

			score := sqL/nl + sqR/nr
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = (v + next) / 2
				if bestThreshold <= v {
					bestThreshold = next
				}
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}
