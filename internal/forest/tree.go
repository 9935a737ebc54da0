package forest

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one decision node in a flattened tree. Leaf nodes carry the
// weighted fraud-class probability; internal nodes route on
// x[Feature] <= Threshold.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Leaf      bool
	Prob      float64
}

// Tree is a single CART tree stored as a node slice (index 0 is the root).
// The flat layout keeps gob encoding simple and round-trip exact.
type Tree struct {
	Nodes []Node
}

// predict walks the tree and returns the leaf fraud probability.
func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeBuilder grows one tree on a bootstrap sample.
type treeBuilder struct {
	x       [][]float64
	y       []int
	weights []float64 // per-sample class weights

	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int

	rng   *rand.Rand
	nodes []Node

	// impurity decrease accumulated per feature, for importances
	importance []float64
}

func (b *treeBuilder) build(idx []int) *Tree {
	b.nodes = b.nodes[:0]
	b.grow(idx, 0)
	nodes := make([]Node, len(b.nodes))
	copy(nodes, b.nodes)
	return &Tree{Nodes: nodes}
}

// grow recursively partitions idx and returns the node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	wTotal, wFraud := b.weightSums(idx)
	prob := 0.0
	if wTotal > 0 {
		prob = wFraud / wTotal
	}

	if depth >= b.maxDepth || len(idx) < b.minSamplesSplit || prob == 0 || prob == 1 {
		b.nodes[nodeIdx] = Node{Leaf: true, Prob: prob}
		return nodeIdx
	}

	feature, threshold, gain, ok := b.bestSplit(idx, wTotal, prob)
	if !ok {
		b.nodes[nodeIdx] = Node{Leaf: true, Prob: prob}
		return nodeIdx
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minSamplesLeaf || len(right) < b.minSamplesLeaf {
		b.nodes[nodeIdx] = Node{Leaf: true, Prob: prob}
		return nodeIdx
	}

	b.importance[feature] += gain * wTotal

	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)
	b.nodes[nodeIdx] = Node{Feature: feature, Threshold: threshold, Left: leftIdx, Right: rightIdx}
	return nodeIdx
}

func (b *treeBuilder) weightSums(idx []int) (total, fraud float64) {
	for _, i := range idx {
		total += b.weights[i]
		if b.y[i] == 1 {
			fraud += b.weights[i]
		}
	}
	return total, fraud
}

// bestSplit scans a random feature subset for the weighted-gini-optimal
// threshold. Candidate thresholds are midpoints between distinct sorted
// values.
func (b *treeBuilder) bestSplit(idx []int, wTotal, parentProb float64) (feature int, threshold, gain float64, ok bool) {
	parentGini := gini(parentProb)

	nFeatures := len(b.x[0])
	perm := b.rng.Perm(nFeatures)
	candidates := perm[:b.maxFeatures]

	type pair struct{ v, w, fraud float64 }
	bestGain := 0.0

	for _, f := range candidates {
		pairs := make([]pair, 0, len(idx))
		for _, i := range idx {
			fw := 0.0
			if b.y[i] == 1 {
				fw = b.weights[i]
			}
			pairs = append(pairs, pair{v: b.x[i][f], w: b.weights[i], fraud: fw})
		}
		sort.Slice(pairs, func(a, c int) bool { return pairs[a].v < pairs[c].v })

		var leftW, leftF float64
		totalW, totalF := wTotal, 0.0
		for _, p := range pairs {
			totalF += p.fraud
		}

		for i := 0; i < len(pairs)-1; i++ {
			leftW += pairs[i].w
			leftF += pairs[i].fraud
			if pairs[i].v == pairs[i+1].v {
				continue
			}
			rightW := totalW - leftW
			rightF := totalF - leftF
			if leftW <= 0 || rightW <= 0 {
				continue
			}
			g := parentGini -
				(leftW/totalW)*gini(leftF/leftW) -
				(rightW/totalW)*gini(rightF/rightW)
			if g > bestGain {
				bestGain = g
				feature = f
				threshold = (pairs[i].v + pairs[i+1].v) / 2
			}
		}
	}

	if bestGain <= 1e-12 {
		return 0, 0, 0, false
	}
	return feature, threshold, bestGain, true
}

// gini returns the binary Gini impurity for a fraud fraction.
func gini(p float64) float64 {
	return 2 * p * (1 - p)
}

// bootstrap draws n indices with replacement.
func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// sqrtFeatures is the per-split feature subsample size.
func sqrtFeatures(d int) int {
	k := int(math.Sqrt(float64(d)))
	if k < 1 {
		k = 1
	}
	return k
}
