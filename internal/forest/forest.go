// Package forest implements the seeded random-forest fraud classifier and
// its serialized artifact.
package forest

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

var (
	// ErrNotFitted is returned when prediction is attempted on an empty model.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrSchemaMismatch is returned when a feature row does not match the
	// schema the model was trained on.
	ErrSchemaMismatch = errors.New("feature vector does not match model schema")
)

// Config tunes training. Zero values fall back to the defaults the service
// ships with.
type Config struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            int64
	CVFolds         int
	HoldoutFraction float64
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = 200
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 15
	}
	if c.MinSamplesSplit <= 0 {
		c.MinSamplesSplit = 5
	}
	if c.MinSamplesLeaf <= 0 {
		c.MinSamplesLeaf = 2
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.CVFolds <= 0 {
		c.CVFolds = 5
	}
	if c.HoldoutFraction <= 0 {
		c.HoldoutFraction = 0.2
	}
	return c
}

// Model is the opaque trained artifact. It is immutable after training and
// safe for concurrent use; retraining produces a fresh Model that replaces
// the old one wholesale.
type Model struct {
	Trees        []*Tree
	FeatureNames []string
	Stats        domain.PopulationStats
	Threshold    float64
	Seed         int64
	TrainedAt    time.Time
	Version      string
	Evaluation   *Evaluation
}

// Train fits the forest on engineered feature rows and binary labels.
// The fraud class is upweighted by balanced class weights, training is fully
// reproducible for a given seed, and the returned evaluation summarizes a
// held-out split plus stratified k-fold cross-validation.
//
// stats are the training-population statistics; they travel inside the
// artifact so inference-time feature engineering can reuse them.
func Train(cfg Config, x [][]float64, y []int, stats domain.PopulationStats) (*Model, error) {
	cfg = cfg.withDefaults()

	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("training set is empty or misaligned: %d rows, %d labels", len(x), len(y))
	}
	width := len(x[0])
	if width != len(domain.FeatureNames) {
		return nil, fmt.Errorf("%w: got %d columns, schema has %d", ErrSchemaMismatch, width, len(domain.FeatureNames))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	trainIdx, testIdx := stratifiedSplit(rng, y, cfg.HoldoutFraction)

	trees, importance := fitTrees(cfg, gatherRows(x, trainIdx), gatherLabels(y, trainIdx), rng.Int63())

	m := &Model{
		Trees:        trees,
		FeatureNames: append([]string(nil), domain.FeatureNames...),
		Stats:        stats,
		Threshold:    0.5,
		Seed:         cfg.Seed,
		TrainedAt:    time.Now().UTC(),
		Version:      "kestrel-forest-1",
	}

	m.Evaluation = evaluate(cfg, m, x, y, testIdx, importance)
	return m, nil
}

// fitTrees grows the ensemble sequentially with a per-tree derived seed so
// results do not depend on scheduling.
func fitTrees(cfg Config, x [][]float64, y []int, seed int64) ([]*Tree, []float64) {
	weights := balancedWeights(y)
	width := len(x[0])
	importance := make([]float64, width)

	seedRng := rand.New(rand.NewSource(seed))
	trees := make([]*Tree, cfg.Trees)
	for t := 0; t < cfg.Trees; t++ {
		b := &treeBuilder{
			x:               x,
			y:               y,
			weights:         weights,
			maxDepth:        cfg.MaxDepth,
			minSamplesSplit: cfg.MinSamplesSplit,
			minSamplesLeaf:  cfg.MinSamplesLeaf,
			maxFeatures:     sqrtFeatures(width),
			rng:             rand.New(rand.NewSource(seedRng.Int63())),
			importance:      make([]float64, width),
		}
		trees[t] = b.build(bootstrap(b.rng, len(x)))
		for i, v := range b.importance {
			importance[i] += v
		}
	}

	var total float64
	for _, v := range importance {
		total += v
	}
	if total > 0 {
		for i := range importance {
			importance[i] /= total
		}
	}
	return trees, importance
}

// balancedWeights upweights the minority class: w_c = n / (2 * n_c).
func balancedWeights(y []int) []float64 {
	var nFraud, nLegit float64
	for _, label := range y {
		if label == 1 {
			nFraud++
		} else {
			nLegit++
		}
	}
	n := nFraud + nLegit
	wFraud, wLegit := 1.0, 1.0
	if nFraud > 0 {
		wFraud = n / (2 * nFraud)
	}
	if nLegit > 0 {
		wLegit = n / (2 * nLegit)
	}

	weights := make([]float64, len(y))
	for i, label := range y {
		if label == 1 {
			weights[i] = wFraud
		} else {
			weights[i] = wLegit
		}
	}
	return weights
}

// PredictProba returns the fraud probability in [0,1] for each row: the mean
// of the per-tree leaf probabilities.
func (m *Model) PredictProba(x [][]float64) ([]float64, error) {
	if m == nil || len(m.Trees) == 0 {
		return nil, ErrNotFitted
	}
	probs := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.FeatureNames) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrSchemaMismatch, i, len(row), len(m.FeatureNames))
		}
		var sum float64
		for _, t := range m.Trees {
			sum += t.predict(row)
		}
		probs[i] = sum / float64(len(m.Trees))
	}
	return probs, nil
}

// Predict thresholds PredictProba at the model's decision boundary.
func (m *Model) Predict(x [][]float64) ([]int, error) {
	probs, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	preds := make([]int, len(probs))
	for i, p := range probs {
		if p >= m.Threshold {
			preds[i] = 1
		}
	}
	return preds, nil
}

// stratifiedSplit shuffles within each class and carves off the holdout.
func stratifiedSplit(rng *rand.Rand, y []int, holdout float64) (train, test []int) {
	var fraud, legit []int
	for i, label := range y {
		if label == 1 {
			fraud = append(fraud, i)
		} else {
			legit = append(legit, i)
		}
	}
	rng.Shuffle(len(fraud), func(i, j int) { fraud[i], fraud[j] = fraud[j], fraud[i] })
	rng.Shuffle(len(legit), func(i, j int) { legit[i], legit[j] = legit[j], legit[i] })

	cut := func(idx []int) (tr, te []int) {
		k := int(float64(len(idx)) * holdout)
		return idx[k:], idx[:k]
	}
	fTr, fTe := cut(fraud)
	lTr, lTe := cut(legit)
	return append(fTr, lTr...), append(fTe, lTe...)
}

func gatherRows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func gatherLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
