package forest

import (
	"math"
	"math/rand"
	"sort"
)

// ClassMetrics holds precision/recall/F1 for one class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// FeatureImportance ranks one feature's contribution to impurity decrease.
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Evaluation is the training-time quality summary returned with each model.
type Evaluation struct {
	Samples      int `json:"samples"`
	FraudSamples int `json:"fraudSamples"`

	Legit ClassMetrics `json:"legit"`
	Fraud ClassMetrics `json:"fraud"`

	Accuracy float64 `json:"accuracy"`
	ROCAUC   float64 `json:"rocAuc"`
	F1       float64 `json:"f1"`

	CVAUCMean   float64 `json:"cvAucMean"`
	CVAUCStddev float64 `json:"cvAucStddev"`

	// Importances sorted descending.
	Importances []FeatureImportance `json:"importances"`
}

// evaluate scores the model on the held-out split and runs stratified k-fold
// cross-validation over the full set.
func evaluate(cfg Config, m *Model, x [][]float64, y []int, testIdx []int, importance []float64) *Evaluation {
	ev := &Evaluation{Samples: len(y)}
	for _, label := range y {
		if label == 1 {
			ev.FraudSamples++
		}
	}

	xTest := gatherRows(x, testIdx)
	yTest := gatherLabels(y, testIdx)

	if len(xTest) > 0 {
		probs, _ := m.PredictProba(xTest)
		preds, _ := m.Predict(xTest)

		ev.Fraud = classMetrics(yTest, preds, 1)
		ev.Legit = classMetrics(yTest, preds, 0)
		ev.F1 = ev.Fraud.F1
		ev.ROCAUC = rocAUC(yTest, probs)

		correct := 0
		for i := range preds {
			if preds[i] == yTest[i] {
				correct++
			}
		}
		ev.Accuracy = float64(correct) / float64(len(preds))
	}

	ev.CVAUCMean, ev.CVAUCStddev = crossValidateAUC(cfg, x, y)

	ev.Importances = make([]FeatureImportance, len(importance))
	for i, v := range importance {
		ev.Importances[i] = FeatureImportance{Name: m.FeatureNames[i], Importance: v}
	}
	sort.SliceStable(ev.Importances, func(i, j int) bool {
		return ev.Importances[i].Importance > ev.Importances[j].Importance
	})

	return ev
}

func classMetrics(y, pred []int, class int) ClassMetrics {
	var tp, fp, fn, support int
	for i := range y {
		if y[i] == class {
			support++
		}
		switch {
		case pred[i] == class && y[i] == class:
			tp++
		case pred[i] == class && y[i] != class:
			fp++
		case pred[i] != class && y[i] == class:
			fn++
		}
	}
	cm := ClassMetrics{Support: support}
	if tp+fp > 0 {
		cm.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		cm.Recall = float64(tp) / float64(tp+fn)
	}
	if cm.Precision+cm.Recall > 0 {
		cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
	}
	return cm
}

// rocAUC computes the area under the ROC curve via the rank statistic, with
// midranks for tied scores.
func rocAUC(y []int, scores []float64) float64 {
	n := len(y)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] < scores[order[j]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[order[j]] == scores[order[i]] {
			j++
		}
		// midrank for the tie group [i, j)
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	var nPos, nNeg, rankSum float64
	for i, label := range y {
		if label == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// crossValidateAUC runs stratified k-fold CV, retraining a forest per fold.
func crossValidateAUC(cfg Config, x [][]float64, y []int) (mean, stddev float64) {
	folds := stratifiedFolds(rand.New(rand.NewSource(cfg.Seed)), y, cfg.CVFolds)

	var aucs []float64
	for f := 0; f < cfg.CVFolds; f++ {
		var trainIdx, testIdx []int
		for i, fold := range folds {
			if fold == f {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		if len(testIdx) == 0 || len(trainIdx) == 0 {
			continue
		}

		trees, _ := fitTrees(cfg, gatherRows(x, trainIdx), gatherLabels(y, trainIdx), cfg.Seed+int64(f)+1)
		fm := &Model{Trees: trees, FeatureNames: make([]string, len(x[0])), Threshold: 0.5}
		// FeatureNames length only gates schema checks here.
		probs, err := fm.PredictProba(gatherRows(x, testIdx))
		if err != nil {
			continue
		}
		aucs = append(aucs, rocAUC(gatherLabels(y, testIdx), probs))
	}

	if len(aucs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, a := range aucs {
		sum += a
	}
	mean = sum / float64(len(aucs))
	var ss float64
	for _, a := range aucs {
		d := a - mean
		ss += d * d
	}
	stddev = math.Sqrt(ss / float64(len(aucs)))
	return mean, stddev
}

// stratifiedFolds assigns each sample a fold, round-robin within each class
// after a seeded shuffle.
func stratifiedFolds(rng *rand.Rand, y []int, k int) []int {
	folds := make([]int, len(y))
	for _, class := range []int{0, 1} {
		var idx []int
		for i, label := range y {
			if label == class {
				idx = append(idx, i)
			}
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, j := range idx {
			folds[j] = i % k
		}
	}
	return folds
}
