package ml

import (
	"math/rand"
)

const DefaultTrainRatio = 0.7

// SplitIndices shuffles 0..n-1 with seed and cuts it into a training and a
// test subset. The training side gets int(trainRatio*n) rows.
func SplitIndices(n int, trainRatio float64, seed int64) (train, test []int) {
	if trainRatio <= 0 || trainRatio >= 1 {
		trainRatio = DefaultTrainRatio
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	cut := int(trainRatio * float64(n))
	return indices[:cut], indices[cut:]
}

type Evaluation struct {
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

// Evaluate compares model predictions against ds targets on rows.
func Evaluate(model Classifier, ds *Dataset, rows []int) (Evaluation, error) {
	eval := Evaluation{Total: len(rows)}
	for _, row := range rows {
		label, err := model.Predict(ds.Features[row])
		if err != nil {
			return Evaluation{}, err
		}
		if label == ds.Targets[row] {
			eval.Correct++
		}
	}
	if eval.Total > 0 {
		eval.Accuracy = float64(eval.Correct) / float64(eval.Total)
	}
	return eval, nil
}

func ClassCounts(ds *Dataset) map[string]int {
	counts := make(map[string]int)
	for _, label := range ds.Targets {
		counts[label]++
	}
	return counts
}
