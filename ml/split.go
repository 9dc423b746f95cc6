package ml

import "math"

// Split is an equality test on one feature column. Left holds the rows whose
// value equals Threshold, Right holds the rest.
type Split struct {
	Feature   int
	Threshold string
	Left      []int
	Right     []int
	Impurity  float64
}

// FindBestSplit searches every (feature, observed value) pair for the split
// with the lowest weighted Gini impurity. Features are scanned in column
// order and values in first-seen order; ties keep the earlier candidate.
// It returns false when rows is empty or no candidate leaves both sides
// non-empty.
func FindBestSplit(ds *Dataset, rows []int) (Split, bool) {
	if len(rows) == 0 {
		return Split{}, false
	}

	best := Split{Feature: -1, Impurity: math.Inf(1)}
	n := float64(len(rows))

	for featureIdx := 0; featureIdx < ds.NumFeatures(); featureIdx++ {
		for _, value := range distinctValues(ds, rows, featureIdx) {
			left, right := partition(ds, rows, featureIdx, value)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			weighted := (float64(len(left))/n)*GiniImpurity(ds, left) +
				(float64(len(right))/n)*GiniImpurity(ds, right)
			if weighted < best.Impurity {
				best = Split{
					Feature:   featureIdx,
					Threshold: value,
					Left:      left,
					Right:     right,
					Impurity:  weighted,
				}
			}
		}
	}

	if best.Feature == -1 {
		return Split{}, false
	}
	return best, true
}

func distinctValues(ds *Dataset, rows []int, featureIdx int) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, row := range rows {
		value := ds.Features[row][featureIdx]
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}

func partition(ds *Dataset, rows []int, featureIdx int, value string) ([]int, []int) {
	left := make([]int, 0)
	right := make([]int, 0)
	for _, row := range rows {
		if ds.Features[row][featureIdx] == value {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}
