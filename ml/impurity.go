package ml

// Gini returns 1 - Σ p_c² over the class proportions of labels.
// An empty slice has impurity 0.
func Gini(labels []string) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, label := range labels {
		counts[label]++
	}
	return giniFromCounts(counts, len(labels))
}

// GiniImpurity is Gini over the targets of rows.
func GiniImpurity(ds *Dataset, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, row := range rows {
		counts[ds.Targets[row]]++
	}
	return giniFromCounts(counts, len(rows))
}

func giniFromCounts(counts map[string]int, total int) float64 {
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

// AllSameClass reports whether every row shares one label. Vacuously true
// for an empty subset.
func AllSameClass(ds *Dataset, rows []int) bool {
	if len(rows) == 0 {
		return true
	}
	first := ds.Targets[rows[0]]
	for _, row := range rows[1:] {
		if ds.Targets[row] != first {
			return false
		}
	}
	return true
}

// MajorityClass returns the most frequent label in rows. Among tied labels
// the one that occurs first in rows wins. Empty rows yield "".
func MajorityClass(ds *Dataset, rows []int) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, row := range rows {
		label := ds.Targets[row]
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}
	bestLabel := ""
	bestCount := 0
	for _, label := range order {
		if counts[label] > bestCount {
			bestCount = counts[label]
			bestLabel = label
		}
	}
	return bestLabel
}
