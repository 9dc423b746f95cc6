package ml

import (
	"math"
	"sort"
	"testing"
)

func TestGini(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   float64
	}{
		{name: "empty", labels: nil, want: 0},
		{name: "pure", labels: []string{"Low", "Low", "Low"}, want: 0},
		{name: "balanced two classes", labels: []string{"High", "Low"}, want: 0.5},
		{name: "skewed", labels: []string{"High", "Low", "Low", "Low"}, want: 0.375},
		{name: "three classes", labels: []string{"a", "b", "c"}, want: 1 - 1.0/3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Gini(tt.labels); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Gini() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGiniBounds(t *testing.T) {
	ds := rolesDataset(t)
	subsets := [][]int{{0}, {0, 3}, {0, 1, 2, 3}, {3, 4, 5}, ds.AllRows()}
	for _, rows := range subsets {
		k := len(ClassCounts(&Dataset{Targets: targetsOf(ds, rows)}))
		g := GiniImpurity(ds, rows)
		if g < 0 || g > 1-1/float64(k)+1e-12 {
			t.Fatalf("gini %f out of bounds for %d classes (rows %v)", g, k, rows)
		}
	}
}

func targetsOf(ds *Dataset, rows []int) []string {
	labels := make([]string, len(rows))
	for i, row := range rows {
		labels[i] = ds.Targets[row]
	}
	return labels
}

func TestAllSameClass(t *testing.T) {
	ds := rolesDataset(t)
	if !AllSameClass(ds, nil) {
		t.Fatal("expected empty subset to be pure")
	}
	if !AllSameClass(ds, []int{0, 1, 2, 6}) {
		t.Fatal("expected High rows to be pure")
	}
	if AllSameClass(ds, []int{0, 3}) {
		t.Fatal("expected mixed rows to be impure")
	}
}

func TestMajorityClassTieBreak(t *testing.T) {
	ds := rolesDataset(t)
	if got := MajorityClass(ds, []int{3, 0}); got != "Low" {
		t.Fatalf("expected first-seen Low to win the tie, got %s", got)
	}
	if got := MajorityClass(ds, []int{0, 3}); got != "High" {
		t.Fatalf("expected first-seen High to win the tie, got %s", got)
	}
	if got := MajorityClass(ds, []int{0, 3, 4}); got != "Low" {
		t.Fatalf("expected Low, got %s", got)
	}
}

func TestFindBestSplitEmpty(t *testing.T) {
	ds := rolesDataset(t)
	if _, ok := FindBestSplit(ds, nil); ok {
		t.Fatal("expected no split for empty subset")
	}
	if _, ok := FindBestSplit(ds, []int{0}); ok {
		t.Fatal("expected no split for a single row")
	}
}

func TestFindBestSplitValidity(t *testing.T) {
	ds := rolesDataset(t)
	rows := []int{0, 2, 3, 4, 5, 7}
	split, ok := FindBestSplit(ds, rows)
	if !ok {
		t.Fatal("expected a split")
	}
	if len(split.Left) == 0 || len(split.Right) == 0 {
		t.Fatal("expected both sides non-empty")
	}

	union := append(append([]int(nil), split.Left...), split.Right...)
	sort.Ints(union)
	want := append([]int(nil), rows...)
	sort.Ints(want)
	if len(union) != len(want) {
		t.Fatalf("union %v does not cover %v", union, want)
	}
	for i := range union {
		if union[i] != want[i] {
			t.Fatalf("union %v does not match %v", union, want)
		}
	}
	for _, row := range split.Left {
		if ds.Features[row][split.Feature] != split.Threshold {
			t.Fatalf("left row %d does not match threshold", row)
		}
	}
	for _, row := range split.Right {
		if ds.Features[row][split.Feature] == split.Threshold {
			t.Fatalf("right row %d matches threshold", row)
		}
	}
}

func TestFindBestSplitOptimal(t *testing.T) {
	ds := rolesDataset(t)
	rows := ds.AllRows()
	split, ok := FindBestSplit(ds, rows)
	if !ok {
		t.Fatal("expected a split")
	}
	n := float64(len(rows))
	for f := 0; f < ds.NumFeatures(); f++ {
		for _, v := range distinctValues(ds, rows, f) {
			left, right := partition(ds, rows, f, v)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			weighted := float64(len(left))/n*GiniImpurity(ds, left) + float64(len(right))/n*GiniImpurity(ds, right)
			if split.Impurity > weighted+1e-12 {
				t.Fatalf("split (%d,%q)=%f beaten by (%d,%q)=%f", split.Feature, split.Threshold, split.Impurity, f, v, weighted)
			}
		}
	}
	if split.Feature != 2 || split.Threshold != "LCK" {
		t.Fatalf("expected first perfect split on feature 2 == LCK, got %d %q", split.Feature, split.Threshold)
	}
}

func TestNewDatasetValidation(t *testing.T) {
	if _, err := NewDataset(nil, nil, nil); err != ErrEmptyDataset {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	_, err := NewDataset([]string{"a", "b"}, [][]string{{"x", "y"}, {"x"}}, []string{"High"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	ds, err := NewDataset([]string{"Pos"}, [][]string{{"Top"}}, []string{"High"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.NumSamples() != 1 || ds.NumFeatures() != 1 {
		t.Fatalf("unexpected shape %d x %d", ds.NumSamples(), ds.NumFeatures())
	}
	if ds.FeatureName(0) != "Pos" || ds.FeatureName(3) != "feature[3]" {
		t.Fatalf("unexpected feature names")
	}
}

func TestSplitIndices(t *testing.T) {
	train, test := SplitIndices(10, 0.7, 42)
	if len(train) != 7 || len(test) != 3 {
		t.Fatalf("expected 7/3 split, got %d/%d", len(train), len(test))
	}
	seen := make(map[int]bool)
	for _, idx := range append(append([]int(nil), train...), test...) {
		if seen[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	again, _ := SplitIndices(10, 0.7, 42)
	for i := range train {
		if train[i] != again[i] {
			t.Fatal("expected identical split for identical seed")
		}
	}
	if train, _ := SplitIndices(10, 2, 1); len(train) != 7 {
		t.Fatalf("expected default ratio, got %d train rows", len(train))
	}
}
