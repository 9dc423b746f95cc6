package ml

import (
	"errors"
	"fmt"
	"sync"
)

// BuildTree grows a tree over rows of ds. depth is the depth of the node
// being built; the root is built at depth 0. ds must not change during the
// call and rows are assumed valid (see Dataset.CheckRows).
func BuildTree(ds *Dataset, rows []int, depth, maxDepth int) Node {
	b := Builder{MaxDepth: maxDepth}
	return b.build(ds, rows, depth)
}

// Builder grows trees. Subtrees rooted above ParallelDepth build their left
// branch on a separate goroutine; zero means fully sequential.
type Builder struct {
	MaxDepth      int
	ParallelDepth int
}

func (b Builder) Build(ds *Dataset, rows []int) Node {
	return b.build(ds, rows, 0)
}

func (b Builder) build(ds *Dataset, rows []int, depth int) Node {
	if len(rows) == 0 {
		return &Leaf{Prediction: UnknownLabel}
	}
	if AllSameClass(ds, rows) {
		return &Leaf{Prediction: ds.Targets[rows[0]]}
	}
	if depth >= b.MaxDepth {
		return &Leaf{Prediction: MajorityClass(ds, rows)}
	}

	split, ok := FindBestSplit(ds, rows)
	if !ok {
		return &Leaf{Prediction: MajorityClass(ds, rows)}
	}

	var left, right Node
	if depth < b.ParallelDepth {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			left = b.build(ds, split.Left, depth+1)
		}()
		right = b.build(ds, split.Right, depth+1)
		wg.Wait()
	} else {
		left = b.build(ds, split.Left, depth+1)
		right = b.build(ds, split.Right, depth+1)
	}

	return &Internal{
		Feature:   split.Feature,
		Threshold: split.Threshold,
		Left:      left,
		Right:     right,
	}
}

// DecisionTree is a trained categorical classifier.
type DecisionTree struct {
	MaxDepth      int
	ParallelDepth int

	root Node
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	return &DecisionTree{MaxDepth: maxDepth}
}

// Train validates ds and rows, then builds the tree over rows.
func (dt *DecisionTree) Train(ds *Dataset, rows []int) error {
	if dt.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", dt.MaxDepth)
	}
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("invalid dataset: %w", err)
	}
	if err := ds.CheckRows(rows); err != nil {
		return fmt.Errorf("invalid training rows: %w", err)
	}

	b := Builder{MaxDepth: dt.MaxDepth, ParallelDepth: dt.ParallelDepth}
	dt.root = b.Build(ds, rows)
	return nil
}

func (dt *DecisionTree) Predict(features []string) (string, error) {
	if dt.root == nil {
		return "", errors.New("model not trained")
	}
	return Predict(dt.root, features)
}

func (dt *DecisionTree) Root() Node {
	return dt.root
}
