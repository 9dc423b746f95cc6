package ml

import (
	"fmt"
	"strings"
)

// UnknownLabel is predicted when no data reaches a node.
const UnknownLabel = "UNKNOWN"

// Node is either a *Leaf or an *Internal.
type Node interface {
	isNode()
}

type Leaf struct {
	Prediction string `json:"prediction"`
}

// Internal routes a feature vector to Left when
// features[Feature] == Threshold and to Right otherwise.
type Internal struct {
	Feature   int    `json:"feature"`
	Threshold string `json:"threshold"`
	Left      Node   `json:"left"`
	Right     Node   `json:"right"`
}

func (*Leaf) isNode()     {}
func (*Internal) isNode() {}

// Predict walks node with features and returns the reached leaf's label.
// A feature vector too short for a visited split is a schema mismatch.
func Predict(node Node, features []string) (string, error) {
	for {
		switch n := node.(type) {
		case *Leaf:
			if n == nil {
				return UnknownLabel, nil
			}
			return n.Prediction, nil
		case *Internal:
			if n == nil {
				return UnknownLabel, nil
			}
			if n.Feature < 0 || n.Feature >= len(features) {
				return "", fmt.Errorf("%w: split on feature %d, vector has %d values", ErrSchemaMismatch, n.Feature, len(features))
			}
			if features[n.Feature] == n.Threshold {
				node = n.Left
			} else {
				node = n.Right
			}
			if node == nil {
				return UnknownLabel, nil
			}
		default:
			return UnknownLabel, nil
		}
	}
}

// Depth is the length of the longest root-to-leaf path; a lone leaf has depth 0.
func Depth(node Node) int {
	n, ok := node.(*Internal)
	if !ok || n == nil {
		return 0
	}
	return 1 + max(Depth(n.Left), Depth(n.Right))
}

func LeafCount(node Node) int {
	switch n := node.(type) {
	case *Leaf:
		if n != nil {
			return 1
		}
	case *Internal:
		if n != nil {
			return LeafCount(n.Left) + LeafCount(n.Right)
		}
	}
	return 0
}

// Describe renders the tree as indented text. Column names come from headers
// when available.
func Describe(node Node, headers []string) string {
	var sb strings.Builder
	describe(&sb, node, headers, 0)
	return sb.String()
}

func describe(sb *strings.Builder, node Node, headers []string, indent int) {
	pad := strings.Repeat("  ", indent)
	switch n := node.(type) {
	case *Leaf:
		if n == nil {
			fmt.Fprintf(sb, "%s-> %s\n", pad, UnknownLabel)
			return
		}
		fmt.Fprintf(sb, "%s-> %s\n", pad, n.Prediction)
	case *Internal:
		if n == nil {
			fmt.Fprintf(sb, "%s-> %s\n", pad, UnknownLabel)
			return
		}
		name := fmt.Sprintf("feature[%d]", n.Feature)
		if n.Feature < len(headers) {
			name = headers[n.Feature]
		}
		fmt.Fprintf(sb, "%s%s == %q\n", pad, name, n.Threshold)
		describe(sb, n.Left, headers, indent+1)
		fmt.Fprintf(sb, "%s%s != %q\n", pad, name, n.Threshold)
		describe(sb, n.Right, headers, indent+1)
	default:
		fmt.Fprintf(sb, "%s-> %s\n", pad, UnknownLabel)
	}
}
