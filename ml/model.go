package ml

// Classifier predicts a single label for a feature vector.
type Classifier interface {
	Predict(features []string) (string, error)
}

// Model is a Classifier that can be trained on a row subset.
type Model interface {
	Classifier
	Train(ds *Dataset, rows []int) error
}

var _ Model = (*DecisionTree)(nil)
