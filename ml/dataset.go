package ml

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	ErrEmptyDataset   = errors.New("dataset is empty")
	ErrRowOutOfRange  = errors.New("row index out of range")
	ErrDuplicateRow   = errors.New("duplicate row index")
	ErrSchemaMismatch = errors.New("feature vector does not match dataset schema")
)

// Dataset is a read-only table of categorical features and string targets.
// Targets[i] is the label of Features[i].
type Dataset struct {
	Headers  []string
	Features [][]string
	Targets  []string
}

// NewDataset builds a Dataset and validates its shape. Headers may be nil.
func NewDataset(headers []string, features [][]string, targets []string) (*Dataset, error) {
	ds := &Dataset{Headers: headers, Features: features, Targets: targets}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *Dataset) NumSamples() int {
	return len(ds.Features)
}

// NumFeatures is the width of the first row; Validate guarantees every row
// has the same width.
func (ds *Dataset) NumFeatures() int {
	if len(ds.Features) == 0 {
		return len(ds.Headers)
	}
	return len(ds.Features[0])
}

// Validate reports every shape violation at once.
func (ds *Dataset) Validate() error {
	if ds == nil || len(ds.Features) == 0 {
		return ErrEmptyDataset
	}
	var err error
	if len(ds.Features) != len(ds.Targets) {
		err = multierr.Append(err, fmt.Errorf("features and targets size mismatch: %d vs %d", len(ds.Features), len(ds.Targets)))
	}
	width := len(ds.Features[0])
	if width == 0 {
		err = multierr.Append(err, errors.New("features cannot be empty"))
	}
	if ds.Headers != nil && len(ds.Headers) != width {
		err = multierr.Append(err, fmt.Errorf("header count %d does not match feature count %d", len(ds.Headers), width))
	}
	for i, row := range ds.Features {
		if len(row) != width {
			err = multierr.Append(err, fmt.Errorf("inconsistent feature count at sample %d: expected %d, got %d", i, width, len(row)))
		}
	}
	return err
}

// CheckRows verifies that rows is a valid row-index subset of ds.
func (ds *Dataset) CheckRows(rows []int) error {
	seen := make(map[int]struct{}, len(rows))
	n := ds.NumSamples()
	for _, row := range rows {
		if row < 0 || row >= n {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrRowOutOfRange, row, n)
		}
		if _, ok := seen[row]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateRow, row)
		}
		seen[row] = struct{}{}
	}
	return nil
}

// AllRows returns the subset 0..NumSamples-1.
func (ds *Dataset) AllRows() []int {
	rows := make([]int, ds.NumSamples())
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// FeatureName returns the header of column idx, or a positional name.
func (ds *Dataset) FeatureName(idx int) string {
	if idx >= 0 && idx < len(ds.Headers) {
		return ds.Headers[idx]
	}
	return fmt.Sprintf("feature[%d]", idx)
}
