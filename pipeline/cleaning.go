package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CleaningRule inspects or rewrites one CSV record.
type CleaningRule interface {
	Apply(record []string) ([]string, error)
	Name() string
}

// QualityIssue describes a rejected record.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CleaningStats counts what the cleaner did since it was created.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// RecordCleaner runs every rule over each record in order. A record failing
// any rule is dropped.
type RecordCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewRecordCleaner returns a cleaner with the default rules for a table of
// width columns whose target sits at targetIdx.
func NewRecordCleaner(width, targetIdx int) *RecordCleaner {
	cleaner := &RecordCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(TrimSpaceRule{})
	cleaner.AddRule(RowWidthRule{Width: width})
	cleaner.AddRule(EmptyTargetRule{TargetIdx: targetIdx})
	return cleaner
}

func (rc *RecordCleaner) AddRule(rule CleaningRule) {
	rc.rules = append(rc.rules, rule)
}

// Clean applies the rules to record. line is only used in the returned issue.
func (rc *RecordCleaner) Clean(record []string, line int) ([]string, *QualityIssue) {
	rc.statsLock.Lock()
	defer rc.statsLock.Unlock()

	rc.stats.TotalProcessed++
	rc.stats.LastClean = time.Now()

	original := strings.Join(record, "\x00")
	for _, rule := range rc.rules {
		cleaned, err := rule.Apply(record)
		if err != nil {
			rc.stats.Rejected++
			rc.stats.Issues[rule.Name()]++
			return nil, &QualityIssue{Rule: rule.Name(), Line: line, Message: err.Error()}
		}
		record = cleaned
	}

	if strings.Join(record, "\x00") != original {
		rc.stats.Corrected++
	}
	rc.stats.Passed++
	return record, nil
}

func (rc *RecordCleaner) Stats() CleaningStats {
	rc.statsLock.RLock()
	defer rc.statsLock.RUnlock()

	stats := rc.stats
	stats.Issues = make(map[string]int64, len(rc.stats.Issues))
	for k, v := range rc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// TrimSpaceRule strips surrounding whitespace from every field.
type TrimSpaceRule struct{}

func (TrimSpaceRule) Name() string { return "trim_space" }

func (TrimSpaceRule) Apply(record []string) ([]string, error) {
	out := make([]string, len(record))
	for i, field := range record {
		out[i] = strings.TrimSpace(field)
	}
	return out, nil
}

// RowWidthRule rejects records whose field count differs from the header.
type RowWidthRule struct {
	Width int
}

func (RowWidthRule) Name() string { return "row_width" }

func (r RowWidthRule) Apply(record []string) ([]string, error) {
	if len(record) != r.Width {
		return nil, fmt.Errorf("expected %d fields, got %d", r.Width, len(record))
	}
	return record, nil
}

// EmptyTargetRule rejects records without a target value.
type EmptyTargetRule struct {
	TargetIdx int
}

func (EmptyTargetRule) Name() string { return "empty_target" }

func (r EmptyTargetRule) Apply(record []string) ([]string, error) {
	if r.TargetIdx < 0 || r.TargetIdx >= len(record) || record[r.TargetIdx] == "" {
		return nil, errors.New("target value is empty")
	}
	return record, nil
}
