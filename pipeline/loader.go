// Package pipeline turns CSV player statistics into an ml.Dataset.
package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"lcktree/ml"
)

// UnknownPlayer is shown when a row has no player name.
const UnknownPlayer = "UNKNOWN PLAYER"

// LoaderConfig describes how a CSV file maps onto features and targets.
type LoaderConfig struct {
	Path         string   `yaml:"path"`
	Encoding     string   `yaml:"encoding"`
	TargetColumn string   `yaml:"target_column"`
	NameColumn   string   `yaml:"name_column"`
	Exclude      []string `yaml:"exclude"`
	// Threshold binarises a numeric target: values above it become
	// PositiveLabel, the rest NegativeLabel. Empty keeps the raw target.
	Threshold     string `yaml:"threshold"`
	PositiveLabel string `yaml:"positive_label"`
	NegativeLabel string `yaml:"negative_label"`
}

// DefaultLoaderConfig matches the LCK player stats export.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Encoding:      "utf-8",
		TargetColumn:  "Win_rate",
		NameColumn:    "Player",
		Exclude:       []string{"Player", "Country", "SeasonYear", "SourceURL", "Split", "Team", "Time"},
		Threshold:     "50",
		PositiveLabel: "High",
		NegativeLabel: "Low",
	}
}

// Table is a loaded dataset plus the per-row player names.
type Table struct {
	Dataset *ml.Dataset
	Players []string
	Issues  []QualityIssue
	Stats   CleaningStats
}

// PlayerName returns the player of row, if the table has one.
func (t *Table) PlayerName(row int) (string, bool) {
	if row < 0 || row >= len(t.Players) || t.Players[row] == "" {
		return "", false
	}
	return t.Players[row], true
}

// Loader reads CSV tables according to a LoaderConfig.
type Loader struct {
	config LoaderConfig
	logger *zap.Logger
}

func NewLoader(config LoaderConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PositiveLabel == "" {
		config.PositiveLabel = "High"
	}
	if config.NegativeLabel == "" {
		config.NegativeLabel = "Low"
	}
	return &Loader{config: config, logger: logger}
}

// Load reads the configured file.
func (l *Loader) Load() (*Table, error) {
	file, err := os.Open(l.config.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	l.logger.Info("loading dataset", zap.String("path", l.config.Path), zap.String("encoding", l.config.Encoding))
	return l.LoadReader(file)
}

// LoadReader reads a CSV table with a header row from r.
func (l *Loader) LoadReader(r io.Reader) (*Table, error) {
	dec, err := decoderFor(l.config.Encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(transform.NewReader(r, dec.NewDecoder()))
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	targetIdx := len(headers) - 1
	if l.config.TargetColumn != "" {
		targetIdx = indexOf(headers, l.config.TargetColumn)
		if targetIdx < 0 {
			return nil, fmt.Errorf("%s column not found in CSV headers", l.config.TargetColumn)
		}
	}
	nameIdx := -1
	if l.config.NameColumn != "" {
		nameIdx = indexOf(headers, l.config.NameColumn)
	}

	var threshold decimal.Decimal
	binarise := l.config.Threshold != ""
	if binarise {
		threshold, err = decimal.NewFromString(l.config.Threshold)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: %w", l.config.Threshold, err)
		}
	}

	excluded := make(map[int]bool)
	for i, h := range headers {
		if i == targetIdx || contains(l.config.Exclude, h) {
			excluded[i] = true
		}
	}
	featureHeaders := make([]string, 0, len(headers))
	for i, h := range headers {
		if !excluded[i] {
			featureHeaders = append(featureHeaders, h)
		}
	}

	cleaner := NewRecordCleaner(len(headers), targetIdx)
	table := &Table{}
	var features [][]string
	var targets []string

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading record: %w", err)
		}

		record, issue := cleaner.Clean(record, line)
		if issue != nil {
			l.logger.Warn("record rejected", zap.Int("line", issue.Line), zap.String("rule", issue.Rule), zap.String("reason", issue.Message))
			table.Issues = append(table.Issues, *issue)
			continue
		}

		label := record[targetIdx]
		if binarise {
			label, err = binariseTarget(label, threshold, l.config.PositiveLabel, l.config.NegativeLabel)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}

		row := make([]string, 0, len(featureHeaders))
		for i, field := range record {
			if !excluded[i] {
				row = append(row, field)
			}
		}
		features = append(features, row)
		targets = append(targets, label)

		player := ""
		if nameIdx >= 0 {
			player = record[nameIdx]
		}
		table.Players = append(table.Players, player)
	}

	ds, err := ml.NewDataset(featureHeaders, features, targets)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	table.Dataset = ds
	table.Stats = cleaner.Stats()

	l.logger.Info("dataset loaded",
		zap.Int("samples", ds.NumSamples()),
		zap.Int("features", ds.NumFeatures()),
		zap.Int("rejected", len(table.Issues)),
	)
	return table, nil
}

// binariseTarget parses values such as "53.2%" and compares them to threshold.
func binariseTarget(value string, threshold decimal.Decimal, positive, negative string) (string, error) {
	clean := strings.TrimRight(strings.TrimSpace(value), "%")
	parsed, err := decimal.NewFromString(strings.TrimSpace(clean))
	if err != nil {
		return "", fmt.Errorf("invalid target value %q: %w", value, err)
	}
	if parsed.GreaterThan(threshold) {
		return positive, nil
	}
	return negative, nil
}

func decoderFor(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "gbk":
		return simplifiedchinese.GBK, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}

func contains(values []string, target string) bool {
	return indexOf(values, target) >= 0
}
