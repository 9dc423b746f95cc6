// Package training runs the load, split, build and evaluate cycle and holds
// the model currently being served.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lcktree/db"
	"lcktree/ml"
	"lcktree/monitoring"
	"lcktree/pipeline"
)

const ModelName = "decision_tree"

var (
	ErrNoModel   = errors.New("model not trained")
	ErrNoDataset = errors.New("dataset not loaded")
	ErrBadRow    = errors.New("row not in dataset")
)

// Options control one training run. Zero values fall back to the trainer
// defaults; a zero Seed means a time-based seed.
type Options struct {
	MaxDepth      *int    `json:"max_depth,omitempty"`
	TrainRatio    float64 `json:"train_ratio,omitempty"`
	Seed          int64   `json:"seed,omitempty"`
	ParallelDepth int     `json:"parallel_depth,omitempty"`
}

// Report summarises a finished run.
type Report struct {
	RunID      int64           `json:"run_id,omitempty"`
	MaxDepth   int             `json:"max_depth"`
	Seed       int64           `json:"seed"`
	TrainSize  int             `json:"train_size"`
	TestSize   int             `json:"test_size"`
	Evaluation ml.Evaluation   `json:"evaluation"`
	Depth      int             `json:"depth"`
	Leaves     int             `json:"leaves"`
	Classes    map[string]int  `json:"classes"`
	Samples    []RowPrediction `json:"samples"`
	TrainedAt  time.Time       `json:"trained_at"`
	Duration   time.Duration   `json:"duration"`

	testRows []int
}

// RowPrediction is the prediction for one dataset row.
type RowPrediction struct {
	Row       int    `json:"row"`
	Player    string `json:"player"`
	Actual    string `json:"actual"`
	Predicted string `json:"predicted"`
}

// Publisher receives training events.
type Publisher interface {
	Publish(t monitoring.EventType, payload any) error
}

// Trainer is safe for concurrent use. Trainings are serialised; predictions
// run against the last successfully trained model.
type Trainer struct {
	loader   *pipeline.Loader
	defaults Options
	logger   *zap.Logger

	mu        sync.RWMutex
	table     *pipeline.Table
	model     *ml.DecisionTree
	version   uint64
	trainedOn *pipeline.Table
	report    *Report
	publisher Publisher
	onSwap    []func()

	trainMu sync.Mutex
}

func NewTrainer(loader *pipeline.Loader, defaults Options, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{loader: loader, defaults: defaults, logger: logger}
}

func (t *Trainer) SetPublisher(p Publisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publisher = p
}

// OnModelSwap registers fn to run after every successful training.
func (t *Trainer) OnModelSwap(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSwap = append(t.onSwap, fn)
}

// SetTable installs an already loaded table, replacing the current one.
func (t *Trainer) SetTable(table *pipeline.Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table = table
}

// LoadDataset reads the dataset through the configured loader.
func (t *Trainer) LoadDataset() error {
	if t.loader == nil {
		return ErrNoDataset
	}
	table, err := t.loader.Load()
	if err != nil {
		return err
	}
	t.SetTable(table)
	t.publish(monitoring.DatasetReloaded, map[string]int{
		"samples":  table.Dataset.NumSamples(),
		"features": table.Dataset.NumFeatures(),
		"rejected": len(table.Issues),
	})
	return nil
}

// Reload re-reads the dataset and retrains with the default options.
func (t *Trainer) Reload(ctx context.Context) (*Report, error) {
	if err := t.LoadDataset(); err != nil {
		t.logger.Error("dataset reload failed", zap.Error(err))
		return nil, err
	}
	return t.Train(ctx, Options{})
}

// Train splits the current table, builds a tree on the training side and
// evaluates it on the test side. The served model is only replaced on success.
func (t *Trainer) Train(ctx context.Context, opts Options) (*Report, error) {
	t.trainMu.Lock()
	defer t.trainMu.Unlock()

	t.mu.RLock()
	table := t.table
	t.mu.RUnlock()
	if table == nil {
		return nil, ErrNoDataset
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts = t.resolve(opts)
	ds := table.Dataset
	start := time.Now()

	t.publish(monitoring.TrainingStarted, map[string]any{
		"max_depth": *opts.MaxDepth,
		"seed":      opts.Seed,
		"samples":   ds.NumSamples(),
	})

	trainRows, testRows := ml.SplitIndices(ds.NumSamples(), opts.TrainRatio, opts.Seed)

	model := &ml.DecisionTree{MaxDepth: *opts.MaxDepth, ParallelDepth: opts.ParallelDepth}
	if err := model.Train(ds, trainRows); err != nil {
		t.fail(err)
		return nil, fmt.Errorf("failed to train model: %w", err)
	}
	eval, err := ml.Evaluate(model, ds, testRows)
	if err != nil {
		t.fail(err)
		return nil, fmt.Errorf("failed to evaluate model: %w", err)
	}

	report := &Report{
		MaxDepth:   *opts.MaxDepth,
		Seed:       opts.Seed,
		TrainSize:  len(trainRows),
		TestSize:   len(testRows),
		Evaluation: eval,
		Depth:      ml.Depth(model.Root()),
		Leaves:     ml.LeafCount(model.Root()),
		Classes:    ml.ClassCounts(ds),
		TrainedAt:  time.Now().UTC(),
		Duration:   time.Since(start),
		testRows:   testRows,
	}
	for _, row := range testRows[:min(5, len(testRows))] {
		report.Samples = append(report.Samples, predictRow(model, table, row))
	}

	// A run whose caller gave up must not replace the served model.
	if err := ctx.Err(); err != nil {
		t.fail(err)
		return nil, err
	}

	if db.Initialized() {
		if err := t.persist(report, model, table); err != nil {
			t.logger.Warn("failed to persist training run", zap.Error(err))
		}
	}

	t.mu.Lock()
	t.model = model
	t.version++
	t.trainedOn = table
	t.report = report
	hooks := append([]func(){}, t.onSwap...)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	t.logger.Info("model trained",
		zap.Int64("run_id", report.RunID),
		zap.Int("max_depth", report.MaxDepth),
		zap.Int("train_size", report.TrainSize),
		zap.Int("test_size", report.TestSize),
		zap.Float64("accuracy", eval.Accuracy),
		zap.Int("leaves", report.Leaves),
		zap.Duration("duration", report.Duration),
	)
	t.publish(monitoring.TrainingCompleted, report)
	return report, nil
}

func (t *Trainer) resolve(opts Options) Options {
	if opts.MaxDepth == nil {
		opts.MaxDepth = t.defaults.MaxDepth
	}
	if opts.MaxDepth == nil {
		depth := 5
		opts.MaxDepth = &depth
	}
	if opts.TrainRatio == 0 {
		opts.TrainRatio = t.defaults.TrainRatio
	}
	if opts.Seed == 0 {
		opts.Seed = t.defaults.Seed
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.ParallelDepth == 0 {
		opts.ParallelDepth = t.defaults.ParallelDepth
	}
	return opts
}

func (t *Trainer) persist(report *Report, model *ml.DecisionTree, table *pipeline.Table) error {
	runID, err := db.SaveTrainingLog(db.TrainingLog{
		ModelName:  ModelName,
		MaxDepth:   report.MaxDepth,
		Accuracy:   report.Evaluation.Accuracy,
		TrainSize:  report.TrainSize,
		TestSize:   report.TestSize,
		DataPoints: table.Dataset.NumSamples(),
		Leaves:     report.Leaves,
		Seed:       report.Seed,
		TrainedAt:  report.TrainedAt,
	})
	if err != nil {
		return err
	}
	report.RunID = runID

	records := make([]db.PredictionRecord, 0, len(report.testRows))
	for _, row := range report.testRows {
		p := predictRow(model, table, row)
		records = append(records, db.PredictionRecord{
			RowIndex:  p.Row,
			Player:    p.Player,
			Actual:    p.Actual,
			Predicted: p.Predicted,
		})
	}
	return db.SavePredictions(runID, records)
}

func (t *Trainer) fail(err error) {
	t.logger.Error("training failed", zap.Error(err))
	t.publish(monitoring.TrainingFailed, map[string]string{"error": err.Error()})
}

func (t *Trainer) publish(et monitoring.EventType, payload any) {
	t.mu.RLock()
	p := t.publisher
	t.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.Publish(et, payload); err != nil {
		t.logger.Warn("failed to publish event", zap.String("type", string(et)), zap.Error(err))
	}
}

// ModelVersion increases every time the served model is replaced; 0 means no
// model has been trained yet.
func (t *Trainer) ModelVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Predict classifies a feature vector with the served model.
func (t *Trainer) Predict(features []string) (string, error) {
	t.mu.RLock()
	model := t.model
	t.mu.RUnlock()
	if model == nil {
		return "", ErrNoModel
	}
	return model.Predict(features)
}

// PredictRow classifies a dataset row and reports its player and label.
func (t *Trainer) PredictRow(row int) (RowPrediction, error) {
	t.mu.RLock()
	model, table := t.model, t.trainedOn
	t.mu.RUnlock()
	if model == nil {
		return RowPrediction{}, ErrNoModel
	}
	if row < 0 || row >= table.Dataset.NumSamples() {
		return RowPrediction{}, fmt.Errorf("%w: %d", ErrBadRow, row)
	}
	return predictRow(model, table, row), nil
}

func predictRow(model *ml.DecisionTree, table *pipeline.Table, row int) RowPrediction {
	ds := table.Dataset
	predicted, err := model.Predict(ds.Features[row])
	if err != nil {
		predicted = ml.UnknownLabel
	}
	player, ok := table.PlayerName(row)
	if !ok {
		player = pipeline.UnknownPlayer
	}
	return RowPrediction{Row: row, Player: player, Actual: ds.Targets[row], Predicted: predicted}
}

// Tree returns the served tree and the feature headers it splits on.
func (t *Trainer) Tree() (ml.Node, []string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.model == nil {
		return nil, nil, ErrNoModel
	}
	return t.model.Root(), t.trainedOn.Dataset.Headers, nil
}

// LastReport returns the report of the served model, or nil.
func (t *Trainer) LastReport() *Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.report
}
