// Command train fits a decision tree on the player stats table and prints
// its test accuracy and a few sample predictions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"lcktree/config"
	"lcktree/db"
	"lcktree/logger"
	"lcktree/ml"
	"lcktree/pipeline"
	"lcktree/training"
)

var checkRows = []int{56, 57, 58}

func main() {
	configPath := flag.String("config", config.Find(), "config file")
	dataPath := flag.String("data", "", "dataset path, overrides dataset.path")
	maxDepth := flag.Int("max_depth", -1, "max tree depth, overrides model.max_depth")
	trainRatio := flag.Float64("train_ratio", 0, "train share, overrides model.train_ratio")
	seed := flag.Int64("seed", 0, "shuffle seed, 0 for a random one")
	record := flag.Bool("record", false, "write the run to the training log database")
	showTree := flag.Bool("tree", false, "print the trained tree")
	flag.Parse()

	if err := run(*configPath, *dataPath, *maxDepth, *trainRatio, *seed, *record, *showTree); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func run(configPath, dataPath string, maxDepth int, trainRatio float64, seed int64, record, showTree bool) error {
	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if dataPath != "" {
		cfg.Dataset.Path = dataPath
	}
	cfg.Log.File = ""
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	if record {
		if err := db.InitDB(cfg.Database.Path, cfg.Database.EnableWAL); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
	}

	title := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	title.Println("Decision tree for LCK win rate prediction")

	depth := cfg.Model.MaxDepth
	if maxDepth >= 0 {
		depth = maxDepth
	}
	if trainRatio == 0 {
		trainRatio = cfg.Model.TrainRatio
	}
	if seed == 0 {
		seed = cfg.Model.Seed
	}

	trainer := training.NewTrainer(pipeline.NewLoader(cfg.Dataset.LoaderConfig, log), training.Options{
		MaxDepth:      &depth,
		TrainRatio:    trainRatio,
		Seed:          seed,
		ParallelDepth: cfg.Model.ParallelDepth,
	}, log)
	if err := trainer.LoadDataset(); err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	report, err := trainer.Train(context.Background(), training.Options{})
	if err != nil {
		return err
	}

	title.Println("--- Results ---")
	fmt.Printf("Accuracy: %s\n", yellow(fmt.Sprintf("%.3f", report.Evaluation.Accuracy)))
	fmt.Println("predictions from test set:")
	for _, p := range report.Samples {
		fmt.Printf("%d: actual = %s, predicted = %s\n", p.Row, p.Actual, mark(p.Predicted, p.Actual, green, red))
	}

	fmt.Printf("Checking player %d, %d, %d\n", checkRows[0], checkRows[1], checkRows[2])
	for _, row := range checkRows {
		p, err := trainer.PredictRow(row)
		if errors.Is(err, training.ErrBadRow) {
			fmt.Println("It doesn't exist")
			continue
		}
		if err != nil {
			return err
		}
		fmt.Printf("Row %d (%s): REAL = %s, PREDICTED = %s\n", row, p.Player, p.Actual, mark(p.Predicted, p.Actual, green, red))
	}

	pos, neg := cfg.Dataset.PositiveLabel, cfg.Dataset.NegativeLabel
	fmt.Printf("Total Counts: %s: %d, %s: %d\n", pos, report.Classes[pos], neg, report.Classes[neg])

	if showTree {
		root, headers, err := trainer.Tree()
		if err != nil {
			return err
		}
		title.Println("--- Tree ---")
		fmt.Print(ml.Describe(root, headers))
	}
	if report.RunID != 0 {
		log.Info("run recorded", zap.Int64("run_id", report.RunID), zap.String("database", cfg.Database.Path))
	}
	return nil
}

func mark(predicted, actual string, ok, bad func(a ...interface{}) string) string {
	if predicted == actual {
		return ok(predicted)
	}
	return bad(predicted)
}
