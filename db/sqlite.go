package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var database *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// InitDB opens (or creates) the SQLite database and its tables.
func InitDB(path string, wal bool) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := path + "?_busy_timeout=5000"
	if wal {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50) NOT NULL,
        max_depth INTEGER NOT NULL,
        accuracy REAL NOT NULL,
        train_size INTEGER NOT NULL,
        test_size INTEGER NOT NULL,
        data_points INTEGER NOT NULL,
        leaves INTEGER DEFAULT 0,
        seed INTEGER DEFAULT 0,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id INTEGER NOT NULL,
        row_index INTEGER NOT NULL,
        player TEXT,
        actual TEXT NOT NULL,
        predicted TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(run_id, row_index)
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions(run_id);
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return fmt.Errorf("create tables failed: %w", err)
	}

	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

// Initialized reports whether InitDB has succeeded.
func Initialized() bool {
	return database != nil
}

func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

type TrainingLog struct {
	ID         int64     `json:"id"`
	ModelName  string    `json:"model_name"`
	MaxDepth   int       `json:"max_depth"`
	Accuracy   float64   `json:"accuracy"`
	TrainSize  int       `json:"train_size"`
	TestSize   int       `json:"test_size"`
	DataPoints int       `json:"data_points"`
	Leaves     int       `json:"leaves"`
	Seed       int64     `json:"seed"`
	TrainedAt  time.Time `json:"trained_at"`
}

// SaveTrainingLog records one training run and returns its id.
func SaveTrainingLog(entry TrainingLog) (int64, error) {
	if database == nil {
		return 0, ErrNotInitialized
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	res, err := database.Exec(`
        INSERT INTO training_log (
            model_name, max_depth, accuracy, train_size, test_size,
            data_points, leaves, seed, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.MaxDepth, entry.Accuracy, entry.TrainSize, entry.TestSize,
		entry.DataPoints, entry.Leaves, entry.Seed, entry.TrainedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LoadTrainingLog returns the most recent runs first. limit <= 0 means all.
func LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(`
        SELECT id, model_name, max_depth, accuracy, train_size, test_size,
               data_points, leaves, seed, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ID, &log.ModelName, &log.MaxDepth, &log.Accuracy, &log.TrainSize,
			&log.TestSize, &log.DataPoints, &log.Leaves, &log.Seed, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type PredictionRecord struct {
	RowIndex  int    `json:"row_index"`
	Player    string `json:"player"`
	Actual    string `json:"actual"`
	Predicted string `json:"predicted"`
}

// SavePredictions stores the test-set predictions of a run.
func SavePredictions(runID int64, records []PredictionRecord) error {
	if database == nil {
		return ErrNotInitialized
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT OR REPLACE INTO predictions (run_id, row_index, player, actual, predicted)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(runID, r.RowIndex, r.Player, r.Actual, r.Predicted); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// QueryPredictions returns the predictions of a run ordered by row.
func QueryPredictions(runID int64) ([]PredictionRecord, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	rows, err := database.Query(`
        SELECT row_index, player, actual, predicted
        FROM predictions
        WHERE run_id = ?
        ORDER BY row_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		var player sql.NullString
		if err := rows.Scan(&r.RowIndex, &player, &r.Actual, &r.Predicted); err != nil {
			return nil, err
		}
		r.Player = player.String
		records = append(records, r)
	}
	return records, rows.Err()
}
