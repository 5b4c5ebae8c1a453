// Package db stores the insurance dataset and the training history in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"medcost/insurance"
)

// Store is a SQLite database holding one samples table plus training_log.
type Store struct {
	db    *sql.DB
	table string
}

// Open opens (and creates, if needed) the database at path and makes sure
// the samples table exists. ":memory:" is accepted for tests.
func Open(path, table string) (*Store, error) {
	if table == "" {
		return nil, errors.New("table name required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn += "?_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	// :memory: databases are per connection
	conn.SetMaxOpenConns(1)

	s := &Store{db: conn, table: table}
	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        age INTEGER NOT NULL,
        sex TEXT NOT NULL,
        bmi REAL NOT NULL,
        children INTEGER NOT NULL,
        smoker TEXT NOT NULL,
        region TEXT NOT NULL,
        charges REAL NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_type TEXT NOT NULL,
        source TEXT NOT NULL,
        r2 REAL,
        mae REAL,
        rmse REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        trained_at DATETIME NOT NULL
    );`, quoteIdent(s.table)))
	return err
}

// ReplaceSamples empties the samples table and inserts samples in one
// transaction.
func (s *Store) ReplaceSamples(ctx context.Context, samples []insurance.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(s.table)); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
        INSERT INTO %s (age, sex, bmi, children, smoker, region, charges)
        VALUES (?, ?, ?, ?, ?, ?, ?)`, quoteIdent(s.table)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sample := range samples {
		if _, err := stmt.ExecContext(ctx,
			sample.Age, sample.Sex, sample.BMI, sample.Children,
			sample.Smoker, sample.Region, sample.Charges); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// Load returns the samples in insertion order. It implements insurance.Source.
func (s *Store) Load(ctx context.Context) ([]insurance.Sample, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT age, sex, bmi, children, smoker, region, charges
        FROM %s
        ORDER BY id`, quoteIdent(s.table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []insurance.Sample
	for rows.Next() {
		var r insurance.Sample
		if err := rows.Scan(&r.Age, &r.Sex, &r.BMI, &r.Children, &r.Smoker, &r.Region, &r.Charges); err != nil {
			return nil, err
		}
		samples = append(samples, r)
	}
	return samples, rows.Err()
}

// TrainingLog 一次训练运行的记录
type TrainingLog struct {
	ModelType string    `json:"model_type"`
	Source    string    `json:"source"`
	R2        float64   `json:"r2"`
	MAE       float64   `json:"mae"`
	RMSE      float64   `json:"rmse"`
	TrainRows int       `json:"train_rows"`
	TestRows  int       `json:"test_rows"`
	TrainedAt time.Time `json:"trained_at"`
}

// SaveTrainingLog 保存训练记录
func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.TrainedAt.IsZero() {
		log.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_type, source, r2, mae, rmse, train_rows, test_rows, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelType, log.Source, log.R2, log.MAE, log.RMSE, log.TrainRows, log.TestRows, log.TrainedAt)
	return err
}

// LoadTrainingLog returns past runs, newest first.
func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_type, source, r2, mae, rmse, train_rows, test_rows, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var l TrainingLog
		if err := rows.Scan(&l.ModelType, &l.Source, &l.R2, &l.MAE, &l.RMSE, &l.TrainRows, &l.TestRows, &l.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
