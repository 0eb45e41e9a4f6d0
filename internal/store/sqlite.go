// Package store provides storage backends for completed evaluations.
//
// This file implements an SQLite-backed evaluation repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/ScorePipe/ScorePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository with the given DSN.
// The DSN is a file path; its directory is created if missing.
func NewSQLiteRepository(opts ...Option) (*SQLiteRepository, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteRepository invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteRepository DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteRepository{db: db}, nil
}

func (s *SQLiteRepository) SaveEvaluation(final models.FinalEvaluation) error {
	payload, err := final.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize evaluation %s: %w", final.EvaluationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO evaluations
		(id, policy_name, overall_score, passed, requires_human_review, confidence, confidence_level, classifier_fallback, payload, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_name = excluded.policy_name,
			overall_score = excluded.overall_score,
			passed = excluded.passed,
			requires_human_review = excluded.requires_human_review,
			confidence = excluded.confidence,
			confidence_level = excluded.confidence_level,
			classifier_fallback = excluded.classifier_fallback,
			payload = excluded.payload,
			evaluated_at = excluded.evaluated_at`,
		final.EvaluationID, final.PolicyName, final.OverallScore, final.Passed,
		final.RequiresHumanReview, final.Confidence.Score, string(final.Confidence.Level),
		final.ClassifierFallback, payload, final.EvaluatedAt)
	if err != nil {
		slog.Error("SQLiteRepository SaveEvaluation failed", "error", err, "evaluation", final.EvaluationID)
		return fmt.Errorf("failed to save evaluation %s: %w", final.EvaluationID, err)
	}
	slog.Debug("SQLiteRepository SaveEvaluation succeeded", "evaluation", final.EvaluationID)
	return nil
}

func (s *SQLiteRepository) GetEvaluation(id string) (models.FinalEvaluation, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM evaluations WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.FinalEvaluation{}, ErrEvaluationNotFound
	}
	if err != nil {
		slog.Error("SQLiteRepository GetEvaluation query failed", "error", err, "evaluation", id)
		return models.FinalEvaluation{}, fmt.Errorf("failed to query evaluation %s: %w", id, err)
	}
	var final models.FinalEvaluation
	if err := final.FromJSON(payload); err != nil {
		return models.FinalEvaluation{}, err
	}
	return final, nil
}

func (s *SQLiteRepository) ListEvaluations(limit int) ([]models.FinalEvaluation, error) {
	return s.list(`SELECT payload FROM evaluations ORDER BY evaluated_at DESC`, limit)
}

func (s *SQLiteRepository) ListForReview(limit int) ([]models.FinalEvaluation, error) {
	return s.list(`SELECT payload FROM evaluations WHERE requires_human_review ORDER BY evaluated_at DESC`, limit)
}

func (s *SQLiteRepository) list(query string, limit int) ([]models.FinalEvaluation, error) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteRepository list query failed", "error", err)
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.FinalEvaluation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation row: %w", err)
		}
		var final models.FinalEvaluation
		if err := final.FromJSON(payload); err != nil {
			return nil, err
		}
		out = append(out, final)
	}
	return out, rows.Err()
}

func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}
