// Package store provides storage backends for completed evaluations.
//
// This file implements a PostgreSQL-backed evaluation repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ScorePipe/ScorePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new Postgres repository based on provided options.
func NewPostgresRepository(opts ...Option) (*PostgresRepository, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresRepository.NewPostgresRepository: creating repository", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresRepository DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresRepository{db: db}, nil
}

func (s *PostgresRepository) SaveEvaluation(final models.FinalEvaluation) error {
	payload, err := final.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize evaluation %s: %w", final.EvaluationID, err)
	}
	_, err = s.db.Exec(`INSERT INTO evaluations
		(id, policy_name, overall_score, passed, requires_human_review, confidence, confidence_level, classifier_fallback, payload, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			policy_name = EXCLUDED.policy_name,
			overall_score = EXCLUDED.overall_score,
			passed = EXCLUDED.passed,
			requires_human_review = EXCLUDED.requires_human_review,
			confidence = EXCLUDED.confidence,
			confidence_level = EXCLUDED.confidence_level,
			classifier_fallback = EXCLUDED.classifier_fallback,
			payload = EXCLUDED.payload,
			evaluated_at = EXCLUDED.evaluated_at`,
		final.EvaluationID, final.PolicyName, final.OverallScore, final.Passed,
		final.RequiresHumanReview, final.Confidence.Score, string(final.Confidence.Level),
		final.ClassifierFallback, payload, final.EvaluatedAt)
	if err != nil {
		slog.Error("PostgresRepository SaveEvaluation failed", "error", err, "evaluation", final.EvaluationID)
		return fmt.Errorf("failed to save evaluation %s: %w", final.EvaluationID, err)
	}
	slog.Debug("PostgresRepository SaveEvaluation succeeded", "evaluation", final.EvaluationID)
	return nil
}

func (s *PostgresRepository) GetEvaluation(id string) (models.FinalEvaluation, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM evaluations WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.FinalEvaluation{}, ErrEvaluationNotFound
	}
	if err != nil {
		slog.Error("PostgresRepository GetEvaluation query failed", "error", err, "evaluation", id)
		return models.FinalEvaluation{}, fmt.Errorf("failed to query evaluation %s: %w", id, err)
	}
	var final models.FinalEvaluation
	if err := final.FromJSON(payload); err != nil {
		return models.FinalEvaluation{}, err
	}
	return final, nil
}

func (s *PostgresRepository) ListEvaluations(limit int) ([]models.FinalEvaluation, error) {
	return s.list(`SELECT payload FROM evaluations ORDER BY evaluated_at DESC`, limit)
}

func (s *PostgresRepository) ListForReview(limit int) ([]models.FinalEvaluation, error) {
	return s.list(`SELECT payload FROM evaluations WHERE requires_human_review ORDER BY evaluated_at DESC`, limit)
}

func (s *PostgresRepository) list(query string, limit int) ([]models.FinalEvaluation, error) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresRepository list query failed", "error", err)
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

func (s *PostgresRepository) Close() error {
	return s.db.Close()
}
