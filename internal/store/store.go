// Package store provides storage backends for completed evaluations.
//
// It includes an in-memory repository for tests and small deployments,
// plus SQLite and PostgreSQL backed repositories.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/ScorePipe/ScorePipe/internal/models"
)

// ErrEvaluationNotFound is returned when an evaluation id has no row.
var ErrEvaluationNotFound = errors.New("evaluation not found")

// EvaluationRepository persists and retrieves completed evaluations.
type EvaluationRepository interface {
	SaveEvaluation(final models.FinalEvaluation) error
	GetEvaluation(id string) (models.FinalEvaluation, error)
	ListEvaluations(limit int) ([]models.FinalEvaluation, error)
	// ListForReview returns evaluations flagged for human review.
	ListForReview(limit int) ([]models.FinalEvaluation, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryRepository keeps evaluations in process memory.
type InMemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]models.FinalEvaluation
	order []string
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{byID: make(map[string]models.FinalEvaluation)}
}

func (s *InMemoryRepository) SaveEvaluation(final models.FinalEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[final.EvaluationID]; !exists {
		s.order = append(s.order, final.EvaluationID)
	}
	s.byID[final.EvaluationID] = final
	return nil
}

func (s *InMemoryRepository) GetEvaluation(id string) (models.FinalEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	final, ok := s.byID[id]
	if !ok {
		return models.FinalEvaluation{}, ErrEvaluationNotFound
	}
	return final, nil
}

func (s *InMemoryRepository) ListEvaluations(limit int) ([]models.FinalEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FinalEvaluation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	// newest first
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EvaluatedAt.After(out[j].EvaluatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRepository) ListForReview(limit int) ([]models.FinalEvaluation, error) {
	all, err := s.ListEvaluations(0)
	if err != nil {
		return nil, err
	}
	var out []models.FinalEvaluation
	for _, final := range all {
		if final.RequiresHumanReview {
			out = append(out, final)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryRepository) Close() error { return nil }
