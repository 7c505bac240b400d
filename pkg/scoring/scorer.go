// Package scoring evaluates telemetry records against a user's published
// artifact bundle and appends each scored record to the user's corpus.
package scoring

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aegisml/behaviorguard/pkg/artifacts"
	"github.com/aegisml/behaviorguard/pkg/corpus"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/store"
)

// Result is the outcome of scoring one telemetry record.
type Result struct {
	// RiskScore is the mean squared reconstruction error.
	RiskScore float64 `json:"risk_score"`
	// Anomaly is 1 when RiskScore exceeds the calibrated threshold
	// (strictly greater), else 0.
	Anomaly int `json:"anomaly"`
}

// Scorer loads bundles, scores records, and records telemetry into the
// corpus. Bundles are cached per user; the cache is invalidated when a new
// bundle version is published.
type Scorer struct {
	st     store.Store
	corpus *corpus.Corpus
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*artifacts.Bundle
}

// New creates a Scorer.
func New(st store.Store, c *corpus.Corpus, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		st:     st,
		corpus: c,
		logger: logger.Named("scoring"),
		cache:  make(map[string]*artifacts.Bundle),
	}
}

// Score evaluates one record against the user's current bundle and appends
// the raw record to the corpus regardless of the anomaly outcome. For a
// fixed bundle it is deterministic in the record's contents.
func (s *Scorer) Score(ctx context.Context, userID string, rec features.Record) (*Result, error) {
	bundle, err := s.bundle(ctx, userID)
	if err != nil {
		return nil, err
	}

	vec, err := bundle.Schema.Vector(rec)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}
	scaled, err := bundle.Scaler.Apply(vec)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}
	riskScore, err := bundle.Model.ReconstructionError(scaled)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}

	anomaly := 0
	if riskScore > bundle.Threshold {
		anomaly = 1
	}

	// Every scored record becomes future training signal.
	if err := s.corpus.Append(ctx, userID, rec); err != nil {
		return nil, fmt.Errorf("append record for user %q: %w", userID, err)
	}

	s.logger.Debug("scored record",
		zap.String("user_id", userID),
		zap.Float64("risk_score", riskScore),
		zap.Int("anomaly", anomaly))

	return &Result{RiskScore: riskScore, Anomaly: anomaly}, nil
}

// Invalidate drops the cached bundle for a user. Called after a new bundle
// version is published.
func (s *Scorer) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

func (s *Scorer) bundle(ctx context.Context, userID string) (*artifacts.Bundle, error) {
	s.mu.RLock()
	cached := s.cache[userID]
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	bundle, err := artifacts.Load(ctx, s.st, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[userID] = bundle
	s.mu.Unlock()

	return bundle, nil
}
