// Package service exposes the per-user model lifecycle as a plain Go API:
// score a telemetry record, onboard a user with an initial batch, and
// submit asynchronous retrains. Transport routing lives outside this
// module; this is the contract it calls into.
package service

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/aegisml/behaviorguard/pkg/autoencoder"
	"github.com/aegisml/behaviorguard/pkg/config"
	"github.com/aegisml/behaviorguard/pkg/corpus"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/notify"
	"github.com/aegisml/behaviorguard/pkg/retrain"
	"github.com/aegisml/behaviorguard/pkg/scoring"
	"github.com/aegisml/behaviorguard/pkg/store"
)

// Service ties the scoring path and the retraining executor together over
// one blob store. Scoring stays read-only with respect to bundles; the
// executor is the only writer of model artifacts.
type Service struct {
	st       store.Store
	corpus   *corpus.Corpus
	scorer   *scoring.Scorer
	executor *retrain.Executor
	logger   *zap.Logger
}

// New assembles a Service from configuration, a store, and a notifier.
func New(cfg *config.Config, st store.Store, notifier notify.Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	c := corpus.New(st, logger)
	scorer := scoring.New(st, c, logger)

	orch := retrain.NewOrchestrator(st, c, features.DefaultSchema(), logger,
		retrain.WithNotifier(notifier),
		retrain.WithPercentile(cfg.Training.ThresholdPercentile),
		retrain.WithModelOptions(
			autoencoder.WithEpochs(cfg.Training.Epochs),
			autoencoder.WithBatchSize(cfg.Training.BatchSize),
			autoencoder.WithPatience(cfg.Training.Patience),
			autoencoder.WithLearningRate(cfg.Training.LearningRate),
			autoencoder.WithValidationSplit(cfg.Training.ValidationSplit),
			autoencoder.WithSeed(cfg.Training.Seed),
		),
		retrain.WithPublishHook(scorer.Invalidate),
	)

	return &Service{
		st:       st,
		corpus:   c,
		scorer:   scorer,
		executor: retrain.NewExecutor(orch, cfg.Executor.MaxConcurrentRetrains, logger),
		logger:   logger.Named("service"),
	}
}

// Score evaluates one telemetry record against the user's current bundle.
// The raw record is appended to the user's corpus whatever the outcome.
func (s *Service) Score(ctx context.Context, userID string, rec features.Record) (*scoring.Result, error) {
	res, err := s.scorer.Score(ctx, userID, rec)
	if err != nil {
		return nil, err
	}

	res.RiskScore = math.Round(res.RiskScore*1e4) / 1e4
	return res, nil
}

// Onboard stores a user's initial training batch and submits the first
// retrain, returning its job handle.
func (s *Service) Onboard(ctx context.Context, userID string, initialCSV []byte) (*retrain.Job, error) {
	if err := s.corpus.PutInitial(ctx, userID, initialCSV); err != nil {
		return nil, fmt.Errorf("onboard user %q: %w", userID, err)
	}

	s.logger.Info("user onboarded", zap.String("user_id", userID))
	return s.executor.Submit(userID)
}

// Retrain submits an asynchronous retrain for the user and returns its job
// handle. A submission while a retrain for the same user is in flight
// returns the existing job.
func (s *Service) Retrain(_ context.Context, userID string) (*retrain.Job, error) {
	return s.executor.Submit(userID)
}

// Job looks up a previously submitted retrain job.
func (s *Service) Job(id string) (*retrain.Job, bool) {
	return s.executor.Job(id)
}

// Healthy pings the backing store.
func (s *Service) Healthy(ctx context.Context) error {
	if _, err := s.st.List(ctx, "users/"); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// Close drains in-flight retrains.
func (s *Service) Close() {
	s.executor.Close()
}
