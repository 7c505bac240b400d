// Package retrain rebuilds a user's artifact bundle from the accumulated
// corpus. A retrain is a full batch rebuild: scaler, model, and threshold
// are refit from scratch and published atomically on success. On any stage
// failure the previously published bundle remains authoritative.
package retrain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegisml/behaviorguard/pkg/artifacts"
	"github.com/aegisml/behaviorguard/pkg/autoencoder"
	"github.com/aegisml/behaviorguard/pkg/corpus"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/notify"
	"github.com/aegisml/behaviorguard/pkg/scaler"
	"github.com/aegisml/behaviorguard/pkg/store"
)

// Stage identifies a step of the retraining state machine.
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageFitting     Stage = "fitting"
	StageCalibrating Stage = "calibrating"
	StagePublishing  Stage = "publishing"
)

// StageError reports which stage of a retrain failed and for which user.
type StageError struct {
	UserID string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("retrain user %q: stage %s: %v", e.UserID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Orchestrator drives the Fetching -> Fitting -> Calibrating -> Publishing
// pipeline for one user at a time. Publishing is the only stage with
// external side effects and runs last.
type Orchestrator struct {
	st       store.Store
	corpus   *corpus.Corpus
	schema   features.Schema
	notifier notify.Notifier
	logger   *zap.Logger

	percentile float64
	modelOpts  []autoencoder.Option

	// onPublished is invoked after a bundle replaces its predecessor, so
	// scorers can drop stale cache entries.
	onPublished func(userID string)
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPercentile overrides the threshold calibration percentile.
func WithPercentile(pct float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.percentile = pct
	}
}

// WithModelOptions sets the autoencoder training options.
func WithModelOptions(opts ...autoencoder.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.modelOpts = opts
	}
}

// WithNotifier sets the outcome notification channel.
func WithNotifier(n notify.Notifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithPublishHook registers a callback fired after each successful publish.
func WithPublishHook(fn func(userID string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onPublished = fn
	}
}

// NewOrchestrator creates an Orchestrator over the given store and schema.
func NewOrchestrator(st store.Store, c *corpus.Corpus, schema features.Schema, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		st:         st,
		corpus:     c,
		schema:     schema,
		notifier:   notify.Noop{},
		logger:     logger.Named("retrain"),
		percentile: autoencoder.DefaultPercentile,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full retrain for the user. The outcome is reported to
// the notifier either way; notification failures are logged and ignored.
func (o *Orchestrator) Run(ctx context.Context, userID string) error {
	start := time.Now()
	err := o.run(ctx, userID)

	if err != nil {
		o.logger.Error("retrain failed",
			zap.String("user_id", userID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		o.send(ctx, fmt.Sprintf("Retrain failed for user %s: %v", userID, err))
		return err
	}

	o.logger.Info("retrain published",
		zap.String("user_id", userID),
		zap.Duration("elapsed", time.Since(start)))
	o.send(ctx, fmt.Sprintf("Model retrained for user %s", userID))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, userID string) error {
	// Fetching: initial batch plus all accumulated incoming records.
	recs, err := o.corpus.Load(ctx, userID)
	if err != nil {
		return &StageError{UserID: userID, Stage: StageFetching, Err: err}
	}

	// Fitting: impute, standardize, train.
	matrix, err := o.schema.Matrix(recs)
	if err != nil {
		return &StageError{UserID: userID, Stage: StageFitting, Err: err}
	}
	params, err := scaler.Fit(matrix, o.schema.NumContinuous(), scaler.WithLogger(o.logger))
	if err != nil {
		return &StageError{UserID: userID, Stage: StageFitting, Err: err}
	}
	scaled, err := params.ApplyMatrix(matrix)
	if err != nil {
		return &StageError{UserID: userID, Stage: StageFitting, Err: err}
	}

	model := autoencoder.New(o.modelOpts...)
	if err := model.Fit(scaled); err != nil {
		return &StageError{UserID: userID, Stage: StageFitting, Err: err}
	}

	// Calibrating: threshold from the model's own training errors.
	trainErrs, err := model.Errors(scaled)
	if err != nil {
		return &StageError{UserID: userID, Stage: StageCalibrating, Err: err}
	}
	threshold, err := autoencoder.Calibrate(trainErrs, o.percentile)
	if err != nil {
		return &StageError{UserID: userID, Stage: StageCalibrating, Err: err}
	}

	// Publishing: the only stage with external side effects.
	bundle := &artifacts.Bundle{
		Schema:       o.schema,
		Scaler:       params,
		Model:        model,
		Threshold:    threshold,
		CalibratedAt: time.Now().UTC(),
		CorpusRows:   len(recs),
	}
	if err := artifacts.Publish(ctx, o.st, userID, bundle); err != nil {
		return &StageError{UserID: userID, Stage: StagePublishing, Err: err}
	}

	if o.onPublished != nil {
		o.onPublished(userID)
	}
	return nil
}

func (o *Orchestrator) send(ctx context.Context, message string) {
	if err := o.notifier.Notify(ctx, message); err != nil {
		o.logger.Warn("notification failed", zap.Error(err))
	}
}
