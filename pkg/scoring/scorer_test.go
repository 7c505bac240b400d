package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aegisml/behaviorguard/pkg/artifacts"
	"github.com/aegisml/behaviorguard/pkg/autoencoder"
	"github.com/aegisml/behaviorguard/pkg/corpus"
	"github.com/aegisml/behaviorguard/pkg/features"
	"github.com/aegisml/behaviorguard/pkg/scaler"
	"github.com/aegisml/behaviorguard/pkg/store"
)

var testSchema = features.Schema{
	Continuous: []string{"tap_duration", "swipe_velocity"},
	Binary:     []string{"charging_state"},
}

// publishConstantBundle trains a bundle on a corpus of identical rows and
// publishes it. With a constant corpus every training error is identical,
// so the calibrated threshold equals the baseline record's own error.
func publishConstantBundle(t *testing.T, st store.Store, userID string) {
	t.Helper()
	ctx := context.Background()

	row := []float64{0.5, 1.0, 1}
	data := make([][]float64, 60)
	for i := range data {
		data[i] = row
	}

	params, err := scaler.Fit(data, testSchema.NumContinuous())
	require.NoError(t, err)
	scaled, err := params.ApplyMatrix(data)
	require.NoError(t, err)

	model := autoencoder.New(
		autoencoder.WithHiddenSizes(8, 4, 8),
		autoencoder.WithEpochs(40),
		autoencoder.WithBatchSize(16),
	)
	require.NoError(t, model.Fit(scaled))

	errs, err := model.Errors(scaled)
	require.NoError(t, err)
	threshold, err := autoencoder.Calibrate(errs, autoencoder.DefaultPercentile)
	require.NoError(t, err)

	require.NoError(t, artifacts.Publish(ctx, st, userID, &artifacts.Bundle{
		Schema:    testSchema,
		Scaler:    params,
		Model:     model,
		Threshold: threshold,
	}))
}

func newTestScorer(t *testing.T) (*Scorer, *corpus.Corpus, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	c := corpus.New(st, zaptest.NewLogger(t))
	return New(st, c, zaptest.NewLogger(t)), c, st
}

func baselineRecord() features.Record {
	return features.Record{"tap_duration": 0.5, "swipe_velocity": 1.0, "charging_state": 1.0}
}

func TestScoreDeterminism(t *testing.T) {
	ctx := context.Background()
	s, _, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	first, err := s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)
	second, err := s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)

	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.Anomaly, second.Anomaly)
}

func TestScoreBoundary(t *testing.T) {
	ctx := context.Background()
	s, _, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	// The baseline record's error equals the threshold bit-for-bit (every
	// training row was this record). The boundary is strictly greater-than,
	// so the user's own baseline is not anomalous.
	res, err := s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Anomaly)

	// A record far outside the baseline must be flagged.
	res, err = s.Score(ctx, "u1", features.Record{
		"tap_duration": 500.0, "swipe_velocity": -300.0, "charging_state": 0.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Anomaly)
	assert.Greater(t, res.RiskScore, 0.0)
}

func TestScoreMissingKeyPolicy(t *testing.T) {
	ctx := context.Background()
	s, _, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	omitted, err := s.Score(ctx, "u1", features.Record{"tap_duration": 0.5})
	require.NoError(t, err)
	explicit, err := s.Score(ctx, "u1", features.Record{
		"tap_duration": 0.5, "swipe_velocity": 0.0, "charging_state": 0.0,
	})
	require.NoError(t, err)

	assert.Equal(t, explicit.RiskScore, omitted.RiskScore)
	assert.Equal(t, explicit.Anomaly, omitted.Anomaly)
}

func TestScoreUnknownUser(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScorer(t)

	_, err := s.Score(ctx, "u_missing", baselineRecord())
	assert.ErrorIs(t, err, artifacts.ErrBundleMissing)
}

func TestScoreMalformedRecord(t *testing.T) {
	ctx := context.Background()
	s, c, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	_, err := s.Score(ctx, "u1", features.Record{"tap_duration": "fast"})
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)

	// A rejected record is not recorded as training signal.
	n, err := c.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScoreAppendsToCorpus(t *testing.T) {
	ctx := context.Background()
	s, c, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	const calls = 5
	anomalies := 0
	for i := 0; i < calls; i++ {
		rec := baselineRecord()
		if i%2 == 0 {
			rec["swipe_velocity"] = 1000.0 // force some anomalous outcomes
		}
		res, err := s.Score(ctx, "u1", rec)
		require.NoError(t, err)
		anomalies += res.Anomaly
	}

	n, err := c.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, calls, n, "every scored record is kept, anomalous or not")
	assert.Greater(t, anomalies, 0)
}

func TestInvalidateDropsCachedBundle(t *testing.T) {
	ctx := context.Background()
	s, _, st := newTestScorer(t)
	publishConstantBundle(t, st, "u1")

	// Prime the cache.
	res, err := s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)
	require.Equal(t, 0, res.Anomaly)

	// Publish a replacement bundle whose threshold flags everything, then
	// confirm the cached version still serves until invalidated.
	replacement, err := artifacts.Load(ctx, st, "u1")
	require.NoError(t, err)
	replacement.Threshold = -1
	require.NoError(t, artifacts.Publish(ctx, st, "u1", replacement))

	res, err = s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Anomaly, "stale cache entry still in effect")

	s.Invalidate("u1")

	res, err = s.Score(ctx, "u1", baselineRecord())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Anomaly, "new bundle version picked up after invalidation")
}
