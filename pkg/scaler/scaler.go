// Package scaler provides per-feature standardization for continuous
// feature columns. Parameters are fit once per retrain and frozen; binary
// columns beyond the continuous prefix pass through unscaled.
package scaler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ErrDegenerateColumn indicates a continuous column had zero variance during
// fit while strict variance checking was enabled.
var ErrDegenerateColumn = errors.New("degenerate column")

// Params holds the frozen standardization parameters for the continuous
// prefix of a feature vector.
type Params struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Option configures a fit.
type Option func(*fitConfig)

type fitConfig struct {
	strict bool
	logger *zap.Logger
}

// WithStrictVariance makes Fit fail with ErrDegenerateColumn on a
// zero-variance column instead of substituting a unit scale.
func WithStrictVariance() Option {
	return func(c *fitConfig) {
		c.strict = true
	}
}

// WithLogger sets the logger used to report degenerate columns.
func WithLogger(logger *zap.Logger) Option {
	return func(c *fitConfig) {
		c.logger = logger
	}
}

// Fit computes per-column mean and standard deviation over the first
// nContinuous columns of the batch. A zero-variance column gets scale 1.0,
// so it standardizes to zero deviation; strict mode errors instead.
func Fit(data [][]float64, nContinuous int, opts ...Option) (*Params, error) {
	cfg := fitConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(data) == 0 {
		return nil, errors.New("empty training data")
	}
	if nContinuous < 0 || nContinuous > len(data[0]) {
		return nil, fmt.Errorf("continuous width %d out of range for row width %d", nContinuous, len(data[0]))
	}

	p := &Params{
		Mean:  make([]float64, nContinuous),
		Scale: make([]float64, nContinuous),
	}

	n := float64(len(data))
	for col := 0; col < nContinuous; col++ {
		var sum float64
		for _, row := range data {
			sum += row[col]
		}
		mean := sum / n

		var variance float64
		for _, row := range data {
			d := row[col] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / n)

		if std == 0 {
			if cfg.strict {
				return nil, fmt.Errorf("%w: column %d has zero variance", ErrDegenerateColumn, col)
			}
			cfg.logger.Warn("zero-variance column, using unit scale", zap.Int("column", col))
			std = 1.0
		}

		p.Mean[col] = mean
		p.Scale[col] = std
	}

	return p, nil
}

// Apply standardizes the continuous prefix of a raw vector and copies the
// remainder through unchanged. The input is not mutated.
func (p *Params) Apply(vec []float64) ([]float64, error) {
	if len(vec) < len(p.Mean) {
		return nil, fmt.Errorf("vector width %d shorter than continuous width %d", len(vec), len(p.Mean))
	}

	out := make([]float64, len(vec))
	for i := range vec {
		if i < len(p.Mean) {
			out[i] = (vec[i] - p.Mean[i]) / p.Scale[i]
		} else {
			out[i] = vec[i]
		}
	}
	return out, nil
}

// ApplyMatrix standardizes every row of a batch.
func (p *Params) ApplyMatrix(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		scaled, err := p.Apply(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Marshal serializes the parameters for artifact storage.
func (p *Params) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal restores parameters from artifact storage.
func Unmarshal(data []byte) (*Params, error) {
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if len(p.Mean) != len(p.Scale) {
		return nil, errors.New("scaler params: mean and scale widths differ")
	}
	return &p, nil
}
