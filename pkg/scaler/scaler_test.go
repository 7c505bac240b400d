package scaler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitApply(t *testing.T) {
	// Two continuous columns and one binary passthrough column.
	data := [][]float64{
		{1, 10, 1},
		{2, 20, 0},
		{3, 30, 1},
	}

	p, err := Fit(data, 2)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, p.Mean[0], 1e-12)
	assert.InDelta(t, 20.0, p.Mean[1], 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), p.Scale[0], 1e-12)
	assert.InDelta(t, 10*math.Sqrt(2.0/3.0), p.Scale[1], 1e-12)

	out, err := p.Apply([]float64{2, 20, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, out[0], 1e-12)
	assert.InDelta(t, 0, out[1], 1e-12)
	assert.Equal(t, 1.0, out[2], "binary column passes through unscaled")

	// Apply must not mutate its input.
	in := []float64{1, 10, 0}
	_, err = p.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 10, 0}, in)
}

func TestFitDegenerateColumn(t *testing.T) {
	data := [][]float64{
		{5, 1},
		{5, 2},
		{5, 3},
	}

	t.Run("default substitutes unit scale", func(t *testing.T) {
		p, err := Fit(data, 2)
		require.NoError(t, err)
		assert.Equal(t, 1.0, p.Scale[0])

		out, err := p.Apply([]float64{5, 2})
		require.NoError(t, err)
		assert.InDelta(t, 0, out[0], 1e-12)
	})

	t.Run("strict mode fails", func(t *testing.T) {
		_, err := Fit(data, 2, WithStrictVariance())
		assert.ErrorIs(t, err, ErrDegenerateColumn)
	})
}

func TestFitValidation(t *testing.T) {
	tests := []struct {
		name        string
		data        [][]float64
		nContinuous int
	}{
		{name: "empty data", data: nil, nContinuous: 1},
		{name: "continuous width negative", data: [][]float64{{1}}, nContinuous: -1},
		{name: "continuous width too wide", data: [][]float64{{1}}, nContinuous: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.data, tt.nContinuous)
			assert.Error(t, err)
		})
	}
}

func TestApplyWidthMismatch(t *testing.T) {
	p := &Params{Mean: []float64{0, 0}, Scale: []float64{1, 1}}
	_, err := p.Apply([]float64{1})
	assert.Error(t, err)
}

func TestApplyMatrix(t *testing.T) {
	p := &Params{Mean: []float64{1}, Scale: []float64{2}}
	out, err := p.ApplyMatrix([][]float64{{3, 1}, {5, 0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}, {2, 0}}, out)
}

func TestMarshalRoundTrip(t *testing.T) {
	data := [][]float64{{1, 0}, {3, 1}}
	p, err := Fit(data, 1)
	require.NoError(t, err)

	raw, err := p.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, p, restored)
}

func TestUnmarshalInconsistent(t *testing.T) {
	_, err := Unmarshal([]byte(`{"mean":[1,2],"scale":[1]}`))
	assert.Error(t, err)
}
