package autoencoder

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultPercentile is the calibration percentile for the decision
// threshold: the top 5% tail of the training error distribution lands
// above it.
const DefaultPercentile = 95.0

// Calibrate returns the value at the given percentile of the error
// distribution, with linear interpolation between ranks.
func Calibrate(errs []float64, pct float64) (float64, error) {
	if len(errs) == 0 {
		return 0, errors.New("no errors to calibrate on")
	}
	if pct <= 0 || pct > 100 {
		return 0, fmt.Errorf("percentile %v out of range (0, 100]", pct)
	}
	for _, e := range errs {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return 0, ErrDiverged
		}
	}

	sorted := make([]float64, len(errs))
	copy(sorted, errs)
	sort.Float64s(sorted)

	rank := float64(len(sorted)-1) * pct / 100.0
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower], nil
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower)), nil
}
