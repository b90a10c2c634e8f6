package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/metrics"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// FillMissing returns a copy of col with NaN values filled per policy.
// A column with no observed value becomes all zeros.
func FillMissing(col []float64, policy MissingPolicy) ([]float64, error) {
	out := append([]float64{}, col...)
	observed := finite(out)
	if len(observed) == 0 {
		for i := range out {
			out[i] = 0
		}
		return out, nil
	}
	if len(observed) == len(out) {
		return out, nil
	}

	switch policy {
	case MissingMedian, "":
		fillConst(out, metrics.Percentile(observed, 50))
	case MissingMean:
		fillConst(out, stat.Mean(observed, nil))
	case MissingForward:
		forwardFill(out)
		backwardFill(out)
	case MissingBackward:
		backwardFill(out)
		forwardFill(out)
	default:
		return nil, errors.NewValueError("features.FillMissing", "unknown missing-value policy "+string(policy))
	}
	return out, nil
}

func finite(col []float64) []float64 {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func fillConst(col []float64, v float64) {
	for i := range col {
		if math.IsNaN(col[i]) {
			col[i] = v
		}
	}
}

func forwardFill(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
}

func backwardFill(col []float64) {
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
}

// ReplaceOutliers returns a copy of col where values whose population z-score
// exceeds threshold are replaced by the column median. Columns with a
// standard deviation below 1e-12 are returned unchanged. The second result is
// the number of replaced values.
func ReplaceOutliers(col []float64, threshold float64) ([]float64, int) {
	out := append([]float64{}, col...)
	observed := finite(out)
	if len(observed) < 2 {
		return out, 0
	}

	mean, std := stat.PopMeanStdDev(observed, nil)
	if std < 1e-12 {
		return out, 0
	}
	median := metrics.Percentile(observed, 50)

	replaced := 0
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if math.Abs((v-mean)/std) > threshold {
			out[i] = median
			replaced++
		}
	}
	return out, replaced
}
