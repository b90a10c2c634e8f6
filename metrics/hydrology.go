package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// NSE calculates the Nash–Sutcliffe Efficiency.
//
// NSE = 1 − Σ(a−p)² / Σ(a−mean(a))²
//
// A perfect predictor scores exactly 1, a predictor that always returns the
// mean of the actual values scores 0, and worse predictors are negative.
//
// Errors:
//   - ErrEmptyData: if input vectors are empty
//   - ErrDimensionMismatch: if lengths differ
//   - ErrInvalidInput: if the actual values have no variance
//
// Example:
//
//	nse, err := metrics.NSE(actual, predicted)
//	if err != nil {
//	    return err
//	}
func NSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("NSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	a := values(yTrue)
	if isConstant(a) {
		return 0, errors.NewValueError("NSE", "actual values have zero variance")
	}
	mean := stat.Mean(a, nil)

	var num, den float64
	for i := 0; i < n; i++ {
		d := a[i] - yPred.AtVec(i)
		num += d * d
		m := a[i] - mean
		den += m * m
	}
	return 1 - num/den, nil
}

// KGE calculates the Kling–Gupta Efficiency.
//
// KGE = 1 − sqrt((r−1)² + (α−1)² + (β−1)²) where r is the Pearson
// correlation, α = std(p)/std(a) and β = mean(p)/mean(a). Standard deviations
// are population standard deviations. A perfect predictor scores 1.
func KGE(yTrue, yPred *mat.VecDense) (float64, error) {
	_, err := checkPair("KGE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	a := values(yTrue)
	p := values(yPred)

	if isConstant(a) {
		return 0, errors.NewValueError("KGE", "actual values have zero variance")
	}
	if isConstant(p) {
		return 0, errors.NewValueError("KGE", "predictions have zero variance, correlation undefined")
	}

	meanA, stdA := stat.PopMeanStdDev(a, nil)
	meanP, stdP := stat.PopMeanStdDev(p, nil)
	if meanA == 0 {
		return 0, errors.NewValueError("KGE", "mean of actual values is zero")
	}

	r := stat.Correlation(a, p, nil)
	if floats.Equal(a, p) {
		// identical series have r = 1
		r = 1
	}
	alpha := stdP / stdA
	beta := meanP / meanA

	return 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1)), nil
}

// PBias calculates the percent bias 100 × Σ(p−a) / Σ(a).
// Positive values indicate overestimation.
func PBias(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("PBIAS", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	var diff, sumA float64
	for i := 0; i < n; i++ {
		diff += yPred.AtVec(i) - yTrue.AtVec(i)
		sumA += yTrue.AtVec(i)
	}
	if sumA == 0 {
		return 0, errors.NewValueError("PBIAS", "sum of actual values is zero")
	}
	return 100 * diff / sumA, nil
}

// PeakFlowError calculates (max(p) − max(a)) / max(a) × 100.
// Returns 0 when max(a) is 0.
func PeakFlowError(yTrue, yPred *mat.VecDense) (float64, error) {
	if _, err := checkPair("PeakFlowError", yTrue, yPred); err != nil {
		return 0, err
	}

	maxA := mat.Max(yTrue)
	if maxA == 0 {
		return 0, nil
	}
	return (mat.Max(yPred) - maxA) / maxA * 100, nil
}

// VolumeError calculates 100 × (Σp − Σa) / Σa.
func VolumeError(yTrue, yPred *mat.VecDense) (float64, error) {
	if _, err := checkPair("VolumeError", yTrue, yPred); err != nil {
		return 0, err
	}

	sumA := mat.Sum(yTrue)
	if sumA == 0 {
		return 0, errors.NewValueError("VolumeError", "total actual volume is zero")
	}
	return 100 * (mat.Sum(yPred) - sumA) / sumA, nil
}

// HighFlowBias is the percent bias over samples whose actual value is at or
// above the 90th percentile of the actual values.
func HighFlowBias(yTrue, yPred *mat.VecDense) (float64, error) {
	return conditionedBias("HighFlowBias", yTrue, yPred, 90, true)
}

// LowFlowBias is the percent bias over samples whose actual value is at or
// below the 10th percentile of the actual values.
func LowFlowBias(yTrue, yPred *mat.VecDense) (float64, error) {
	return conditionedBias("LowFlowBias", yTrue, yPred, 10, false)
}

func conditionedBias(op string, yTrue, yPred *mat.VecDense, pct float64, above bool) (float64, error) {
	n, err := checkPair(op, yTrue, yPred)
	if err != nil {
		return 0, err
	}

	a := values(yTrue)
	threshold := Percentile(a, pct)

	var diff, sumA float64
	for i := 0; i < n; i++ {
		in := a[i] <= threshold
		if above {
			in = a[i] >= threshold
		}
		if !in {
			continue
		}
		diff += yPred.AtVec(i) - a[i]
		sumA += a[i]
	}
	if sumA == 0 {
		return 0, errors.NewValueError(op, "sum of selected actual values is zero")
	}
	return 100 * diff / sumA, nil
}

// Percentile returns the p-th percentile (0 <= p <= 100) of x using linear
// interpolation between closest ranks.
func Percentile(x []float64, p float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	cp := append([]float64{}, x...)
	sort.Float64s(cp)
	if p <= 0 {
		return cp[0]
	}
	if p >= 100 {
		return cp[n-1]
	}
	rank := p / 100 * float64(n-1)
	lower := int(rank)
	upper := lower + 1
	weight := rank - float64(lower)
	if upper >= n {
		return cp[lower]
	}
	return cp[lower]*(1-weight) + cp[upper]*weight
}
