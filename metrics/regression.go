// Package metrics provides goodness-of-fit scores for streamflow predictions.
//
// General regression metrics:
//   - MSE / RMSE: squared error, RMSE in the units of the target
//   - MAE: mean absolute error
//   - R²: coefficient of determination
//   - MAPE: mean absolute percentage error over non-zero actuals
//
// Hydrology metrics:
//   - NSE: Nash–Sutcliffe Efficiency
//   - KGE: Kling–Gupta Efficiency
//   - PBIAS: percent bias
//   - Peak flow error, high/low flow bias and volume error
//
// Every metric takes the actual values first and the predictions second:
//
//	nse, err := metrics.NSE(actual, predicted)
//
// Metrics are also available by display name through Lookup, which is how
// evaluation tables are built from a user selection.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/pkg/errors"
)

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewModelError(op, "empty vector", errors.ErrEmptyData)
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// values returns a copy of v's elements.
func values(v *mat.VecDense) []float64 {
	return mat.Col(nil, 0, v)
}

func isConstant(a []float64) bool {
	for _, v := range a[1:] {
		if v != a[0] {
			return false
		}
	}
	return true
}

// MSE calculates the Mean Squared Error between true and predicted values.
//
// Parameters:
//   - yTrue: True target values as a vector
//   - yPred: Predicted values as a vector
//
// Returns:
//   - float64: MSE value (non-negative)
//   - error: nil if successful, otherwise an error describing the failure
//
// Errors:
//   - ErrEmptyData: if input vectors are empty
//   - ErrDimensionMismatch: if yTrue and yPred have different lengths
//
// Example:
//
//	mse, err := metrics.MSE(yTrue, yPred)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("MSE: %.4f\n", mse)
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}

	return sum / float64(n), nil
}

// RMSE calculates the Root Mean Squared Error, in the units of the target.
//
// Example:
//
//	rmse, err := metrics.RMSE(yTrue, yPred)
//	fmt.Printf("RMSE: %.4f\n", rmse)
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE calculates the Mean Absolute Error between true and predicted values.
//
// MAE is more robust to outliers than MSE as it doesn't square the differences.
//
// Errors:
//   - ErrEmptyData: if input vectors are empty
//   - ErrDimensionMismatch: if yTrue and yPred have different lengths
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MAE = (1/n) * Σ|yTrue - yPred|
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(yTrue.AtVec(i) - yPred.AtVec(i))
	}

	return sum / float64(n), nil
}

// R2Score calculates the coefficient of determination (R²) score.
//
// R² represents the proportion of variance in the target variable that is
// predictable from the input features. 1 indicates perfect predictions, 0
// indicates predictions no better than the mean.
//
// Errors:
//   - ErrEmptyData: if input vectors are empty
//   - ErrDimensionMismatch: if yTrue and yPred have different lengths
//   - ErrInvalidInput: if all yTrue values are identical (no variance)
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	yMean := stat.Mean(values(yTrue), nil)

	var tss, rss float64
	for i := 0; i < n; i++ {
		a := yTrue.AtVec(i)
		p := yPred.AtVec(i)
		tss += (a - yMean) * (a - yMean)
		rss += (a - p) * (a - p)
	}

	if tss == 0 || isConstant(values(yTrue)) {
		return 0, errors.NewValueError("R2Score", "total sum of squares is zero (no variance in yTrue)")
	}

	// R² = 1 - RSS/TSS
	return 1 - rss/tss, nil
}

// MAPE calculates the Mean Absolute Percentage Error over non-zero actuals.
//
// Samples whose actual value is zero are skipped. An error is returned when
// every actual value is zero.
//
// Example:
//
//	mape, err := metrics.MAPE(yTrue, yPred)
//	fmt.Printf("MAPE: %.2f%%\n", mape)
func MAPE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MAPE", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	// MAPE = (100/n) * Σ|yTrue - yPred|/|yTrue|
	var sum float64
	validCount := 0
	for i := 0; i < n; i++ {
		a := yTrue.AtVec(i)
		if a != 0 {
			sum += math.Abs(a-yPred.AtVec(i)) / math.Abs(a)
			validCount++
		}
	}

	if validCount == 0 {
		return 0, errors.NewValueError("MAPE", "all yTrue values are zero")
	}

	return (sum / float64(validCount)) * 100, nil
}
