// Package sequence turns a scaled feature matrix into sequence tensors and
// splits them chronologically.
//
// The scaled matrix is laid out as the feature columns followed by the output
// column. Build slides a window over consecutive rows: sample i covers rows
// i..i+window-1 and its target is the output of row i+window-1. With a window
// of 1 every row is one sample of shape (1, features).
//
// No function in this package shuffles: every split keeps time order.
package sequence

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// DefaultValidationFraction is the share of the training partition held out
// for validation.
const DefaultValidationFraction = 0.2

// Build reshapes scaled into X of shape (N, window, F) and y of shape (N, 1)
// where F is the column count minus the output and N = rows - window + 1.
func Build(scaled mat.Matrix, window int) (X *tensor.Tensor, y *mat.Dense, err error) {
	defer errors.Recover(&err, "sequence.Build")
	if scaled == nil {
		return nil, nil, errors.NewModelError("sequence.Build", "nil matrix", errors.ErrEmptyData)
	}
	if window < 1 {
		return nil, nil, errors.NewValidationError("window", "must be >= 1", window)
	}
	r, c := scaled.Dims()
	if c < 2 {
		return nil, nil, errors.NewDimensionError("sequence.Build", 2, c, 1)
	}
	n := r - window + 1
	if n < 1 {
		return nil, nil, errors.NewModelError("sequence.Build",
			fmt.Sprintf("%d rows cannot fill a window of %d", r, window), errors.ErrInsufficientData)
	}

	nf := c - 1
	data := make([]float64, 0, n*window*nf)
	target := make([]float64, n)
	for i := 0; i < n; i++ {
		for s := 0; s < window; s++ {
			row := i + s
			for f := 0; f < nf; f++ {
				data = append(data, scaled.At(row, f))
			}
		}
		target[i] = scaled.At(i+window-1, nf)
	}

	X, err = tensor.NewTensor(data, n, window, nf)
	if err != nil {
		return nil, nil, err
	}
	return X, mat.NewDense(n, 1, target), nil
}

// Offset is the row index, in the matrix given to Build, of the target of
// sample 0.
func Offset(window int) int {
	if window < 1 {
		return 0
	}
	return window - 1
}

// SplitIndex is the chronological train/test boundary for n rows.
func SplitIndex(n int, ratio float64) int {
	return int(float64(n) * ratio)
}

// ValidationSplit holds out the last int(n*fraction) samples of X and y.
// A fraction that yields no validation sample returns nil val tensors.
func ValidationSplit(X *tensor.Tensor, y *mat.Dense, fraction float64) (trX *tensor.Tensor, trY *mat.Dense, valX *tensor.Tensor, valY *mat.Dense, err error) {
	defer errors.Recover(&err, "sequence.ValidationSplit")
	if fraction < 0 || fraction >= 1 {
		return nil, nil, nil, nil, errors.NewValidationError("validation_fraction", "must be in [0, 1)", fraction)
	}
	n := X.Len()
	if r, _ := y.Dims(); r != n {
		return nil, nil, nil, nil, errors.NewDimensionError("sequence.ValidationSplit", n, r, 0)
	}
	nVal := int(float64(n) * fraction)
	if nVal == 0 {
		return X, y, nil, nil, nil
	}
	if nVal >= n {
		return nil, nil, nil, nil, errors.NewModelError("sequence.ValidationSplit",
			"no training samples left", errors.ErrInsufficientData)
	}
	cut := n - nVal
	if trX, err = X.Slice(0, cut); err != nil {
		return nil, nil, nil, nil, err
	}
	if valX, err = X.Slice(cut, n); err != nil {
		return nil, nil, nil, nil, err
	}
	trY = mat.DenseCopyOf(y.Slice(0, cut, 0, 1))
	valY = mat.DenseCopyOf(y.Slice(cut, n, 0, 1))
	return trX, trY, valX, valY, nil
}

// Fold is one expanding-window cross-validation fold over sample indices.
// Training covers [0, TrainEnd), testing [TrainEnd, TestEnd).
type Fold struct {
	TrainEnd int
	TestEnd  int
}

// TimeSeriesFolds returns k expanding-window folds over n samples. Every test
// block has n/(k+1) samples and the test blocks tile the tail of the series.
func TimeSeriesFolds(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, errors.NewValidationError("folds", "must be >= 2", k)
	}
	size := n / (k + 1)
	if size < 1 {
		return nil, errors.NewValidationError("folds",
			fmt.Sprintf("%d samples cannot be split into %d folds", n, k), n)
	}
	folds := make([]Fold, k)
	start := n - k*size
	for i := range folds {
		folds[i] = Fold{TrainEnd: start + i*size, TestEnd: start + (i+1)*size}
	}
	return folds, nil
}

// Subsample keeps every step-th sample, step = n / limit. Inputs with
// n <= limit are returned as is; for limit < n < 2*limit the step is 1 and
// nothing is dropped.
func Subsample(X *tensor.Tensor, y *mat.Dense, limit int) (*tensor.Tensor, *mat.Dense, error) {
	n := X.Len()
	if limit <= 0 || n <= limit {
		return X, y, nil
	}
	step := n / limit
	idx := make([]int, 0, n/step+1)
	for i := 0; i < n; i += step {
		idx = append(idx, i)
	}
	sx, err := X.Gather(idx)
	if err != nil {
		return nil, nil, err
	}
	sy := mat.NewDense(len(idx), 1, nil)
	for i, j := range idx {
		sy.Set(i, 0, y.At(j, 0))
	}
	return sx, sy, nil
}

// Targets returns column 0 of y as a slice.
func Targets(y mat.Matrix) []float64 {
	return mat.Col(nil, 0, y)
}
