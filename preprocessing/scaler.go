// Package preprocessing scales feature matrices before they are reshaped into
// sequences.
//
// Two column-wise scalers are provided:
//
//   - MinMaxScaler: maps each column onto a target range, [0, 1] by default
//   - StandardScaler: removes the mean and divides by the population std
//
// Both follow the Fit / Transform / FitTransform / InverseTransform pattern
// and embed model.BaseEstimator, so a fitted scaler can be gob or JSON
// encoded as a whole. ScalerState binds a fitted scaler to the fixed column
// layout of a session (feature columns followed by the output column).
//
// Example usage:
//
//	scaler := preprocessing.NewMinMaxScalerDefault()
//	if err := scaler.Fit(train); err != nil {
//		return err
//	}
//	scaled, err := scaler.Transform(test)
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ezoic/hydrocast/core/model"
	"github.com/ezoic/hydrocast/pkg/errors"
)

// Scaler is a fitted column-wise transformation.
type Scaler interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (*mat.Dense, error)
	InverseTransform(X mat.Matrix) (*mat.Dense, error)
	IsFitted() bool
}

// 定数列とみなす範囲
const constantTolerance = 1e-8

// StandardScaler は列ごとに平均0、標準偏差1に変換する
type StandardScaler struct {
	model.BaseEstimator

	// Mean は各列の平均値
	Mean []float64

	// Scale は各列の母標準偏差。定数列は1
	Scale []float64

	NFeatures int

	WithMean bool
	WithStd  bool
}

// NewStandardScaler creates a StandardScaler.
//
// Parameters:
//   - withMean: subtract the column mean
//   - withStd: divide by the column standard deviation
//
// Example:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	scaled, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	s := &StandardScaler{WithMean: withMean, WithStd: withStd}
	s.ModelType = "StandardScaler"
	return s
}

// NewStandardScalerDefault centres and scales.
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit computes the column means and standard deviations of X.
//
// Errors:
//   - ErrEmptyData: if X has no rows or no columns
func (s *StandardScaler) Fit(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "StandardScaler.Fit")
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			if std := math.Sqrt(variance); std >= constantTolerance {
				s.Scale[j] = std
			}
		}
	}

	s.SetFitted()
	return nil
}

// Transform applies (X - mean) / scale.
//
// Errors:
//   - ErrNotFitted: if Fit has not been called
//   - ErrDimensionMismatch: if X has a different column count than at Fit
func (s *StandardScaler) Transform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "StandardScaler.Transform")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}
	return apply(X, s.NFeatures, "StandardScaler.Transform", func(j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// FitTransform fits on X and returns X transformed.
func (s *StandardScaler) FitTransform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "StandardScaler.FitTransform")
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform applies X*scale + mean.
func (s *StandardScaler) InverseTransform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "StandardScaler.InverseTransform")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "InverseTransform")
	}
	return apply(X, s.NFeatures, "StandardScaler.InverseTransform", s.inverseColumn)
}

func (s *StandardScaler) inverseColumn(j int, v float64) float64 {
	return v*s.Scale[j] + s.Mean[j]
}

// GetParams returns the constructor parameters.
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures)
}

// MinMaxScaler maps each column of the training data onto FeatureRange.
// Values outside the training range map outside FeatureRange; they are not
// clamped.
type MinMaxScaler struct {
	model.BaseEstimator

	// DataMin / DataMax は学習データの列ごとの最小値・最大値
	DataMin []float64
	DataMax []float64

	// Scale は (max - min)。定数列は1
	Scale []float64

	NFeatures int

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler creates a MinMaxScaler with the given target range.
//
// The transformation is
//
//	X_scaled = (X - data_min) / (data_max - data_min) * (hi - lo) + lo
//
// Example:
//
//	scaler := preprocessing.NewMinMaxScaler([2]float64{-1, 1})
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	m := &MinMaxScaler{FeatureRange: featureRange}
	m.ModelType = "MinMaxScaler"
	return m
}

// NewMinMaxScalerDefault scales to [0, 1].
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0, 1})
}

// Fit records the per-column minimum and maximum of X.
//
// Errors:
//   - ErrEmptyData: if X has no rows or no columns
//   - ErrInvalidInput: if the target range is empty
func (m *MinMaxScaler) Fit(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "MinMaxScaler.Fit")
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MinMaxScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if !(m.FeatureRange[1] > m.FeatureRange[0]) {
		return errors.NewValidationError("feature_range", "max must exceed min", m.FeatureRange)
	}

	m.NFeatures = c
	m.DataMin = make([]float64, c)
	m.DataMax = make([]float64, c)
	m.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		lo, hi := floats.Min(col), floats.Max(col)
		m.DataMin[j], m.DataMax[j] = lo, hi
		m.Scale[j] = hi - lo
		if math.Abs(m.Scale[j]) < constantTolerance {
			m.Scale[j] = 1
		}
	}

	m.SetFitted()
	return nil
}

// Transform scales X onto FeatureRange using the fitted statistics.
//
// Errors:
//   - ErrNotFitted: if Fit has not been called
//   - ErrDimensionMismatch: if X has a different column count than at Fit
func (m *MinMaxScaler) Transform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "MinMaxScaler.Transform")
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MinMaxScaler", "Transform")
	}
	width := m.FeatureRange[1] - m.FeatureRange[0]
	return apply(X, m.NFeatures, "MinMaxScaler.Transform", func(j int, v float64) float64 {
		return (v-m.DataMin[j])/m.Scale[j]*width + m.FeatureRange[0]
	})
}

// FitTransform fits on X and returns X scaled.
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "MinMaxScaler.FitTransform")
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform maps scaled values back to the original units.
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "MinMaxScaler.InverseTransform")
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MinMaxScaler", "InverseTransform")
	}
	return apply(X, m.NFeatures, "MinMaxScaler.InverseTransform", m.inverseColumn)
}

func (m *MinMaxScaler) inverseColumn(j int, v float64) float64 {
	width := m.FeatureRange[1] - m.FeatureRange[0]
	return (v-m.FeatureRange[0])/width*m.Scale[j] + m.DataMin[j]
}

// GetParams returns the constructor parameters.
func (m *MinMaxScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"feature_range": m.FeatureRange,
	}
}

func (m *MinMaxScaler) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f])",
			m.FeatureRange[0], m.FeatureRange[1])
	}
	return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f], n_features=%d)",
		m.FeatureRange[0], m.FeatureRange[1], m.NFeatures)
}

// apply は列インデックス付きで要素ごとに fn を適用した新しい行列を返す
func apply(X mat.Matrix, nFeatures int, op string, fn func(j int, v float64) float64) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != nFeatures {
		return nil, errors.NewDimensionError(op, nFeatures, c, 1)
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 { return fn(j, v) }, X)
	return out, nil
}
