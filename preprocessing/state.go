package preprocessing

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/pkg/log"
)

// ScalerKind selects the scaler behind a ScalerState.
type ScalerKind string

const (
	KindMinMax   ScalerKind = "minmax"
	KindStandard ScalerKind = "standard"
)

// ParseScalerKind accepts "minmax" (or "min_max") and "standard".
func ParseScalerKind(s string) (ScalerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minmax", "min_max":
		return KindMinMax, nil
	case "standard", "zscore":
		return KindStandard, nil
	}
	return "", errors.NewValidationError("scaler", "unknown scaler", s)
}

// ScalerState is a scaler fitted once on the training partition together with
// the column layout it was fitted on: the feature columns in FeatureSet order
// followed by the output column. It is not modified after FitState.
type ScalerState struct {
	Kind     ScalerKind
	Features []string
	Output   string

	// Exactly one of MinMax / Standard is set.
	MinMax   *MinMaxScaler   `json:",omitempty"`
	Standard *StandardScaler `json:",omitempty"`
}

// FitState fits a scaler of the given kind on the features ++ [output] columns
// of t.
//
// Example:
//
//	state, err := preprocessing.FitState(train, res.Features, "Discharge", preprocessing.KindMinMax)
//	scaled, err := state.Transform(test)
func FitState(t *dataset.Table, features []string, output string, kind ScalerKind) (_ *ScalerState, err error) {
	defer errors.Recover(&err, "preprocessing.FitState")
	if kind == "" {
		kind = KindMinMax
	}
	s := &ScalerState{
		Kind:     kind,
		Features: append([]string{}, features...),
		Output:   output,
	}
	X, err := s.matrix(t)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindMinMax:
		s.MinMax = NewMinMaxScalerDefault()
	case KindStandard:
		s.Standard = NewStandardScalerDefault()
	default:
		return nil, errors.NewValidationError("scaler", "unknown scaler", kind)
	}
	if err := s.scaler().Fit(X); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	log.GetLoggerWithName("preprocessing").Debug("Scaler fitted",
		log.OperationKey, log.OperationFit,
		"scaler", string(kind),
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)
	return s, nil
}

// Columns returns the fitted layout, output last.
func (s *ScalerState) Columns() []string {
	return append(append([]string{}, s.Features...), s.Output)
}

// NumFeatures is the number of feature columns, excluding the output.
func (s *ScalerState) NumFeatures() int { return len(s.Features) }

// IsFitted reports whether the state holds a fitted scaler.
func (s *ScalerState) IsFitted() bool {
	sc := s.scaler()
	return sc != nil && sc.IsFitted()
}

// Transform extracts the layout columns of t and scales them.
func (s *ScalerState) Transform(t *dataset.Table) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "ScalerState.Transform")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("ScalerState", "Transform")
	}
	X, err := s.matrix(t)
	if err != nil {
		return nil, err
	}
	return s.scaler().Transform(X)
}

// TransformMatrix scales a matrix already laid out as Columns().
func (s *ScalerState) TransformMatrix(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "ScalerState.TransformMatrix")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("ScalerState", "TransformMatrix")
	}
	return s.scaler().Transform(X)
}

// InverseTransform maps a scaled Columns() matrix back to original units.
func (s *ScalerState) InverseTransform(X mat.Matrix) (_ *mat.Dense, err error) {
	defer errors.Recover(&err, "ScalerState.InverseTransform")
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("ScalerState", "InverseTransform")
	}
	return s.scaler().InverseTransform(X)
}

// InverseOutput de-scales values of the output column only. It is used on
// predicted means. Standard deviations must go through InverseOutputSpread.
func (s *ScalerState) InverseOutput(v []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("ScalerState", "InverseOutput")
	}
	j := len(s.Features)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = s.inverseAt(j, x)
	}
	return out, nil
}

// InverseOutputSpread rescales a spread (std) of the output column: the
// offset is dropped and only the scale factor applies.
func (s *ScalerState) InverseOutputSpread(v []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("ScalerState", "InverseOutputSpread")
	}
	j := len(s.Features)
	zero := s.inverseAt(j, 0)
	one := s.inverseAt(j, 1)
	factor := one - zero
	if factor < 0 {
		factor = -factor
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * factor
	}
	return out, nil
}

func (s *ScalerState) inverseAt(j int, v float64) float64 {
	if s.MinMax != nil {
		return s.MinMax.inverseColumn(j, v)
	}
	return s.Standard.inverseColumn(j, v)
}

func (s *ScalerState) scaler() Scaler {
	switch {
	case s.MinMax != nil:
		return s.MinMax
	case s.Standard != nil:
		return s.Standard
	}
	return nil
}

// matrix lays the Columns() of t out row-major.
func (s *ScalerState) matrix(t *dataset.Table) (*mat.Dense, error) {
	if t == nil || t.Len() == 0 {
		return nil, errors.NewModelError("ScalerState", "empty table", errors.ErrEmptyData)
	}
	cols := s.Columns()
	X := mat.NewDense(t.Len(), len(cols), nil)
	for j, name := range cols {
		col, ok := t.Column(name)
		if !ok {
			return nil, errors.NewValueError("ScalerState", "column not found: "+name)
		}
		X.SetCol(j, col)
	}
	return X, nil
}
