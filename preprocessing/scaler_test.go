package preprocessing_test

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/preprocessing"
)

const epsilon = 1e-10 // Tolerance for floating-point comparisons

func TestStandardScaler_BasicFunctionality(t *testing.T) {
	// Feature 1: [1, 2, 3] -> mean=2, std=0.816
	// Feature 2: [4, 5, 6] -> mean=5, std=0.816
	X := mat.NewDense(3, 2, []float64{
		1.0, 4.0,
		2.0, 5.0,
		3.0, 6.0,
	})

	scaler := preprocessing.NewStandardScalerDefault()
	require.NoError(t, scaler.Fit(X))

	assert.InDeltaSlice(t, []float64{2, 5}, scaler.Mean, epsilon)
	assert.InDeltaSlice(t, []float64{0.816496580927726, 0.816496580927726}, scaler.Scale, epsilon)

	scaled, err := scaler.Transform(X)
	require.NoError(t, err)
	want := []float64{
		-1.224744871391589, -1.224744871391589,
		0.0, 0.0,
		1.224744871391589, 1.224744871391589,
	}
	assert.InDeltaSlice(t, want, scaled.RawMatrix().Data, epsilon)
}

func TestStandardScaler_WithoutMeanOrStd(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{2, 4})

	noMean := preprocessing.NewStandardScaler(false, true)
	got, err := noMean.FitTransform(X)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.At(0, 0), epsilon)
	assert.InDelta(t, 4.0, got.At(1, 0), epsilon)

	noStd := preprocessing.NewStandardScaler(true, false)
	got, err = noStd.FitTransform(X)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got.At(0, 0), epsilon)
	assert.InDelta(t, 1.0, got.At(1, 0), epsilon)
}

func TestStandardScaler_ConstantFeature(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{5, 5, 5})
	scaler := preprocessing.NewStandardScalerDefault()
	got, err := scaler.FitTransform(X)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scaler.Scale[0])
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, got.At(i, 0))
	}
}

func TestMinMaxScaler_BasicFunctionality(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
	})
	scaler := preprocessing.NewMinMaxScalerDefault()
	got, err := scaler.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 10}, scaler.DataMin)
	assert.Equal(t, []float64{3, 30}, scaler.DataMax)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5, 0.5, 1, 1}, got.RawMatrix().Data, epsilon)
}

func TestMinMaxScaler_OutOfRangeNotClamped(t *testing.T) {
	scaler := preprocessing.NewMinMaxScalerDefault()
	require.NoError(t, scaler.Fit(mat.NewDense(2, 1, []float64{0, 10})))

	got, err := scaler.Transform(mat.NewDense(2, 1, []float64{-5, 20}))
	require.NoError(t, err)
	assert.InDelta(t, -0.5, got.At(0, 0), epsilon)
	assert.InDelta(t, 2.0, got.At(1, 0), epsilon)
}

func TestMinMaxScaler_ConstantFeature(t *testing.T) {
	scaler := preprocessing.NewMinMaxScalerDefault()
	got, err := scaler.FitTransform(mat.NewDense(3, 1, []float64{7, 7, 7}))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, got.At(i, 0))
	}
}

func TestScalers_InverseRoundTrip(t *testing.T) {
	X := mat.NewDense(4, 3, []float64{
		1.5, -2, 100,
		3.25, 0, 120,
		-4, 8, 95,
		0, 1, 101,
	})
	for name, s := range map[string]preprocessing.Scaler{
		"minmax":   preprocessing.NewMinMaxScalerDefault(),
		"standard": preprocessing.NewStandardScalerDefault(),
		"range":    preprocessing.NewMinMaxScaler([2]float64{-1, 1}),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Fit(X))
			scaled, err := s.Transform(X)
			require.NoError(t, err)
			back, err := s.InverseTransform(scaled)
			require.NoError(t, err)
			assert.True(t, mat.EqualApprox(X, back, 1e-9))
		})
	}
}

func TestScalers_ErrorCases(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	for name, s := range map[string]preprocessing.Scaler{
		"minmax":   preprocessing.NewMinMaxScalerDefault(),
		"standard": preprocessing.NewStandardScalerDefault(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Transform(X)
			assert.True(t, errors.Is(err, errors.ErrNotFitted))
			_, err = s.InverseTransform(X)
			assert.True(t, errors.Is(err, errors.ErrNotFitted))

			require.NoError(t, s.Fit(X))
			_, err = s.Transform(mat.NewDense(2, 3, nil))
			assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))

			err = s.Fit(&mat.Dense{})
			assert.True(t, errors.Is(err, errors.ErrEmptyData))
		})
	}

	bad := preprocessing.NewMinMaxScaler([2]float64{1, 1})
	assert.True(t, errors.Is(bad.Fit(X), errors.ErrInvalidInput))
}

func TestScalers_GetParamsAndString(t *testing.T) {
	s := preprocessing.NewStandardScaler(true, false)
	assert.Equal(t, map[string]interface{}{"with_mean": true, "with_std": false}, s.GetParams())
	assert.Equal(t, "StandardScaler(with_mean=true, with_std=false)", s.String())

	m := preprocessing.NewMinMaxScalerDefault()
	assert.Equal(t, "MinMaxScaler(feature_range=[0.0, 1.0])", m.String())
	require.NoError(t, m.Fit(mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})))
	assert.Equal(t, "MinMaxScaler(feature_range=[0.0, 1.0], n_features=3)", m.String())
}

func stateTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.FromColumns(
		[]string{"Discharge", "Rainfall_Lag_1", "Discharge_Lag_1"},
		[][]float64{{10, 20, 30, 40}, {0, 1, 2, 4}, {5, 10, 20, 30}},
	)
	require.NoError(t, err)
	return tbl
}

func TestScalerState_LayoutOutputLast(t *testing.T) {
	tbl := stateTable(t)
	features := []string{"Rainfall_Lag_1", "Discharge_Lag_1"}

	state, err := preprocessing.FitState(tbl, features, "Discharge", preprocessing.KindMinMax)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rainfall_Lag_1", "Discharge_Lag_1", "Discharge"}, state.Columns())
	assert.Equal(t, 2, state.NumFeatures())

	scaled, err := state.Transform(tbl)
	require.NoError(t, err)
	r, c := scaled.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	// output is the last column
	assert.InDeltaSlice(t, []float64{0, 1.0 / 3, 2.0 / 3, 1}, mat.Col(nil, 2, scaled), epsilon)

	back, err := state.InverseTransform(scaled)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 20, 30, 40}, mat.Col(nil, 2, back), 1e-9)

	q, err := state.InverseOutput(mat.Col(nil, 2, scaled))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 20, 30, 40}, q, 1e-9)

	spread, err := state.InverseOutputSpread([]float64{0.1})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, spread[0], 1e-9)
}

func TestScalerState_Errors(t *testing.T) {
	tbl := stateTable(t)

	_, err := preprocessing.FitState(tbl, []string{"Evaporation"}, "Discharge", preprocessing.KindMinMax)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = preprocessing.FitState(tbl, []string{"Rainfall_Lag_1"}, "Discharge", "robust")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	var empty preprocessing.ScalerState
	_, err = empty.Transform(tbl)
	assert.True(t, errors.Is(err, errors.ErrNotFitted))
	_, err = empty.InverseOutput([]float64{1})
	assert.True(t, errors.Is(err, errors.ErrNotFitted))

	k, err := preprocessing.ParseScalerKind("Standard")
	require.NoError(t, err)
	assert.Equal(t, preprocessing.KindStandard, k)
}

func TestScalerState_Serialisable(t *testing.T) {
	tbl := stateTable(t)
	state, err := preprocessing.FitState(tbl, []string{"Rainfall_Lag_1"}, "Discharge", preprocessing.KindStandard)
	require.NoError(t, err)
	want, err := state.Transform(tbl)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(state))
	var fromGob preprocessing.ScalerState
	require.NoError(t, gob.NewDecoder(&buf).Decode(&fromGob))

	raw, err := json.Marshal(state)
	require.NoError(t, err)
	var fromJSON preprocessing.ScalerState
	require.NoError(t, json.Unmarshal(raw, &fromJSON))

	for _, s := range []*preprocessing.ScalerState{&fromGob, &fromJSON} {
		got, err := s.Transform(tbl)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, got, 1e-12))
		assert.False(t, math.IsNaN(got.At(0, 0)))
	}
}
