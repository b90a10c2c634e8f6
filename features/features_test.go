package features_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezoic/hydrocast/dataset"
	"github.com/ezoic/hydrocast/features"
	"github.com/ezoic/hydrocast/pkg/errors"
)

const epsilon = 1e-9

func seriesTable(t *testing.T, n int) *dataset.Table {
	t.Helper()
	rain := make([]float64, n)
	flow := make([]float64, n)
	for i := 0; i < n; i++ {
		rain[i] = float64(i % 7)
		flow[i] = 10 + float64(i)
	}
	tbl, err := dataset.FromColumns([]string{"Rainfall", "Discharge"}, [][]float64{rain, flow})
	require.NoError(t, err)
	return tbl
}

func baseOptions() features.Options {
	return features.Options{
		Inputs:  []string{"Rainfall"},
		Output:  "Discharge",
		Lags:    3,
		Missing: features.MissingMedian,
	}
}

func TestPreprocessRowCountAndOrder(t *testing.T) {
	tbl := seriesTable(t, 100)
	res := features.Preprocess(tbl, baseOptions())
	require.NoError(t, res.Degraded)

	assert.Equal(t, 97, res.Table.Len())
	assert.Equal(t, []string{
		"Rainfall_Lag_1", "Rainfall_Lag_2", "Rainfall_Lag_3",
		"Discharge_Lag_1", "Discharge_Lag_2", "Discharge_Lag_3",
	}, res.Features)

	// first kept row is original row 3
	q, _ := res.Table.Column("Discharge")
	lag1, _ := res.Table.Column("Discharge_Lag_1")
	lag3, _ := res.Table.Column("Discharge_Lag_3")
	assert.Equal(t, 13.0, q[0])
	assert.Equal(t, 12.0, lag1[0])
	assert.Equal(t, 10.0, lag3[0])
}

func TestPreprocessStaticInput(t *testing.T) {
	tbl := seriesTable(t, 10)
	require.NoError(t, tbl.SetColumn("Area", []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}))

	opts := baseOptions()
	opts.Inputs = []string{"Area", "Rainfall"}
	opts.Kinds = map[string]features.VarKind{"Area": features.Static}
	opts.Lags = 2

	res := features.Preprocess(tbl, opts)
	require.NoError(t, res.Degraded)
	assert.Equal(t, []string{"Area", "Rainfall_Lag_1", "Rainfall_Lag_2", "Discharge_Lag_1", "Discharge_Lag_2"}, res.Features)
	assert.Equal(t, 8, res.Table.Len())
}

func TestPreprocessDegradesOnMissingColumn(t *testing.T) {
	tbl := seriesTable(t, 10)
	opts := baseOptions()
	opts.Inputs = []string{"Evaporation"}

	res := features.Preprocess(tbl, opts)
	require.Error(t, res.Degraded)
	assert.Same(t, tbl, res.Table)
	assert.Equal(t, []string{"Evaporation"}, res.Features)
}

func TestPreprocessZeroVarianceOutliers(t *testing.T) {
	tbl := seriesTable(t, 20)
	require.NoError(t, tbl.SetColumn("Rainfall", make([]float64, 20)))

	opts := baseOptions()
	opts.RemoveOutliers = true
	opts.OutlierThreshold = 3

	res := features.Preprocess(tbl, opts)
	require.NoError(t, res.Degraded)
	rain, _ := res.Table.Column("Rainfall")
	for _, v := range rain {
		assert.Equal(t, 0.0, v)
	}
}

func TestFillMissing(t *testing.T) {
	nan := math.NaN()
	col := []float64{nan, 1, nan, 3, nan}

	got, err := features.FillMissing(col, features.MissingMedian)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 2, 3, 2}, got)

	got, err = features.FillMissing(col, features.MissingMean)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 2, 3, 2}, got)

	got, err = features.FillMissing(col, features.MissingForward)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 3, 3}, got)

	got, err = features.FillMissing(col, features.MissingBackward)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 3, 3, 3}, got)

	got, err = features.FillMissing([]float64{nan, nan}, features.MissingForward)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, got)

	_, err = features.FillMissing(col, "interpolate")
	assert.Error(t, err)

	assert.True(t, math.IsNaN(col[0]), "input must not be modified")
}

func TestReplaceOutliers(t *testing.T) {
	col := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}
	got, n := features.ReplaceOutliers(col, 2)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, got[9])

	same, n := features.ReplaceOutliers([]float64{4, 4, 4}, 1)
	assert.Zero(t, n)
	assert.Equal(t, []float64{4, 4, 4}, same)
}

func TestValidate(t *testing.T) {
	tbl := seriesTable(t, 10)

	assert.NoError(t, features.Validate(tbl, baseOptions()))

	cases := map[string]func(o *features.Options){
		"no inputs":        func(o *features.Options) { o.Inputs = nil },
		"output as input":  func(o *features.Options) { o.Inputs = []string{"Discharge"} },
		"unknown output":   func(o *features.Options) { o.Output = "Stage" },
		"zero lags":        func(o *features.Options) { o.Lags = 0 },
		"threshold range":  func(o *features.Options) { o.RemoveOutliers = true; o.OutlierThreshold = 6 },
		"too many lags":    func(o *features.Options) { o.Lags = 10 },
		"bad policy":       func(o *features.Options) { o.Missing = "zero" },
		"duplicate inputs": func(o *features.Options) { o.Inputs = []string{"Rainfall", "Rainfall"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := baseOptions()
			mutate(&opts)
			err := features.Validate(tbl, opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput))
		})
	}
}

func TestParseHelpers(t *testing.T) {
	k, err := features.ParseVarKind("static")
	require.NoError(t, err)
	assert.Equal(t, features.Static, k)
	_, err = features.ParseVarKind("sometimes")
	assert.Error(t, err)

	p, err := features.ParseMissingPolicy("ffill")
	require.NoError(t, err)
	assert.Equal(t, features.MissingForward, p)
}

func TestEngineer(t *testing.T) {
	tbl := seriesTable(t, 12)
	require.NoError(t, tbl.SetColumn("Area", make([]float64, 12)))
	require.NoError(t, tbl.SetColumn("Slope", make([]float64, 12)))
	tbl.DateColumn = "Date"
	base := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) // Friday
	tbl.Dates = make([]time.Time, 12)
	for i := range tbl.Dates {
		tbl.Dates[i] = base.AddDate(0, 0, i)
	}

	opts := baseOptions()
	opts.Inputs = []string{"Area", "Slope", "Rainfall"}
	opts.Kinds = map[string]features.VarKind{"Area": features.Static, "Slope": features.Static}
	res := features.Preprocess(tbl, opts)
	require.NoError(t, res.Degraded)

	eng := features.Engineer(res.Table, res.Features, opts.Output)
	require.NoError(t, eng.Degraded)

	assert.Equal(t, []string{
		"hour", "day", "month", "day_of_week", "is_weekend",
		"Rainfall_Rolling_Mean_3", "Rainfall_Rolling_Std_3",
		"Discharge_Rolling_Mean_3", "Discharge_Rolling_Std_3",
		"Area_x_Slope",
	}, eng.Added)

	// first kept row is 2024-03-04, a Monday
	dow, _ := eng.Table.Column("day_of_week")
	weekend, _ := eng.Table.Column("is_weekend")
	assert.Equal(t, 0.0, dow[0])
	assert.Equal(t, 0.0, weekend[0])
	assert.Equal(t, 1.0, weekend[5])

	// original table untouched
	assert.False(t, res.Table.HasColumn("hour"))
}

func TestRolling(t *testing.T) {
	mean, std := features.Rolling([]float64{1, 2, 3, 4}, 3)
	assert.Equal(t, []float64{1, 1.5, 2, 3}, mean)
	assert.Equal(t, 0.0, std[0])
	assert.InDelta(t, math.Sqrt(0.5), std[1], epsilon)
	assert.InDelta(t, 1.0, std[2], epsilon)
	assert.InDelta(t, 1.0, std[3], epsilon)
}

func TestEngineerInteractionLimit(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	cols := make([][]float64, len(names))
	for i := range cols {
		cols[i] = []float64{1, 2}
	}
	tbl, err := dataset.FromColumns(names, cols)
	require.NoError(t, err)

	eng := features.Engineer(tbl, names, "out")
	require.NoError(t, eng.Degraded)
	// a pairs with b..e only
	assert.Contains(t, eng.Added, "a_x_e")
	assert.NotContains(t, eng.Added, "a_x_f")
	assert.Contains(t, eng.Added, "b_x_f")
	assert.Len(t, eng.Added, 4+4+3+2+1)
}

func TestPrepareNewData(t *testing.T) {
	rain := []float64{1, 2, 3, 4, 5}
	tbl, err := dataset.FromColumns([]string{"Rainfall"}, [][]float64{rain})
	require.NoError(t, err)

	opts := baseOptions()
	opts.Lags = 2
	featureSet := append(features.FeatureSet(opts), "Rainfall_Rolling_Mean_3")

	frame, err := features.PrepareNewData(tbl, opts, featureSet)
	require.NoError(t, err)

	assert.False(t, frame.HasActuals)
	assert.Equal(t, []string{"Rainfall_Rolling_Mean_3"}, frame.Missing)
	assert.Equal(t, append(append([]string{}, featureSet...), "Discharge"), frame.Table.Columns())
	// row 0 has every lag missing and is dropped
	assert.Equal(t, 4, frame.Table.Len())
	lag2, _ := frame.Table.Column("Rainfall_Lag_2")
	assert.Equal(t, []float64{0, 1, 2, 3}, lag2)
}

func TestPrepareNewDataErrors(t *testing.T) {
	tbl, err := dataset.FromColumns([]string{"Rainfall"}, [][]float64{{1, 2}})
	require.NoError(t, err)

	_, err = features.PrepareNewData(tbl, baseOptions(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	other, err := dataset.FromColumns([]string{"Temperature"}, [][]float64{{1, 2, 3, 4, 5}})
	require.NoError(t, err)
	_, err = features.PrepareNewData(other, baseOptions(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
