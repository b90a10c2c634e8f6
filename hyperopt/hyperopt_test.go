package hyperopt_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/hyperopt"
	"github.com/ezoic/hydrocast/pkg/errors"
	"github.com/ezoic/hydrocast/predictor"
)

// distance from lr = 1e-3, dropout = 0.2
func bowl(_ context.Context, p hyperopt.Params, _ uint64) (float64, error) {
	d := math.Log10(p.LearningRate) + 3
	return d*d + (p.Dropout-0.2)*(p.Dropout-0.2), nil
}

func TestSearchWithinSpace(t *testing.T) {
	var seen []hyperopt.Trial
	opts := hyperopt.DefaultOptions()
	opts.OnTrial = func(tr hyperopt.Trial) { seen = append(seen, tr) }

	res, err := hyperopt.Search(context.Background(), bowl, opts)
	require.NoError(t, err)
	require.Len(t, res.Trials, 8)
	assert.Len(t, seen, 8)

	space := hyperopt.DefaultSpace()
	for _, tr := range res.Trials {
		p := tr.Params
		assert.GreaterOrEqual(t, p.LearningRate, space.LearningRate.Min)
		assert.LessOrEqual(t, p.LearningRate, space.LearningRate.Max)
		assert.GreaterOrEqual(t, p.Dropout, space.Dropout.Min)
		assert.LessOrEqual(t, p.Dropout, space.Dropout.Max)
		assert.GreaterOrEqual(t, p.Layers, 1)
		assert.LessOrEqual(t, p.Layers, 3)
		assert.Contains(t, []int{32, 64, 128}, p.Units)
		assert.LessOrEqual(t, res.Best.Score, tr.Score)
	}
}

func TestSearchDeterministic(t *testing.T) {
	a, err := hyperopt.Search(context.Background(), bowl, hyperopt.DefaultOptions())
	require.NoError(t, err)
	b, err := hyperopt.Search(context.Background(), bowl, hyperopt.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Best.Params, b.Best.Params)
}

func TestSearchFailures(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, p hyperopt.Params, seed uint64) (float64, error) {
		calls++
		if calls%2 == 1 {
			return 0, errors.New("diverged")
		}
		return bowl(ctx, p, seed)
	}
	res, err := hyperopt.Search(context.Background(), flaky, hyperopt.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "diverged", res.Trials[0].Err)
	assert.True(t, math.IsInf(res.Trials[0].Score, 1))
	assert.Empty(t, res.Best.Err)

	failing := func(context.Context, hyperopt.Params, uint64) (float64, error) { return math.NaN(), nil }
	_, err = hyperopt.Search(context.Background(), failing, hyperopt.DefaultOptions())
	assert.Error(t, err)

	opts := hyperopt.DefaultOptions()
	opts.Trials = 0
	_, err = hyperopt.Search(context.Background(), bowl, opts)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	obj := func(ctx context.Context, p hyperopt.Params, seed uint64) (float64, error) {
		calls++
		cancel()
		return bowl(ctx, p, seed)
	}
	res, err := hyperopt.Search(ctx, obj, hyperopt.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Len(t, res.Trials, 1)
}

func TestParamsApply(t *testing.T) {
	cfg := hyperopt.Params{LearningRate: 0.005, Dropout: 0.3, Layers: 2, Units: 32}.Apply(predictor.DefaultConfig(predictor.GRU))
	assert.Equal(t, []int{32, 32}, cfg.Units)
	assert.Equal(t, 0.005, cfg.LearningRate)
	assert.Equal(t, 0.3, cfg.Dropout)
	assert.Equal(t, []int{predictor.DefaultDenseUnits}, cfg.DenseUnits)
}

func TestPredictorObjective(t *testing.T) {
	n := 60
	data := make([]float64, n)
	y := mat.NewDense(n, 1, nil)
	for i := range data {
		data[i] = float64(i) / float64(n)
		y.Set(i, 0, 0.5*data[i]+0.1)
	}
	X, err := tensor.NewTensor(data, n, 1, 1)
	require.NoError(t, err)

	obj, err := hyperopt.PredictorObjective(hyperopt.PredictorSetup{
		Kind:  predictor.Linear,
		Shape: predictor.InputShape{Window: 1, Features: 1},
		Base:  predictor.DefaultConfig(predictor.Linear),
		Fit:   predictor.FitOptions{Epochs: 3, BatchSize: 8},
	}, X, y)
	require.NoError(t, err)

	opts := hyperopt.DefaultOptions()
	opts.Trials = 3
	res, err := hyperopt.Search(context.Background(), obj, opts)
	require.NoError(t, err)
	assert.Len(t, res.Trials, 3)
	assert.False(t, math.IsInf(res.Best.Score, 0))
}
