package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/core/tensor"
	"github.com/ezoic/hydrocast/pkg/errors"
)

func TestNewTensorRank3(t *testing.T) {
	data := make([]float64, 2*3*4)
	for i := range data {
		data[i] = float64(i)
	}
	x, err := tensor.NewTensor(data, 2, 3, 4)
	require.NoError(t, err)

	n, w, f := x.Dims()
	assert.Equal(t, []int{2, 3, 4}, []int{n, w, f})
	assert.Equal(t, 3, x.Rank())
	assert.Equal(t, 17.0, x.At3(1, 1, 1))
	assert.Equal(t, []float64{20, 21, 22, 23}, x.Step(1, 2))
	assert.Len(t, x.Sample(0), 12)

	x.Set3(0, 0, 0, -1)
	assert.Equal(t, -1.0, data[0])
}

func TestNewTensorErrors(t *testing.T) {
	_, err := tensor.NewTensor([]float64{1, 2, 3}, 2, 2)
	assert.True(t, errors.Is(err, errors.ErrDimensionMismatch))

	_, err = tensor.NewTensor(nil)
	assert.Error(t, err)

	_, err = tensor.NewTensor([]float64{1}, 1, 1, 1, 1)
	assert.Error(t, err)
}

func TestFromDenseAndFlatten(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	x := tensor.NewTensorFromDense(m)
	assert.Equal(t, []int{2, 1, 3}, x.Shape())

	flat := x.Flatten()
	assert.True(t, mat.Equal(m, flat))
}

func TestSliceAndGather(t *testing.T) {
	x, err := tensor.NewTensor([]float64{1, 2, 3, 4, 5, 6}, 3, 1, 2)
	require.NoError(t, err)

	s, err := x.Slice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 3.0, s.At3(0, 0, 0))

	_, err = x.Slice(2, 2)
	assert.Error(t, err)

	g, err := x.Gather([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 1, 2}, g.RawData())

	_, err = x.Gather([]int{3})
	assert.Error(t, err)
}

func TestCopyAndMap(t *testing.T) {
	x, err := tensor.NewTensor([]float64{1, 2}, 1, 2)
	require.NoError(t, err)

	y := x.Map(func(v float64) float64 { return v * 10 })
	assert.Equal(t, []float64{10, 20}, y.RawData())
	assert.Equal(t, []float64{1, 2}, x.RawData())
	assert.Equal(t, 2.0, x.At(0, 1))

	require.NoError(t, x.Reshape(1, 1, 2))
	assert.Equal(t, 3, x.Rank())
	assert.Error(t, x.Reshape(3, 1))
}
