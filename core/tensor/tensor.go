// Package tensor provides a small dense tensor used for sequence model inputs.
//
// Sequence inputs have shape (samples, window, features). Data is stored
// row-major in a flat slice so that a single sample is a contiguous
// window*features block.
package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ezoic/hydrocast/pkg/errors"
)

// Tensor is a rank-2 or rank-3 dense array of float64.
type Tensor struct {
	data  []float64
	shape []int
}

// NewTensor creates a tensor over data with the given shape.
// data is used directly, not copied.
func NewTensor(data []float64, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, errors.NewValueError("NewTensor", "shape must be provided")
	}
	if len(shape) > 3 {
		return nil, errors.NewValueError("NewTensor", "only rank 2 and rank 3 tensors are supported")
	}

	size := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, errors.NewValueError("NewTensor", "all dimensions must be positive")
		}
		size *= s
	}

	if len(data) != size {
		return nil, errors.NewDimensionError("NewTensor", size, len(data), 0)
	}

	if len(shape) == 1 {
		shape = []int{shape[0], 1}
	}

	return &Tensor{data: data, shape: append([]int{}, shape...)}, nil
}

// NewZeros は指定された形状のゼロテンソルを作成する
func NewZeros(shape ...int) (*Tensor, error) {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if size <= 0 {
		return nil, errors.NewValueError("NewZeros", "all dimensions must be positive")
	}
	return NewTensor(make([]float64, size), shape...)
}

// NewTensorFromDense creates a rank-3 tensor of shape (rows, 1, cols) from a
// matrix, one row per sample with a window of one step.
func NewTensorFromDense(dense mat.Matrix) *Tensor {
	r, c := dense.Dims()
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = dense.At(i, j)
		}
	}
	return &Tensor{data: data, shape: []int{r, 1, c}}
}

// Shape はテンソルの形状を返す
func (t *Tensor) Shape() []int {
	return append([]int{}, t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dims returns (samples, window, features). Rank-2 tensors report a window of 1.
func (t *Tensor) Dims() (int, int, int) {
	if len(t.shape) == 2 {
		return t.shape[0], 1, t.shape[1]
	}
	return t.shape[0], t.shape[1], t.shape[2]
}

// Len returns the number of samples.
func (t *Tensor) Len() int {
	return t.shape[0]
}

// At3 returns the value at sample i, step s, feature f.
func (t *Tensor) At3(i, s, f int) float64 {
	_, w, nf := t.Dims()
	return t.data[(i*w+s)*nf+f]
}

// Set3 sets the value at sample i, step s, feature f.
func (t *Tensor) Set3(i, s, f int, v float64) {
	_, w, nf := t.Dims()
	t.data[(i*w+s)*nf+f] = v
}

// At はrank-2テンソルの値を返す
func (t *Tensor) At(i, j int) float64 {
	return t.data[i*t.shape[len(t.shape)-1]+j]
}

// Sample returns the window*features block of sample i without copying.
func (t *Tensor) Sample(i int) []float64 {
	_, w, nf := t.Dims()
	size := w * nf
	return t.data[i*size : (i+1)*size : (i+1)*size]
}

// Step returns the features of sample i at step s without copying.
func (t *Tensor) Step(i, s int) []float64 {
	_, w, nf := t.Dims()
	off := (i*w + s) * nf
	return t.data[off : off+nf : off+nf]
}

// RawData は内部データを返す
// 注意: 直接操作は推奨されない
func (t *Tensor) RawData() []float64 {
	return t.data
}

// Copy はテンソルのディープコピーを作成する
func (t *Tensor) Copy() *Tensor {
	return &Tensor{
		data:  append([]float64{}, t.data...),
		shape: append([]int{}, t.shape...),
	}
}

// Reshape はテンソルの形状を変更する
func (t *Tensor) Reshape(shape ...int) error {
	newSize := 1
	for _, s := range shape {
		newSize *= s
	}
	if newSize != len(t.data) {
		return errors.Newf("cannot reshape tensor of size %d to size %d", len(t.data), newSize)
	}
	if len(shape) < 2 || len(shape) > 3 {
		return errors.Newf("only rank 2 and rank 3 reshaping is supported")
	}
	t.shape = append([]int{}, shape...)
	return nil
}

// Slice returns samples [start, end) as a new tensor sharing storage.
func (t *Tensor) Slice(start, end int) (*Tensor, error) {
	if start < 0 || end > t.shape[0] || start >= end {
		return nil, errors.Newf("slice indices [%d, %d) out of bounds for %d samples", start, end, t.shape[0])
	}
	_, w, nf := t.Dims()
	size := w * nf
	shape := append([]int{}, t.shape...)
	shape[0] = end - start
	return &Tensor{data: t.data[start*size : end*size], shape: shape}, nil
}

// Gather returns a new tensor holding the selected samples in order.
func (t *Tensor) Gather(indices []int) (*Tensor, error) {
	if len(indices) == 0 {
		return nil, errors.NewValueError("Tensor.Gather", "no indices given")
	}
	_, w, nf := t.Dims()
	size := w * nf
	data := make([]float64, 0, len(indices)*size)
	for _, idx := range indices {
		if idx < 0 || idx >= t.shape[0] {
			return nil, errors.Newf("index %d out of bounds for %d samples", idx, t.shape[0])
		}
		data = append(data, t.Sample(idx)...)
	}
	shape := append([]int{}, t.shape...)
	shape[0] = len(indices)
	return &Tensor{data: data, shape: shape}, nil
}

// Flatten returns a (samples, window*features) matrix copy.
func (t *Tensor) Flatten() *mat.Dense {
	n, w, nf := t.Dims()
	return mat.NewDense(n, w*nf, append([]float64{}, t.data...))
}

// Map returns a copy with fn applied to every element.
func (t *Tensor) Map(fn func(v float64) float64) *Tensor {
	out := t.Copy()
	for i, v := range out.data {
		out.data[i] = fn(v)
	}
	return out
}
