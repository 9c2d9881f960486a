package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when a buffer or tensor does not match the
// dimensions it is used with.
var ErrShapeMismatch = errors.New("shape mismatch")

// MaxRank is the highest number of logical dimensions a Tensor carries.
const MaxRank = 3

// Tensor is a dense, row-major buffer of float64 values with a logical
// shape of one to three dimensions (e.g. length, or featureMap x k x embedding).
type Tensor struct {
	data []float64
	dims []int
}

// New allocates a zeroed tensor. It panics on an invalid shape, the same way
// the CPU backend panics on impossible dimensions.
func New(dims ...int) *Tensor {
	n, err := volume(dims)
	if err != nil {
		panic(fmt.Sprintf("tensor.New: %v", err))
	}
	return &Tensor{
		data: make([]float64, n),
		dims: append([]int(nil), dims...),
	}
}

// FromData wraps a copy of data with the given shape.
func FromData(data []float64, dims ...int) (*Tensor, error) {
	n, err := volume(dims)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d values for dims %v", ErrShapeMismatch, len(data), dims)
	}
	t := &Tensor{
		data: make([]float64, n),
		dims: append([]int(nil), dims...),
	}
	copy(t.data, data)
	return t, nil
}

// Vec is a convenience for a rank-1 tensor holding a copy of values.
func Vec(values ...float64) *Tensor {
	t := New(len(values))
	copy(t.data, values)
	return t
}

func volume(dims []int) (int, error) {
	if len(dims) == 0 || len(dims) > MaxRank {
		return 0, fmt.Errorf("%w: rank %d not in [1, %d]", ErrShapeMismatch, len(dims), MaxRank)
	}
	n := 1
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, dims)
		}
		n *= d
	}
	return n, nil
}

// Dims returns a copy of the logical shape.
func (t *Tensor) Dims() []int {
	return append([]int(nil), t.dims...)
}

// Len returns the number of elements in the buffer.
func (t *Tensor) Len() int {
	return len(t.data)
}

// At returns the element at linear index i.
func (t *Tensor) At(i int) float64 {
	return t.data[i]
}

// Set sets the element at linear index i.
func (t *Tensor) Set(i int, v float64) {
	t.data[i] = v
}

// At3 returns element (l, i, j) of a rank-3 tensor.
func (t *Tensor) At3(l, i, j int) float64 {
	return t.data[t.offset3(l, i, j)]
}

func (t *Tensor) offset3(l, i, j int) int {
	if len(t.dims) != 3 {
		panic(fmt.Sprintf("tensor: 3-D access on rank %d tensor", len(t.dims)))
	}
	return (l*t.dims[1]+i)*t.dims[2] + j
}

// Data returns the underlying buffer. Writes through it mutate the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Zero fills the tensor with zeros.
func (t *Tensor) Zero() {
	clear(t.data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		data: make([]float64, len(t.data)),
		dims: append([]int(nil), t.dims...),
	}
	copy(out.data, t.data)
	return out
}

// CopyFrom copies values from src, which must hold the same number of elements.
func (t *Tensor) CopyFrom(src []float64) error {
	if len(src) != len(t.data) {
		return fmt.Errorf("%w: copy of %d values into %d", ErrShapeMismatch, len(src), len(t.data))
	}
	copy(t.data, src)
	return nil
}

// Reshape changes the logical shape in place without touching the data.
func (t *Tensor) Reshape(dims ...int) error {
	n, err := volume(dims)
	if err != nil {
		return err
	}
	if n != len(t.data) {
		return fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.dims, dims)
	}
	t.dims = append(t.dims[:0], dims...)
	return nil
}

// Vector returns a unit-stride BLAS view sharing the tensor's buffer.
func (t *Tensor) Vector() blas64.Vector {
	return blas64.Vector{N: len(t.data), Inc: 1, Data: t.data}
}

// General returns a row-major BLAS matrix view of a rank-2 tensor.
func (t *Tensor) General() blas64.General {
	if len(t.dims) != 2 {
		panic(fmt.Sprintf("tensor: General on rank %d tensor", len(t.dims)))
	}
	return blas64.General{
		Rows:   t.dims[0],
		Cols:   t.dims[1],
		Stride: t.dims[1],
		Data:   t.data,
	}
}

// Dense returns a gonum matrix sharing the buffer. Rank-1 tensors are
// viewed as a single column. Like mat.NewDense it panics on empty tensors.
func (t *Tensor) Dense() *mat.Dense {
	switch len(t.dims) {
	case 1:
		return mat.NewDense(t.dims[0], 1, t.data)
	case 2:
		return mat.NewDense(t.dims[0], t.dims[1], t.data)
	default:
		// Fold leading dimensions into rows
		return mat.NewDense(t.dims[0]*t.dims[1], t.dims[2], t.data)
	}
}
