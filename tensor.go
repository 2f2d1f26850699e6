package segloss

import (
	"fmt"
)

// Tensor is a dense float32 tensor with row-major layout.  The loss functions
// operate on flat backing slices with explicit index arithmetic, Tensor keeps
// the dimensions and the data together and provides shape validation at the
// package boundaries.
type Tensor struct {
	// Dims are the tensor dimensions, outermost first
	Dims []int
	// Data is the flat row-major backing slice, length equals the product
	// of Dims
	Data []float32
}

// NewTensor returns a zero filled Tensor of the given dimensions
func NewTensor(dims ...int) *Tensor {

	n := 1

	for _, d := range dims {
		n *= d
	}

	return &Tensor{
		Dims: append([]int{}, dims...),
		Data: make([]float32, n),
	}
}

// NewTensorFrom wraps an existing backing slice in a Tensor of the given
// dimensions.  The slice length must match the dimension product.
func NewTensorFrom(data []float32, dims ...int) (*Tensor, error) {

	n := 1

	for _, d := range dims {
		n *= d
	}

	if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d does not match dims %v",
			ErrShapeMismatch, len(data), dims)
	}

	return &Tensor{
		Dims: append([]int{}, dims...),
		Data: data,
	}, nil
}

// Size returns the total number of elements
func (t *Tensor) Size() int {

	n := 1

	for _, d := range t.Dims {
		n *= d
	}

	return n
}

// Dim returns the size of dimension i
func (t *Tensor) Dim(i int) int {
	return t.Dims[i]
}

// Index computes the flat offset of the given multi dimensional index.  The
// number of indices must equal the number of dimensions.
func (t *Tensor) Index(idx ...int) int {

	off := 0

	for i, x := range idx {
		off = off*t.Dims[i] + x
	}

	return off
}

// At returns the element at the given multi dimensional index
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[t.Index(idx...)]
}

// Set writes the element at the given multi dimensional index
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[t.Index(idx...)] = v
}

// CheckDims validates the tensor has the expected dimensions, a negative
// expected value matches any size in that position
func (t *Tensor) CheckDims(want ...int) error {

	if len(t.Dims) != len(want) {
		return fmt.Errorf("%w: got %d dimensions %v, want %d",
			ErrShapeMismatch, len(t.Dims), t.Dims, len(want))
	}

	for i, w := range want {
		if w >= 0 && t.Dims[i] != w {
			return fmt.Errorf("%w: got dims %v, want %v",
				ErrShapeMismatch, t.Dims, want)
		}
	}

	return nil
}
