package nn

import "fmt"

// Tensor is a dense row-major float64 array. It is a plain data carrier:
// layers implement their own forward and backward math rather than
// recording an autograd graph.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor creates a tensor backed by the given data slice.
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	n := numElems(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, numElems(shape))}
}

// NumElems returns the total number of elements.
func (t *Tensor) NumElems() int {
	return numElems(t.Shape)
}

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Reshape returns a view of the same data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numElems(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data}, nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: data}
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
