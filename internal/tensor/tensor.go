package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when a tensor does not match the shape a consumer declared.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense float32 buffer with a declared shape in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New validates that data fills shape exactly.
func New(shape []int, data []float32) (Tensor, error) {
	size, err := elements(shape)
	if err != nil {
		return Tensor{}, err
	}
	if size != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, size, len(data))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) (Tensor, error) {
	size, err := elements(shape)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, size)}, nil
}

func elements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShapeMismatch, shape)
		}
		size *= d
	}
	return size, nil
}

// Len reports the number of elements.
func (t Tensor) Len() int {
	return len(t.Data)
}

// MatchShape reports whether got equals the declared shape want.
func MatchShape(got []int, want ...int) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, want, got)
		}
	}
	return nil
}

// Validate checks the tensor against an expected shape.
func (t Tensor) Validate(shape ...int) error {
	if err := MatchShape(t.Shape, shape...); err != nil {
		return err
	}
	size, err := elements(t.Shape)
	if err != nil {
		return err
	}
	if size != len(t.Data) {
		return fmt.Errorf("%w: shape %v backs %d values", ErrShapeMismatch, t.Shape, len(t.Data))
	}
	return nil
}

// Squeeze drops every unit dimension. The data is shared with t.
func (t Tensor) Squeeze() Tensor {
	shape := make([]int, 0, len(t.Shape))
	for _, d := range t.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	if len(shape) == 0 {
		shape = []int{len(t.Data)}
	}
	return Tensor{Shape: shape, Data: t.Data}
}

// At returns the flat element at index.
func (t Tensor) At(index int) (float32, bool) {
	if index < 0 || index >= len(t.Data) {
		return 0, false
	}
	return t.Data[index], true
}

// Mean returns the arithmetic mean, or NaN for an empty tensor.
func (t Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum / float64(len(t.Data))
}
