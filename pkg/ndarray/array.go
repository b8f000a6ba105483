// Package ndarray frames flat byte buffers as dense row-major n-dimensional
// arrays and back, carrying the metadata a client needs to rebuild and place
// the array.
package ndarray

import (
	"errors"
	"fmt"

	"github.com/patina/dxspaces/pkg/geometry"
)

var (
	// ErrSizeMismatch indicates a payload that does not fill its box exactly
	ErrSizeMismatch = errors.New("data object does not match size parameters")

	// ErrInvalidElementSize indicates a non-positive element width
	ErrInvalidElementSize = errors.New("element size must be positive")
)

// Array is a dense row-major array. The last dimension varies fastest.
type Array struct {
	Type        Type
	ElementSize int
	Shape       []int64
	// Offset is the global coordinate of the first element, one per
	// dimension of Shape. Nil when the array is not placed in a domain.
	Offset []int64
	Data   []byte
}

// Len is the number of elements described by Shape. Shapes whose element
// count overflows an int64 are ErrSizeMismatch.
func (a *Array) Len() (int64, error) {
	n, err := geometry.Product(a.Shape...)
	if err != nil {
		return 0, fmt.Errorf("%w: shape %v: %w", ErrSizeMismatch, a.Shape, err)
	}
	return n, nil
}

// ByteLen is Len times the element width.
func (a *Array) ByteLen() (int64, error) {
	if a.ElementSize <= 0 {
		return 0, ErrInvalidElementSize
	}
	n, err := a.Len()
	if err != nil {
		return 0, err
	}
	size, ok := geometry.MulExact(n, int64(a.ElementSize))
	if !ok {
		return 0, fmt.Errorf("%w: shape %v of %d-byte elements: %w", ErrSizeMismatch, a.Shape, a.ElementSize, geometry.ErrVolumeOverflow)
	}
	return size, nil
}

// Validate checks that Data holds exactly Len elements.
func (a *Array) Validate() error {
	size, err := a.ByteLen()
	if err != nil {
		return err
	}
	if int64(len(a.Data)) != size {
		return fmt.Errorf("%w: have %d bytes, shape %v of %d-byte elements", ErrSizeMismatch, len(a.Data), a.Shape, a.ElementSize)
	}
	return nil
}

// Lower returns the inclusive lower corner of the array in global space.
func (a *Array) Lower() []int64 {
	lb := make([]int64, len(a.Shape))
	copy(lb, a.Offset)
	return lb
}

// Upper returns the inclusive upper corner of the array in global space.
func (a *Array) Upper() []int64 {
	ub := a.Lower()
	for i, d := range a.Shape {
		ub[i] += d - 1
	}
	return ub
}

// Encode frames raw as an array filling box. raw must hold exactly
// Volume(box)*elementSize bytes; a registered type tag must also agree with
// elementSize. The array's offset is the box's start values.
func Encode(box geometry.BoundingBox, elementSize int, tag Type, raw []byte) (*Array, error) {
	if elementSize <= 0 {
		return nil, ErrInvalidElementSize
	}
	volume, err := geometry.Volume(box)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSizeMismatch, err)
	}
	want, ok := geometry.MulExact(volume, int64(elementSize))
	if !ok {
		return nil, fmt.Errorf("%w: %d elements of %d bytes: %w", ErrSizeMismatch, volume, elementSize, geometry.ErrVolumeOverflow)
	}
	if int64(len(raw)) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSizeMismatch, want, len(raw))
	}
	if size := tag.Size(); size != 0 && size != elementSize {
		return nil, fmt.Errorf("%w: type %d is %d bytes wide, element size is %d", ErrSizeMismatch, tag, size, elementSize)
	}
	return &Array{
		Type:        tag,
		ElementSize: elementSize,
		Shape:       box.Spans(),
		Offset:      box.Starts(),
		Data:        raw,
	}, nil
}

// Metadata describes a decoded array relative to the box it was requested
// with.
type Metadata struct {
	Tag         Type
	ElementSize int
	// LowerBounds are the requested box's start values.
	LowerBounds []int64
	// UpperBounds are start plus the returned extent minus one, one per
	// dimension present in both the box and the returned shape.
	UpperBounds []int64
	// Dims is the returned shape.
	Dims []int64
}

// Decode flattens an array read from the fabric. The fabric may return a
// reduced or reshaped result, so the upper bounds and dims follow the
// array's actual shape rather than the requested spans.
func Decode(arr *Array, requested geometry.BoundingBox) ([]byte, Metadata) {
	md := Metadata{
		Tag:         arr.Type,
		ElementSize: arr.ElementSize,
		LowerBounds: requested.Starts(),
		Dims:        append([]int64{}, arr.Shape...),
	}
	n := min(len(requested.Bounds), len(arr.Shape))
	md.UpperBounds = make([]int64, n)
	for i := 0; i < n; i++ {
		md.UpperBounds[i] = requested.Bounds[i].Start + arr.Shape[i] - 1
	}
	return arr.Data, md
}
