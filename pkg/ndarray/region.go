package ndarray

import "fmt"

// Strides returns the row-major element strides for shape.
func Strides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	s := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// Intersect returns the overlap of two placed arrays as half-open global
// coordinates. ok is false when they do not overlap.
func Intersect(a, b *Array) (lo, hi []int64, ok bool) {
	if len(a.Shape) != len(b.Shape) {
		return nil, nil, false
	}
	lo = make([]int64, len(a.Shape))
	hi = make([]int64, len(a.Shape))
	for i := range a.Shape {
		lo[i] = max(a.Offset[i], b.Offset[i])
		hi[i] = min(a.Offset[i]+a.Shape[i], b.Offset[i]+b.Shape[i])
		if lo[i] >= hi[i] {
			return nil, nil, false
		}
	}
	return lo, hi, true
}

// Overlay copies the elements of src that fall inside dst into dst. Both
// arrays must be placed, share dimensionality and element width. It returns
// the number of elements copied. Arrays whose data does not back their
// shape are rejected with ErrSizeMismatch.
func Overlay(dst, src *Array) (int64, error) {
	if dst.ElementSize != src.ElementSize {
		return 0, fmt.Errorf("element size %d does not match %d", src.ElementSize, dst.ElementSize)
	}
	if err := dst.Validate(); err != nil {
		return 0, fmt.Errorf("destination: %w", err)
	}
	if err := src.Validate(); err != nil {
		return 0, fmt.Errorf("source: %w", err)
	}
	lo, hi, ok := Intersect(dst, src)
	if !ok {
		return 0, nil
	}
	es := int64(dst.ElementSize)
	ndim := len(lo)
	if ndim == 0 {
		copy(dst.Data[:es], src.Data[:es])
		return 1, nil
	}

	dstStrides := Strides(dst.Shape)
	srcStrides := Strides(src.Shape)
	rowLen := hi[ndim-1] - lo[ndim-1]

	idx := append([]int64{}, lo...)
	var copied int64
	for {
		var di, si int64
		for d := 0; d < ndim; d++ {
			di += (idx[d] - dst.Offset[d]) * dstStrides[d]
			si += (idx[d] - src.Offset[d]) * srcStrides[d]
		}
		copy(dst.Data[di*es:(di+rowLen)*es], src.Data[si*es:(si+rowLen)*es])
		copied += rowLen

		// advance every axis but the last, odometer style
		d := ndim - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < hi[d] {
				break
			}
			idx[d] = lo[d]
		}
		if d < 0 {
			return copied, nil
		}
	}
}
