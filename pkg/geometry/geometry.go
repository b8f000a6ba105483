// Package geometry converts between the two region encodings used by the
// gateway: boxes (start and span per dimension) as clients send them, and
// corners (inclusive lower and upper bound per dimension) as the fabric
// stores them.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrDimensionMismatch indicates lower and upper corners of different length
	ErrDimensionMismatch = errors.New("lb and ub must have same length")

	// ErrInvalidInterval indicates an interval outside start >= -1, span >= 0
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrVolumeOverflow indicates a box holding more elements than an int64 counts
	ErrVolumeOverflow = errors.New("volume overflows int64")
)

// Unbounded is the start sentinel for an unspecified lower edge.
const Unbounded int64 = -1

// Interval is the range [Start, Start+Span) along one axis.
type Interval struct {
	Start int64 `json:"start"`
	Span  int64 `json:"span"`
}

// BoundingBox is an n-dimensional region, one interval per dimension.
type BoundingBox struct {
	Bounds []Interval `json:"bounds"`
}

// Box builds a bounding box from start, span pairs.
func Box(pairs ...[2]int64) BoundingBox {
	bounds := make([]Interval, len(pairs))
	for i, p := range pairs {
		bounds[i] = Interval{Start: p[0], Span: p[1]}
	}
	return BoundingBox{Bounds: bounds}
}

// Dims returns the dimensionality of the box.
func (b BoundingBox) Dims() int { return len(b.Bounds) }

// Starts returns the per-dimension start values. This is also the offset
// tuple handed to the fabric on writes.
func (b BoundingBox) Starts() []int64 {
	out := make([]int64, len(b.Bounds))
	for i, iv := range b.Bounds {
		out[i] = iv.Start
	}
	return out
}

// Spans returns the per-dimension extents.
func (b BoundingBox) Spans() []int64 {
	out := make([]int64, len(b.Bounds))
	for i, iv := range b.Bounds {
		out[i] = iv.Span
	}
	return out
}

// Validate checks every interval against start >= -1 and span >= 0.
func (b BoundingBox) Validate() error {
	for i, iv := range b.Bounds {
		if iv.Start < Unbounded {
			return fmt.Errorf("%w: dimension %d start %d is below %d", ErrInvalidInterval, i, iv.Start, Unbounded)
		}
		if iv.Span < 0 {
			return fmt.Errorf("%w: dimension %d span %d is negative", ErrInvalidInterval, i, iv.Span)
		}
	}
	return nil
}

// CornersFromBox converts a box into inclusive lower and upper corners.
// A zero span yields ub = lb-1 on that axis.
func CornersFromBox(box BoundingBox) (lb, ub []int64) {
	lb = make([]int64, len(box.Bounds))
	ub = make([]int64, len(box.Bounds))
	for i, iv := range box.Bounds {
		lb[i] = iv.Start
		ub[i] = iv.Start + iv.Span - 1
	}
	return lb, ub
}

// BoxFromCorners converts inclusive corners back into a box. Corners with
// ub < lb are not an error; they produce a span of ub-lb+1 as is.
func BoxFromCorners(lb, ub []int64) (BoundingBox, error) {
	if len(lb) != len(ub) {
		return BoundingBox{}, fmt.Errorf("%w: got %d and %d", ErrDimensionMismatch, len(lb), len(ub))
	}
	bounds := make([]Interval, len(lb))
	for i := range lb {
		bounds[i] = Interval{Start: lb[i], Span: ub[i] - lb[i] + 1}
	}
	return BoundingBox{Bounds: bounds}, nil
}

// Volume is the number of elements spanned by the box. A zero span on any
// axis gives 0; otherwise a product past math.MaxInt64 is ErrVolumeOverflow.
func Volume(box BoundingBox) (int64, error) {
	return Product(box.Spans()...)
}

// Product multiplies non-negative extents, reporting ErrVolumeOverflow
// instead of wrapping.
func Product(extents ...int64) (int64, error) {
	for i, e := range extents {
		if e < 0 {
			return 0, fmt.Errorf("%w: dimension %d extent %d is negative", ErrInvalidInterval, i, e)
		}
		if e == 0 {
			return 0, nil
		}
	}
	v := int64(1)
	for _, e := range extents {
		var ok bool
		if v, ok = MulExact(v, e); !ok {
			return 0, fmt.Errorf("%w: extents %v", ErrVolumeOverflow, extents)
		}
	}
	return v, nil
}

// MulExact returns a*b for non-negative a and b, and false when the result
// does not fit in an int64.
func MulExact(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}
