package store

import (
	"fmt"
	"math"
)

// Size returns the number of elements in shape.
func Size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// CheckSlab validates start/count against shape. When growable is set the
// leading dimension may extend past shape[0].
func CheckSlab(shape, start, count []int, growable bool) error {
	if len(start) != len(shape) || len(count) != len(shape) {
		return fmt.Errorf("%w: slab rank %d/%d, variable rank %d", ErrOutOfBounds, len(start), len(count), len(shape))
	}
	for i := range shape {
		if start[i] < 0 || count[i] < 0 {
			return fmt.Errorf("%w: negative start or count on dim %d", ErrOutOfBounds, i)
		}
		if i == 0 && growable {
			continue
		}
		if start[i]+count[i] > shape[i] {
			return fmt.Errorf("%w: dim %d range [%d, %d) exceeds length %d",
				ErrOutOfBounds, i, start[i], start[i]+count[i], shape[i])
		}
	}
	return nil
}

// PutSlab copies a count-shaped src into dst (shaped dstShape) at start.
func PutSlab(dst []float64, dstShape []int, src []float64, start, count []int) {
	CopyRegion(dst, dstShape, start, src, count, make([]int, len(count)), count)
}

// GetSlab copies the count-shaped slab at start out of src (shaped srcShape) into dst.
func GetSlab(dst []float64, src []float64, srcShape []int, start, count []int) {
	CopyRegion(dst, count, make([]int, len(count)), src, srcShape, start, count)
}

// Fill returns n copies of the fill value for dtype: NaN for floats, 0 for ints.
func Fill(d DType, n int) []float64 {
	out := make([]float64, n)
	if d == Int32 {
		return out
	}
	nan := math.NaN()
	for i := range out {
		out[i] = nan
	}
	return out
}

// CopyRegion copies a count-shaped region from src at srcStart into dst at
// dstStart. Both arrays are dense row-major with the given shapes.
func CopyRegion(dst []float64, dstShape, dstStart []int, src []float64, srcShape, srcStart, count []int) {
	rank := len(count)
	if rank == 0 {
		dst[0] = src[0]
		return
	}
	if Size(count) == 0 {
		return
	}
	ds := strides(dstShape)
	ss := strides(srcShape)
	inner := count[rank-1]
	idx := make([]int, rank-1)
	for {
		do := dstStart[rank-1]
		so := srcStart[rank-1]
		for i := 0; i < rank-1; i++ {
			do += (dstStart[i] + idx[i]) * ds[i]
			so += (srcStart[i] + idx[i]) * ss[i]
		}
		copy(dst[do:do+inner], src[so:so+inner])

		k := rank - 2
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < count[k] {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	if len(shape) == 0 {
		return s
	}
	s[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		s[i] = s[i+1] * shape[i+1]
	}
	return s
}
