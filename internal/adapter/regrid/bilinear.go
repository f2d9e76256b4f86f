package regrid

import (
	"fmt"
	"math"
	"sort"

	"go.ngs.io/ensemble-store/internal/domain"
)

// cell is the rectangle between four neighbouring grid nodes. X is
// longitude and Y latitude.
type cell struct {
	X0, X1 float64
	Y0, Y1 float64
}

// cellWeights returns the bilinear weights of the corners (X0, Y0),
// (X1, Y0), (X0, Y1) and (X1, Y1) at (x, y):
//
//	w = [(1-t)(1-u), t(1-u), (1-t)u, tu]
//
// where t = (x - X0) / (X1 - X0) and u = (y - Y0) / (Y1 - Y0).
func cellWeights(c cell, x, y float64) ([4]float64, error) {
	var w [4]float64
	if c.X1 <= c.X0 {
		return w, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if c.Y1 <= c.Y0 {
		return w, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	// Check if point is within cell (with small tolerance for floating point).
	const epsilon = 1e-9
	if x < c.X0-epsilon || x > c.X1+epsilon {
		return w, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, c.X0, c.X1)
	}
	if y < c.Y0-epsilon || y > c.Y1+epsilon {
		return w, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, c.Y0, c.Y1)
	}

	t := (x - c.X0) / (c.X1 - c.X0)
	u := (y - c.Y0) / (c.Y1 - c.Y0)

	// Clamp to [0, 1] to handle edge cases with floating point precision.
	t = math.Max(0, math.Min(1, t))
	u = math.Max(0, math.Min(1, u))

	w[0] = (1 - t) * (1 - u)
	w[1] = t * (1 - u)
	w[2] = (1 - t) * u
	w[3] = t * u
	return w, nil
}

// Sampler maps a global grid field onto a fixed list of points using
// precomputed bilinear weights. A Sampler is immutable and safe for
// concurrent use.
type Sampler struct {
	srcSize int
	idx     [][4]int
	weight  [][4]float64
}

// NewSampler precomputes weights for sampling grid at the given points.
// Latitudes outside the grid are clamped to the edge rows. Longitudes wrap
// when the grid is periodic and are clamped otherwise.
func NewSampler(grid *domain.Grid, lat, lon []float64) (*Sampler, error) {
	if len(lat) != len(lon) {
		return nil, fmt.Errorf("sampler: %d latitudes but %d longitudes", len(lat), len(lon))
	}

	// Ascending copies of the axes; rowOf maps back to grid rows.
	ys := grid.Lat()
	rowOf := make([]int, len(ys))
	for i := range rowOf {
		rowOf[i] = i
	}
	if grid.Descending() {
		for i, j := 0, len(ys)-1; i < j; i, j = i+1, j-1 {
			ys[i], ys[j] = ys[j], ys[i]
			rowOf[i], rowOf[j] = rowOf[j], rowOf[i]
		}
	}
	xs := grid.Lon()
	periodic := grid.Periodic()
	cols := len(xs)

	s := &Sampler{
		srcSize: grid.Size(),
		idx:     make([][4]int, len(lat)),
		weight:  make([][4]float64, len(lat)),
	}

	for p := range lat {
		y, x := lat[p], lon[p]
		if math.IsNaN(y) || math.IsNaN(x) {
			return nil, fmt.Errorf("sampler: point %d has NaN coordinate", p)
		}

		i0, i1, y0, y1 := bracket(ys, y)
		var j0, j1 int
		var x0, x1 float64
		if periodic && cols > 1 {
			x = xs[0] + math.Mod(math.Mod(x-xs[0], 360)+360, 360)
			if x >= xs[cols-1] {
				j0, j1 = cols-1, 0
				x0, x1 = xs[cols-1], xs[0]+360
			} else {
				j0, j1, x0, x1 = bracket(xs, x)
			}
		} else {
			j0, j1, x0, x1 = bracket(xs, x)
		}
		y = math.Max(y0, math.Min(y1, y))
		x = math.Max(x0, math.Min(x1, x))

		w, err := weightsFor(x0, x1, y0, y1, x, y)
		if err != nil {
			return nil, fmt.Errorf("sampler: point %d (%g, %g): %w", p, lat[p], lon[p], err)
		}
		r0, r1 := rowOf[i0], rowOf[i1]
		s.idx[p] = [4]int{r0*cols + j0, r0*cols + j1, r1*cols + j0, r1*cols + j1}
		s.weight[p] = w
	}
	return s, nil
}

// weightsFor handles degenerate one-row or one-column cells, where the
// bracket collapses to a single coordinate.
func weightsFor(x0, x1, y0, y1, x, y float64) ([4]float64, error) {
	switch {
	case x0 == x1 && y0 == y1:
		return [4]float64{1, 0, 0, 0}, nil
	case x0 == x1:
		w, err := cellWeights(cell{X0: 0, X1: 1, Y0: y0, Y1: y1}, 0, y)
		return w, err
	case y0 == y1:
		w, err := cellWeights(cell{X0: x0, X1: x1, Y0: 0, Y1: 1}, x, 0)
		return w, err
	}
	return cellWeights(cell{X0: x0, X1: x1, Y0: y0, Y1: y1}, x, y)
}

// bracket finds the ascending-axis interval containing v, clamping to the ends.
func bracket(axis []float64, v float64) (int, int, float64, float64) {
	n := len(axis)
	if n == 1 || v <= axis[0] {
		return 0, 0, axis[0], axis[0]
	}
	if v >= axis[n-1] {
		return n - 1, n - 1, axis[n-1], axis[n-1]
	}
	k := sort.SearchFloat64s(axis, v)
	if axis[k] == v {
		return k, k, v, v
	}
	return k - 1, k, axis[k-1], axis[k]
}

// Len returns the number of sampled points.
func (s *Sampler) Len() int { return len(s.idx) }

// Apply samples one global field into dst, which must hold Len values.
func (s *Sampler) Apply(src, dst []float32) error {
	if len(src) != s.srcSize {
		return fmt.Errorf("sampler: source has %d values, grid has %d", len(src), s.srcSize)
	}
	if len(dst) != len(s.idx) {
		return fmt.Errorf("sampler: destination has %d values, want %d", len(dst), len(s.idx))
	}
	for p, ix := range s.idx {
		w := s.weight[p]
		var v float64
		for k := 0; k < 4; k++ {
			if w[k] != 0 {
				v += w[k] * float64(src[ix[k]])
			}
		}
		dst[p] = float32(v)
	}
	return nil
}
