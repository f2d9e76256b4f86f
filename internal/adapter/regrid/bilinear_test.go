package regrid

import (
	"math"
	"testing"

	"go.ngs.io/ensemble-store/internal/domain"
)

// interpolate applies the weights of (x, y) to corner values v00, v10, v01, v11.
func interpolate(c cell, v [4]float64, x, y float64) (float64, error) {
	w, err := cellWeights(c, x, y)
	if err != nil {
		return 0, err
	}
	return w[0]*v[0] + w[1]*v[1] + w[2]*v[2] + w[3]*v[3], nil
}

// TestCellWeights_CenterPoint tests interpolation at the center of a grid cell
func TestCellWeights_CenterPoint(t *testing.T) {
	c := cell{X0: 0.0, X1: 2.0, Y0: 0.0, Y1: 2.0}

	// At center (1.0, 1.0), t=0.5, u=0.5
	// Result = 0.25 * (1 + 3 + 5 + 7) = 4.0
	result, err := interpolate(c, [4]float64{1, 3, 5, 7}, 1.0, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := 4.0
	if math.Abs(result-expected) > 1e-9 {
		t.Errorf("Center point: expected %.10f, got %.10f", expected, result)
	}
}

// TestCellWeights_CornerPoints tests that corners return exact values
func TestCellWeights_CornerPoints(t *testing.T) {
	c := cell{X0: 0.0, X1: 10.0, Y0: 0.0, Y1: 10.0}
	corners := [4]float64{1, 2, 3, 4}

	tests := []struct {
		x, y     float64
		expected float64
		name     string
	}{
		{0.0, 0.0, 1.0, "bottom-left"},
		{10.0, 0.0, 2.0, "bottom-right"},
		{0.0, 10.0, 3.0, "top-left"},
		{10.0, 10.0, 4.0, "top-right"},
	}

	for _, tt := range tests {
		result, err := interpolate(c, corners, tt.x, tt.y)
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.name, err)
		}

		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("%s corner: expected %.10f, got %.10f", tt.name, tt.expected, result)
		}
	}
}

// TestCellWeights_OutOfBounds tests error handling for out-of-bounds points
func TestCellWeights_OutOfBounds(t *testing.T) {
	c := cell{X0: 0.0, X1: 10.0, Y0: 0.0, Y1: 10.0}

	tests := []struct {
		x, y float64
		name string
	}{
		{-1.0, 5.0, "x too small"},
		{11.0, 5.0, "x too large"},
		{5.0, -1.0, "y too small"},
		{5.0, 11.0, "y too large"},
	}

	for _, tt := range tests {
		if _, err := cellWeights(c, tt.x, tt.y); err == nil {
			t.Errorf("%s: expected error for point (%.1f, %.1f), got nil", tt.name, tt.x, tt.y)
		}
	}
}

func sampleGrid(t *testing.T) (*domain.Grid, []float32) {
	t.Helper()
	// Descending latitudes, periodic longitudes every 90 degrees.
	g, err := domain.NewGrid([]float64{10, 0, -10}, []float64{0, 90, 180, 270})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	// value = row*10 + col
	src := make([]float32, g.Size())
	for i := 0; i < g.Rows(); i++ {
		for j := 0; j < g.Cols(); j++ {
			src[i*g.Cols()+j] = float32(i*10 + j)
		}
	}
	return g, src
}

// TestSampler_GridPoints tests that points on grid nodes return the node value
func TestSampler_GridPoints(t *testing.T) {
	g, src := sampleGrid(t)

	s, err := NewSampler(g, []float64{10, 0, -10}, []float64{0, 90, 270})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	dst := make([]float32, s.Len())
	if err := s.Apply(src, dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []float32{0, 11, 23}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("point %d: expected %v, got %v", i, want[i], dst[i])
		}
	}
}

// TestSampler_Interior tests interpolation between rows and columns
func TestSampler_Interior(t *testing.T) {
	g, src := sampleGrid(t)

	s, err := NewSampler(g, []float64{5}, []float64{45})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	dst := make([]float32, 1)
	if err := s.Apply(src, dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Average of rows 0,1 and cols 0,1: (0 + 1 + 10 + 11) / 4
	if math.Abs(float64(dst[0])-5.5) > 1e-6 {
		t.Errorf("expected 5.5, got %v", dst[0])
	}
}

// TestSampler_PeriodicWrap tests that longitudes past the last column wrap to the first
func TestSampler_PeriodicWrap(t *testing.T) {
	g, src := sampleGrid(t)

	s, err := NewSampler(g, []float64{0, 0}, []float64{315, -45})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	dst := make([]float32, 2)
	if err := s.Apply(src, dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Halfway between col 3 (13) and col 0 (10) on row 1.
	for i, v := range dst {
		if math.Abs(float64(v)-11.5) > 1e-6 {
			t.Errorf("point %d: expected 11.5, got %v", i, v)
		}
	}
}

// TestSampler_ClampsLatitude tests that points beyond the poles take the edge row
func TestSampler_ClampsLatitude(t *testing.T) {
	g, src := sampleGrid(t)

	s, err := NewSampler(g, []float64{40, -40}, []float64{90, 90})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	dst := make([]float32, 2)
	if err := s.Apply(src, dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if dst[0] != 1 || dst[1] != 21 {
		t.Errorf("expected [1 21], got %v", dst)
	}
}

// TestSampler_Errors tests argument validation
func TestSampler_Errors(t *testing.T) {
	g, src := sampleGrid(t)

	if _, err := NewSampler(g, []float64{0, 1}, []float64{0}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewSampler(g, []float64{math.NaN()}, []float64{0}); err == nil {
		t.Error("expected error for NaN latitude")
	}

	s, err := NewSampler(g, []float64{0}, []float64{0})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	if err := s.Apply(src[:3], make([]float32, 1)); err == nil {
		t.Error("expected error for short source")
	}
	if err := s.Apply(src, make([]float32, 2)); err == nil {
		t.Error("expected error for wrong destination length")
	}
}
