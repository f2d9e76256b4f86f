// Package diagnostic implements the per-channel computations attached to a
// domain: raw member storage, skill against a reference, and CRPS.
package diagnostic

import (
	"fmt"

	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/domain"
)

// Dimension names declared in the root group.
const (
	DimTime     = "time"
	DimEnsemble = "ensemble"
)

// Variable is a declared output variable with its extents fixed.
// Handles are resolved once and shared by every diagnostic that targets
// the same (group, name).
type Variable struct {
	Group string
	Name  string
	Dims  []string
	// Spatial is the domain shape; Ensemble is zero for reduced variables.
	Spatial  []int
	Ensemble int

	cells int
	store store.Store
}

// Spec describes a variable to declare.
type Spec struct {
	Group         string
	Type          domain.DiagnosticType
	Channel       string
	SpatialDims   []string
	Spatial       []int
	EnsembleTotal int
	Compress      bool
}

// Declare declares the variable for a diagnostic type and channel. Raw
// variables are (time, ensemble, *spatial); every other type reduces the
// ensemble and is (time, *spatial). created is false when an identical
// variable already existed.
func Declare(s store.Store, spec Spec) (*Variable, bool, error) {
	v := &Variable{
		Group:   spec.Group,
		Name:    spec.Type.VariableName(spec.Channel),
		Spatial: append([]int(nil), spec.Spatial...),
		cells:   1,
		store:   s,
	}
	for _, n := range spec.Spatial {
		v.cells *= n
	}

	var chunks []int
	switch spec.Type {
	case domain.DiagnosticRaw:
		v.Ensemble = spec.EnsembleTotal
		v.Dims = append([]string{DimTime, DimEnsemble}, spec.SpatialDims...)
		chunks = append([]int{1, 1}, spec.Spatial...)
	case domain.DiagnosticSkill, domain.DiagnosticCRPS:
		v.Dims = append([]string{DimTime}, spec.SpatialDims...)
		chunks = append([]int{1}, spec.Spatial...)
	default:
		return nil, false, &domain.DiagnosticError{
			Kind:       domain.KindUnknownType,
			Domain:     spec.Group,
			Diagnostic: spec.Type.String(),
			Channel:    spec.Channel,
		}
	}

	created, err := s.DefineVar(spec.Group, store.VarSpec{
		Name:     v.Name,
		Dims:     v.Dims,
		DType:    store.Float32,
		Compress: spec.Compress,
		Chunks:   chunks,
	})
	if err != nil {
		return nil, false, fmt.Errorf("declare %s/%s: %w", spec.Group, v.Name, err)
	}
	if created {
		attrs := store.Attrs{"channel": spec.Channel, "diagnostic": spec.Type.String()}
		if gfs, ok := domain.GFSName(spec.Channel); ok {
			attrs["gfs_name"] = gfs
		}
		if err := s.PutAttrs(spec.Group, v.Name, attrs); err != nil {
			return nil, false, fmt.Errorf("declare %s/%s attributes: %w", spec.Group, v.Name, err)
		}
	}
	return v, created, nil
}

// Cells is the number of spatial values per member.
func (v *Variable) Cells() int { return v.cells }

// WriteMembers writes members consecutive ensemble slots starting at offset.
// values is (members, cells) row-major.
func (v *Variable) WriteMembers(timeIndex, offset, members int, values []float32) error {
	start := make([]int, 0, len(v.Dims))
	count := make([]int, 0, len(v.Dims))
	start = append(start, timeIndex, offset)
	count = append(count, 1, members)
	for _, n := range v.Spatial {
		start = append(start, 0)
		count = append(count, n)
	}
	data := make([]float64, len(values))
	for i, x := range values {
		data[i] = float64(x)
	}
	return v.store.WriteSlab(v.Group, v.Name, start, count, data)
}

// WriteReduced writes one (spatial) slice at timeIndex.
func (v *Variable) WriteReduced(timeIndex int, values []float64) error {
	start, count := v.timeSlab(timeIndex)
	return v.store.WriteSlab(v.Group, v.Name, start, count, values)
}

// Read returns the whole slice at timeIndex: (ensemble, *spatial) for raw
// variables and (*spatial) otherwise.
func (v *Variable) Read(timeIndex int) ([]float64, error) {
	start, count := v.timeSlab(timeIndex)
	return v.store.ReadSlab(v.Group, v.Name, start, count)
}

func (v *Variable) timeSlab(timeIndex int) (start, count []int) {
	start = make([]int, len(v.Dims))
	count = make([]int, 0, len(v.Dims))
	start[0] = timeIndex
	count = append(count, 1)
	if v.Ensemble > 0 {
		count = append(count, v.Ensemble)
	}
	count = append(count, v.Spatial...)
	return start, count
}
