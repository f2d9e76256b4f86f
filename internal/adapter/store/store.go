// Package store defines the hierarchical output store: named groups holding
// dimensions, typed variables and attributes, written in hyperslabs.
package store

import (
	"errors"
	"fmt"
)

// Root is the name of the top-level group.
const Root = ""

// Unlimited is the length that declares a growable dimension.
const Unlimited = 0

// Sentinel errors returned by every backend.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflicting definition")
	ErrOutOfBounds = errors.New("slab out of bounds")
	ErrClosed      = errors.New("store closed")
	ErrReadOnly    = errors.New("store is read-only")
)

// DType is the on-disk element type of a variable.
type DType int

const (
	Float32 DType = iota
	Float64
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Round converts v to the precision the dtype keeps on disk.
func (d DType) Round(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Int32:
		return float64(int32(v))
	}
	return v
}

// VarSpec declares a variable.
type VarSpec struct {
	Name     string
	Dims     []string
	DType    DType
	Compress bool
	// Chunks is a per-dimension chunk length for chunked backends.
	// Zero entries default to 1 on an unlimited dimension and the full length otherwise.
	Chunks []int
}

// Attrs are attribute values: string, float64, int or []float64.
type Attrs map[string]any

// DimInfo describes a dimension and its current length.
type DimInfo struct {
	Name      string `json:"name"`
	Len       int    `json:"len"`
	Unlimited bool   `json:"unlimited"`
}

// VarInfo describes a variable and its current shape.
type VarInfo struct {
	Name  string   `json:"name"`
	Dims  []string `json:"dims"`
	Shape []int    `json:"shape"`
	DType string   `json:"dtype"`
	Attrs Attrs    `json:"attrs,omitempty"`
}

// GroupInfo describes one group.
type GroupInfo struct {
	Name  string    `json:"name"`
	Dims  []DimInfo `json:"dims"`
	Vars  []VarInfo `json:"variables"`
	Attrs Attrs     `json:"attrs,omitempty"`
}

// Store is a hierarchical array store. Groups are one level deep below Root.
// Implementations must accept concurrent WriteSlab calls on disjoint slabs.
type Store interface {
	// CreateGroup creates a group; creating an existing group is a no-op.
	CreateGroup(name string) error

	// DefineDim declares a dimension. Redefining with the same length is a no-op.
	DefineDim(group, name string, length int) error

	// DefineVar declares a variable. Dimensions resolve in group, then Root.
	// Redeclaring the same name, dims and dtype returns created=false.
	DefineVar(group string, spec VarSpec) (created bool, err error)

	// PutAttrs merges attributes into a group (variable == "") or a variable.
	PutAttrs(group, variable string, attrs Attrs) error

	// WriteSlab writes count-shaped data at start. The leading unlimited
	// dimension grows to fit; fixed dimensions are bounds-checked.
	WriteSlab(group, variable string, start, count []int, data []float64) error

	// ReadSlab reads a count-shaped slab at start. Unwritten cells of float
	// variables read as NaN.
	ReadSlab(group, variable string, start, count []int) ([]float64, error)

	// Groups lists the groups below Root in creation order.
	Groups() []string

	// Describe reports the dimensions, variables and attributes of a group.
	Describe(group string) (*GroupInfo, error)

	// Close flushes and releases the store.
	Close() error
}
