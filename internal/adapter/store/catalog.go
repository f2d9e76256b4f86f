package store

import (
	"fmt"
	"slices"
	"sync"
)

// Catalog tracks the group, dimension and variable metadata shared by every
// backend. It enforces declaration rules; backends only move bytes.
type Catalog struct {
	mu     sync.RWMutex
	groups map[string]*catGroup
	order  []string
}

type catGroup struct {
	dims     map[string]*catDim
	dimOrder []string
	vars     map[string]*catVar
	varOrder []string
	attrs    Attrs
}

type catDim struct {
	name      string
	length    int
	unlimited bool
}

type catVar struct {
	spec  VarSpec
	dims  []*catDim
	attrs Attrs
}

// Var is a resolved variable snapshot.
type Var struct {
	Group string
	Spec  VarSpec
	Shape []int
	// Growable is set when the leading dimension is unlimited.
	Growable bool
}

// NewCatalog returns a catalog holding only the root group.
func NewCatalog() *Catalog {
	return &Catalog{groups: map[string]*catGroup{Root: newCatGroup()}}
}

func newCatGroup() *catGroup {
	return &catGroup{
		dims:  make(map[string]*catDim),
		vars:  make(map[string]*catVar),
		attrs: make(Attrs),
	}
}

// CreateGroup adds a group. It reports false when the group already exists.
func (c *Catalog) CreateGroup(name string) (bool, error) {
	if name == Root {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[name]; ok {
		return false, nil
	}
	c.groups[name] = newCatGroup()
	c.order = append(c.order, name)
	return true, nil
}

// DefineDim declares a dimension; length Unlimited makes it growable.
func (c *Catalog) DefineDim(group, name string, length int) (bool, error) {
	if length < 0 {
		return false, fmt.Errorf("dimension %q: negative length %d", name, length)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return false, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	if d, ok := g.dims[name]; ok {
		if d.unlimited != (length == Unlimited) || (!d.unlimited && d.length != length) {
			return false, fmt.Errorf("dimension %q redefined with length %d: %w", name, length, ErrConflict)
		}
		return false, nil
	}
	g.dims[name] = &catDim{name: name, length: length, unlimited: length == Unlimited}
	g.dimOrder = append(g.dimOrder, name)
	return true, nil
}

// lookupDim resolves a dimension in the group, then in Root.
func (c *Catalog) lookupDim(g *catGroup, name string) (*catDim, bool) {
	if d, ok := g.dims[name]; ok {
		return d, true
	}
	d, ok := c.groups[Root].dims[name]
	return d, ok
}

// DefineVar declares a variable; see Store.DefineVar.
func (c *Catalog) DefineVar(group string, spec VarSpec) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return false, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	if v, ok := g.vars[spec.Name]; ok {
		if !slices.Equal(v.spec.Dims, spec.Dims) || v.spec.DType != spec.DType {
			return false, fmt.Errorf("variable %q redeclared as %v %s, have %v %s: %w",
				spec.Name, spec.Dims, spec.DType, v.spec.Dims, v.spec.DType, ErrConflict)
		}
		return false, nil
	}
	if spec.Chunks != nil && len(spec.Chunks) != len(spec.Dims) {
		return false, fmt.Errorf("variable %q: %d chunk lengths for %d dims", spec.Name, len(spec.Chunks), len(spec.Dims))
	}

	dims := make([]*catDim, len(spec.Dims))
	for i, name := range spec.Dims {
		d, ok := c.lookupDim(g, name)
		if !ok {
			return false, fmt.Errorf("variable %q: dimension %q: %w", spec.Name, name, ErrNotFound)
		}
		if d.unlimited && i != 0 {
			return false, fmt.Errorf("variable %q: unlimited dimension %q must come first", spec.Name, name)
		}
		dims[i] = d
	}

	spec.Dims = slices.Clone(spec.Dims)
	spec.Chunks = slices.Clone(spec.Chunks)
	g.vars[spec.Name] = &catVar{spec: spec, dims: dims, attrs: make(Attrs)}
	g.varOrder = append(g.varOrder, spec.Name)
	return true, nil
}

// PutAttrs merges attributes into a group or variable.
func (c *Catalog) PutAttrs(group, variable string, attrs Attrs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[group]
	if !ok {
		return fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	target := g.attrs
	if variable != "" {
		v, ok := g.vars[variable]
		if !ok {
			return fmt.Errorf("variable %q in group %q: %w", variable, group, ErrNotFound)
		}
		target = v.attrs
	}
	for k, val := range attrs {
		target[k] = val
	}
	return nil
}

// Lookup returns a snapshot of a variable.
func (c *Catalog) Lookup(group, variable string) (*Var, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, err := c.variable(group, variable)
	if err != nil {
		return nil, err
	}
	return snapshot(group, v), nil
}

func (c *Catalog) variable(group, variable string) (*catVar, error) {
	g, ok := c.groups[group]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	v, ok := g.vars[variable]
	if !ok {
		return nil, fmt.Errorf("variable %q in group %q: %w", variable, group, ErrNotFound)
	}
	return v, nil
}

func snapshot(group string, v *catVar) *Var {
	shape := make([]int, len(v.dims))
	for i, d := range v.dims {
		shape[i] = d.length
	}
	return &Var{
		Group:    group,
		Spec:     v.spec,
		Shape:    shape,
		Growable: len(v.dims) > 0 && v.dims[0].unlimited,
	}
}

// Extend validates a write slab and grows the leading unlimited dimension to
// cover it. It returns the variable after growth and the previous length of
// the leading dimension.
func (c *Catalog) Extend(group, variable string, start, count []int) (*Var, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.variable(group, variable)
	if err != nil {
		return nil, 0, err
	}
	before := snapshot(group, v)
	if err := CheckSlab(before.Shape, start, count, before.Growable); err != nil {
		return nil, 0, fmt.Errorf("variable %q: %w", variable, err)
	}
	prev := 0
	if len(v.dims) > 0 {
		prev = v.dims[0].length
	}
	if before.Growable {
		if end := start[0] + count[0]; end > v.dims[0].length {
			v.dims[0].length = end
		}
	}
	return snapshot(group, v), prev, nil
}

// CheckRead validates a read slab.
func (c *Catalog) CheckRead(group, variable string, start, count []int) (*Var, error) {
	v, err := c.Lookup(group, variable)
	if err != nil {
		return nil, err
	}
	if err := CheckSlab(v.Shape, start, count, false); err != nil {
		return nil, fmt.Errorf("variable %q: %w", variable, err)
	}
	return v, nil
}

// HasGroup reports whether a group exists.
func (c *Catalog) HasGroup(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.groups[name]
	return ok
}

// Groups lists groups below Root in creation order.
func (c *Catalog) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Vars lists the variables of a group in declaration order.
func (c *Catalog) Vars(group string) []*Var {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[group]
	if !ok {
		return nil
	}
	out := make([]*Var, 0, len(g.varOrder))
	for _, name := range g.varOrder {
		out = append(out, snapshot(group, g.vars[name]))
	}
	return out
}

// Dims lists the dimensions declared in a group.
func (c *Catalog) Dims(group string) []DimInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[group]
	if !ok {
		return nil
	}
	out := make([]DimInfo, 0, len(g.dimOrder))
	for _, name := range g.dimOrder {
		d := g.dims[name]
		out = append(out, DimInfo{Name: d.name, Len: d.length, Unlimited: d.unlimited})
	}
	return out
}

// Attrs returns a copy of the attributes of a group or variable.
func (c *Catalog) Attrs(group, variable string) Attrs {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[group]
	if !ok {
		return nil
	}
	src := g.attrs
	if variable != "" {
		v, ok := g.vars[variable]
		if !ok {
			return nil
		}
		src = v.attrs
	}
	out := make(Attrs, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SetDimLength records the current length of an unlimited dimension, used
// when a store is reopened from disk.
func (c *Catalog) SetDimLength(group, name string, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[group]; ok {
		if d, ok := g.dims[name]; ok && d.unlimited && length > d.length {
			d.length = length
		}
	}
}

// Describe builds a GroupInfo from the catalog.
func (c *Catalog) Describe(group string) (*GroupInfo, error) {
	if !c.HasGroup(group) {
		return nil, fmt.Errorf("group %q: %w", group, ErrNotFound)
	}
	info := &GroupInfo{
		Name:  group,
		Dims:  c.Dims(group),
		Attrs: c.Attrs(group, ""),
	}
	for _, v := range c.Vars(group) {
		info.Vars = append(info.Vars, VarInfo{
			Name:  v.Spec.Name,
			Dims:  v.Spec.Dims,
			Shape: v.Shape,
			DType: v.Spec.DType.String(),
			Attrs: c.Attrs(group, v.Spec.Name),
		})
	}
	return info, nil
}
