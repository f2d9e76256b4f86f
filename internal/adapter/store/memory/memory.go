// Package memory is an in-process store backend for tests and dry runs.
package memory

import (
	"fmt"
	"sync"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// Store keeps every variable as a dense float64 array.
type Store struct {
	*store.Catalog

	mu     sync.RWMutex
	arrays map[string]*array
	closed bool
}

type array struct {
	shape []int
	data  []float64
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		Catalog: store.NewCatalog(),
		arrays:  make(map[string]*array),
	}
}

func key(group, variable string) string { return group + "/" + variable }

// CreateGroup implements store.Store.
func (s *Store) CreateGroup(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.Catalog.CreateGroup(name)
	return err
}

// DefineDim implements store.Store.
func (s *Store) DefineDim(group, name string, length int) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.Catalog.DefineDim(group, name, length)
	return err
}

// DefineVar implements store.Store.
func (s *Store) DefineVar(group string, spec store.VarSpec) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.Catalog.DefineVar(group, spec)
}

// PutAttrs implements store.Store.
func (s *Store) PutAttrs(group, variable string, attrs store.Attrs) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Catalog.PutAttrs(group, variable, attrs)
}

// WriteSlab implements store.Store.
func (s *Store) WriteSlab(group, variable string, start, count []int, data []float64) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(data) != store.Size(count) {
		return fmt.Errorf("write %s: %d values for slab %v: %w", variable, len(data), count, store.ErrOutOfBounds)
	}
	v, _, err := s.Extend(group, variable, start, count)
	if err != nil {
		return err
	}

	rounded := make([]float64, len(data))
	for i, x := range data {
		rounded[i] = v.Spec.DType.Round(x)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensure(key(group, variable), v)
	store.PutSlab(a.data, a.shape, rounded, start, count)
	return nil
}

// ReadSlab implements store.Store.
func (s *Store) ReadSlab(group, variable string, start, count []int) ([]float64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	v, err := s.CheckRead(group, variable, start, count)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.ensure(key(group, variable), v)
	out := make([]float64, store.Size(count))
	store.GetSlab(out, a.data, a.shape, start, count)
	return out, nil
}

// ensure sizes the backing array to v.Shape, filling new cells. Only the
// leading dimension ever grows, so existing data keeps its offsets.
func (s *Store) ensure(k string, v *store.Var) *array {
	a, ok := s.arrays[k]
	if !ok {
		a = &array{shape: append([]int(nil), v.Shape...), data: store.Fill(v.Spec.DType, store.Size(v.Shape))}
		s.arrays[k] = a
		return a
	}
	if len(v.Shape) > 0 && v.Shape[0] > a.shape[0] {
		a.data = append(a.data, store.Fill(v.Spec.DType, store.Size(v.Shape)-len(a.data))...)
		a.shape[0] = v.Shape[0]
	}
	return a
}

// Describe implements store.Store.
func (s *Store) Describe(group string) (*store.GroupInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Catalog.Describe(group)
}

// Close implements store.Store. Data is discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.arrays = nil
	return nil
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}
