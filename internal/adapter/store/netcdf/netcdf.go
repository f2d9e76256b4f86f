// Package netcdf implements the output store with netCDF-4 files: root.nc
// for the top-level group and one <group>.nc per domain group.
package netcdf

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

const (
	rootFile = "root"
	fileExt  = ".nc"

	// DefaultDeflateLevel is used when Options.Level is unset.
	DefaultDeflateLevel = 4
)

// Options configures a new store.
type Options struct {
	// Level is the zlib deflate level, 1 to 9, for variables declared with
	// Compress. Larger values are clamped to 9.
	Level int
}

// Store writes netCDF-4 files. The netCDF C library is not thread-safe, so
// every call holds one mutex.
type Store struct {
	*store.Catalog

	dir      string
	readOnly bool
	level    int

	mu     sync.Mutex
	files  map[string]*file
	closed bool
}

type file struct {
	ds    netcdf.Dataset
	indef bool
	dims  map[string]netcdf.Dim
	vars  map[string]netcdf.Var
}

var _ store.Store = (*Store)(nil)

// Create starts a new store in dir, replacing any files of a previous run.
func Create(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	level := opts.Level
	if level <= 0 {
		level = DefaultDeflateLevel
	}
	s := &Store{Catalog: store.NewCatalog(), dir: dir, level: min(level, 9), files: make(map[string]*file)}
	if _, err := s.createFile(store.Root); err != nil {
		return nil, err
	}
	return s, nil
}

func fileName(group string) string {
	if group == store.Root {
		return rootFile + fileExt
	}
	return group + fileExt
}

func (s *Store) createFile(group string) (*file, error) {
	path := filepath.Join(s.dir, fileName(group))
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return nil, fmt.Errorf("failed to create NetCDF file %s: %w", path, err)
	}
	f := &file{ds: ds, indef: true, dims: make(map[string]netcdf.Dim), vars: make(map[string]netcdf.Var)}
	s.files[group] = f
	return f, nil
}

// enterData leaves define mode before data access.
func (f *file) enterData() error {
	if !f.indef {
		return nil
	}
	if err := f.ds.EndDef(); err != nil {
		return fmt.Errorf("enddef: %w", err)
	}
	f.indef = false
	return nil
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	return nil
}

func (s *Store) lockWrite() error {
	if err := s.lock(); err != nil {
		return err
	}
	if s.readOnly {
		s.mu.Unlock()
		return store.ErrReadOnly
	}
	return nil
}

// CreateGroup implements store.Store.
func (s *Store) CreateGroup(name string) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if name == rootFile || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid group name %q", name)
	}
	created, err := s.Catalog.CreateGroup(name)
	if err != nil || !created {
		return err
	}
	_, err = s.createFile(name)
	return err
}

// DefineDim implements store.Store.
func (s *Store) DefineDim(group, name string, length int) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	created, err := s.Catalog.DefineDim(group, name, length)
	if err != nil || !created {
		return err
	}
	f := s.files[group]
	d, err := f.ds.AddDim(name, uint64(length))
	if err != nil {
		return fmt.Errorf("failed to add dimension %s: %w", name, err)
	}
	f.indef = true
	f.dims[name] = d
	return nil
}

// fileDim returns the dimension in the group's file, mirroring a root
// dimension on first use.
func (s *Store) fileDim(group string, f *file, name string) (netcdf.Dim, error) {
	if d, ok := f.dims[name]; ok {
		return d, nil
	}
	for _, info := range s.Catalog.Dims(store.Root) {
		if info.Name != name {
			continue
		}
		length := uint64(info.Len)
		if info.Unlimited {
			length = 0
		}
		d, err := f.ds.AddDim(name, length)
		if err != nil {
			return netcdf.Dim{}, fmt.Errorf("failed to mirror dimension %s into %s: %w", name, group, err)
		}
		f.indef = true
		f.dims[name] = d
		return d, nil
	}
	return netcdf.Dim{}, fmt.Errorf("dimension %q: %w", name, store.ErrNotFound)
}

func ncType(d store.DType) netcdf.Type {
	switch d {
	case store.Float64:
		return netcdf.DOUBLE
	case store.Int32:
		return netcdf.INT
	}
	return netcdf.FLOAT
}

// DefineVar implements store.Store. Float variables get a NaN _FillValue so
// unwritten cells read as NaN. Compress turns on shuffle and zlib deflate.
func (s *Store) DefineVar(group string, spec store.VarSpec) (bool, error) {
	if err := s.lockWrite(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	created, err := s.Catalog.DefineVar(group, spec)
	if err != nil || !created {
		return created, err
	}

	f := s.files[group]
	dims := make([]netcdf.Dim, len(spec.Dims))
	for i, name := range spec.Dims {
		if dims[i], err = s.fileDim(group, f, name); err != nil {
			return false, err
		}
	}
	v, err := f.ds.AddVar(spec.Name, ncType(spec.DType), dims)
	if err != nil {
		return false, fmt.Errorf("failed to add variable %s: %w", spec.Name, err)
	}
	f.indef = true
	if spec.Compress {
		if err := v.SetCompression(true, true, s.level); err != nil {
			return false, fmt.Errorf("failed to set compression on %s: %w", spec.Name, err)
		}
	}
	switch spec.DType {
	case store.Float32:
		err = v.Attr("_FillValue").WriteFloat32s([]float32{float32(math.NaN())})
	case store.Float64:
		err = v.Attr("_FillValue").WriteFloat64s([]float64{math.NaN()})
	case store.Int32:
		err = v.Attr("_FillValue").WriteInt32s([]int32{0})
	}
	if err != nil {
		return false, fmt.Errorf("failed to set fill value on %s: %w", spec.Name, err)
	}
	f.vars[spec.Name] = v
	return true, nil
}

// PutAttrs implements store.Store.
func (s *Store) PutAttrs(group, variable string, attrs store.Attrs) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.Catalog.PutAttrs(group, variable, attrs); err != nil {
		return err
	}
	f := s.files[group]
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var a netcdf.Attr
		if variable == "" {
			a = f.ds.Attr(k)
		} else {
			a = f.vars[variable].Attr(k)
		}
		if err := writeAttr(a, attrs[k]); err != nil {
			return fmt.Errorf("attribute %s: %w", k, err)
		}
		f.indef = true
	}
	return nil
}

func writeAttr(a netcdf.Attr, v any) error {
	switch val := v.(type) {
	case string:
		return a.WriteBytes([]byte(val))
	case float64:
		return a.WriteFloat64s([]float64{val})
	case float32:
		return a.WriteFloat32s([]float32{val})
	case int:
		return a.WriteInt32s([]int32{int32(val)})
	case int32:
		return a.WriteInt32s([]int32{val})
	case []float64:
		return a.WriteFloat64s(val)
	}
	return fmt.Errorf("unsupported attribute type %T", v)
}

func toUint64(v []int) []uint64 {
	out := make([]uint64, len(v))
	for i, x := range v {
		out[i] = uint64(x)
	}
	return out
}

// WriteSlab implements store.Store.
func (s *Store) WriteSlab(group, variable string, start, count []int, data []float64) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if len(data) != store.Size(count) {
		return fmt.Errorf("write %s: %d values for slab %v: %w", variable, len(data), count, store.ErrOutOfBounds)
	}
	meta, _, err := s.Extend(group, variable, start, count)
	if err != nil {
		return err
	}
	f := s.files[group]
	if err := f.enterData(); err != nil {
		return err
	}
	v := f.vars[variable]
	st, ct := toUint64(start), toUint64(count)

	switch meta.Spec.DType {
	case store.Float64:
		err = v.WriteFloat64Slice(data, st, ct)
	case store.Int32:
		buf := make([]int32, len(data))
		for i, x := range data {
			buf[i] = int32(x)
		}
		err = v.WriteInt32Slice(buf, st, ct)
	default:
		buf := make([]float32, len(data))
		for i, x := range data {
			buf[i] = float32(x)
		}
		err = v.WriteFloat32Slice(buf, st, ct)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", variable, err)
	}
	return nil
}

// ReadSlab implements store.Store. Records past the file's own extent of
// the unlimited dimension read as fill values.
func (s *Store) ReadSlab(group, variable string, start, count []int) ([]float64, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	meta, err := s.CheckRead(group, variable, start, count)
	if err != nil {
		return nil, err
	}
	f := s.files[group]
	if err := f.enterData(); err != nil {
		return nil, err
	}
	v := f.vars[variable]

	out := store.Fill(meta.Spec.DType, store.Size(count))
	if len(count) == 0 || store.Size(count) == 0 {
		return s.readScalar(v, meta, out)
	}

	// Clip the leading dimension to what the file holds.
	shape, err := VarShape(v)
	if err != nil {
		return nil, err
	}
	have := count[0]
	if start[0]+have > shape[0] {
		have = max(shape[0]-start[0], 0)
	}
	if have == 0 {
		return out, nil
	}
	clip := append([]int(nil), count...)
	clip[0] = have
	n := store.Size(clip)
	st, ct := toUint64(start), toUint64(clip)

	switch meta.Spec.DType {
	case store.Float64:
		err = v.ReadFloat64Slice(out[:n], st, ct)
	case store.Int32:
		buf := make([]int32, n)
		if err = v.ReadInt32Slice(buf, st, ct); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	default:
		buf := make([]float32, n)
		if err = v.ReadFloat32Slice(buf, st, ct); err == nil {
			for i, x := range buf {
				out[i] = float64(x)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", variable, err)
	}
	return out, nil
}

func (s *Store) readScalar(v netcdf.Var, meta *store.Var, out []float64) ([]float64, error) {
	if len(out) == 0 {
		return out, nil
	}
	values, _, err := ReadVar(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", meta.Spec.Name, err)
	}
	copy(out, values)
	return out, nil
}

// Describe implements store.Store.
func (s *Store) Describe(group string) (*store.GroupInfo, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.Catalog.Describe(group)
}

// Close implements store.Store. It closes every file; the first error wins.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for group, f := range s.files {
		if err := f.ds.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close %s: %w", fileName(group), err)
		}
	}
	s.files = nil
	return first
}

// Open loads an existing store read-only. Dimensions are reported with their
// current lengths; the unlimited flag is not recovered.
func Open(dir string) (*Store, error) {
	rootPath := filepath.Join(dir, fileName(store.Root))
	if _, err := os.Stat(rootPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", rootPath, store.ErrNotFound)
	}
	s := &Store{Catalog: store.NewCatalog(), dir: dir, readOnly: true, files: make(map[string]*file)}

	groups := []string{store.Root}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || name == fileName(store.Root) {
			continue
		}
		groups = append(groups, strings.TrimSuffix(name, fileExt))
	}

	for _, group := range groups {
		if err := s.openFile(group); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) openFile(group string) error {
	path := filepath.Join(s.dir, fileName(group))
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	f := &file{ds: ds, dims: make(map[string]netcdf.Dim), vars: make(map[string]netcdf.Var)}
	s.files[group] = f
	if _, err := s.Catalog.CreateGroup(group); err != nil {
		return err
	}

	attrs, err := datasetAttrs(ds)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Catalog.PutAttrs(group, "", attrs); err != nil {
		return err
	}

	nvars, err := ds.NVars()
	if err != nil {
		return fmt.Errorf("%s: failed to count variables: %w", path, err)
	}
	for i := 0; i < nvars; i++ {
		v := ds.VarN(i)
		name, err := v.Name()
		if err != nil {
			return err
		}
		dims, err := v.Dims()
		if err != nil {
			return err
		}
		spec := store.VarSpec{Name: name, Dims: make([]string, len(dims))}
		for j, d := range dims {
			dn, err := d.Name()
			if err != nil {
				return err
			}
			n, err := d.Len()
			if err != nil {
				return err
			}
			spec.Dims[j] = dn
			if _, known := f.dims[dn]; !known {
				f.dims[dn] = d
				target := group
				if group != store.Root && s.rootHasDim(dn) {
					target = store.Root
				}
				if _, err := s.Catalog.DefineDim(target, dn, int(n)); err != nil && !errors.Is(err, store.ErrConflict) {
					return err
				}
			}
		}
		t, err := v.Type()
		if err != nil {
			return err
		}
		switch t {
		case netcdf.DOUBLE:
			spec.DType = store.Float64
		case netcdf.INT:
			spec.DType = store.Int32
		default:
			spec.DType = store.Float32
		}
		if _, err := s.Catalog.DefineVar(group, spec); err != nil {
			return fmt.Errorf("%s: variable %s: %w", path, name, err)
		}
		vattrs, err := varAttrs(v)
		if err != nil {
			return err
		}
		if err := s.Catalog.PutAttrs(group, name, vattrs); err != nil {
			return err
		}
		f.vars[name] = v
	}
	return nil
}

func (s *Store) rootHasDim(name string) bool {
	for _, d := range s.Catalog.Dims(store.Root) {
		if d.Name == name {
			return true
		}
	}
	return false
}

func datasetAttrs(ds netcdf.Dataset) (store.Attrs, error) {
	n, err := ds.NAttrs()
	if err != nil {
		return nil, err
	}
	out := store.Attrs{}
	for i := 0; i < n; i++ {
		a, err := ds.AttrN(i)
		if err != nil {
			return nil, err
		}
		if v, ok := readAttr(a); ok {
			out[a.Name()] = v
		}
	}
	return out, nil
}

func varAttrs(v netcdf.Var) (store.Attrs, error) {
	n, err := v.NAttrs()
	if err != nil {
		return nil, err
	}
	out := store.Attrs{}
	for i := 0; i < n; i++ {
		a, err := v.AttrN(i)
		if err != nil {
			return nil, err
		}
		if a.Name() == "_FillValue" {
			continue
		}
		if val, ok := readAttr(a); ok {
			out[a.Name()] = val
		}
	}
	return out, nil
}

func readAttr(a netcdf.Attr) (any, bool) {
	if s, ok := ReadStringAttr(a); ok {
		return s, true
	}
	n, err := a.Len()
	if err != nil || n == 0 {
		return nil, false
	}
	t, err := a.Type()
	if err != nil {
		return nil, false
	}
	switch t {
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err != nil {
			return nil, false
		}
		if n == 1 {
			return int(buf[0]), true
		}
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err != nil {
			return nil, false
		}
		if n == 1 {
			return buf[0], true
		}
		return buf, true
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err != nil {
			return nil, false
		}
		if n == 1 {
			return float64(buf[0]), true
		}
	}
	return nil, false
}
