// Package zarr implements the output store as a Zarr v2 directory tree.
// Groups are directories with .zgroup; arrays carry .zarray and .zattrs with
// xarray's _ARRAY_DIMENSIONS so the result opens directly in xarray.
package zarr

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// Options configures a new store.
type Options struct {
	// Compression enables zstd for variables declared with Compress.
	Compression bool
	// Level is the zstd compression level; 0 selects 3.
	Level int
	// Overwrite removes an existing store at the path.
	Overwrite bool
}

// Store is a Zarr v2 directory store.
type Store struct {
	*store.Catalog

	root     string
	readOnly bool
	opts     Options
	codec    *codec

	metaMu sync.Mutex // serializes metadata documents
	arrays map[string]*ArrayMeta
	chunks sync.Map // chunk path -> *sync.Mutex

	closeMu sync.RWMutex
	closed  bool
}

var _ store.Store = (*Store)(nil)

// Create initializes an empty store at dir.
func Create(dir string, opts Options) (*Store, error) {
	if opts.Level == 0 {
		opts.Level = 3
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		if !opts.Overwrite {
			return nil, fmt.Errorf("zarr store %s already exists", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to remove existing store: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s, err := newStore(dir, opts, false)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, zgroupFile), groupMeta{ZarrFormat: 2}); err != nil {
		return nil, err
	}
	if err := s.writeGroupAttrs(store.Root); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing store read-only.
func Open(dir string) (*Store, error) {
	if !isGroup(dir) {
		return nil, fmt.Errorf("%s is not a zarr group: %w", dir, store.ErrNotFound)
	}
	s, err := newStore(dir, Options{}, true)
	if err != nil {
		return nil, err
	}
	if err := s.load(store.Root, dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		sub := filepath.Join(dir, e.Name())
		if !e.IsDir() || !isGroup(sub) {
			continue
		}
		if _, err := s.Catalog.CreateGroup(e.Name()); err != nil {
			return nil, err
		}
		if err := s.load(e.Name(), sub); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newStore(dir string, opts Options, readOnly bool) (*Store, error) {
	c, err := newCodec(max(opts.Level, 1))
	if err != nil {
		return nil, err
	}
	return &Store{
		Catalog:  store.NewCatalog(),
		root:     dir,
		readOnly: readOnly,
		opts:     opts,
		codec:    c,
		arrays:   make(map[string]*ArrayMeta),
	}, nil
}

// load registers the dimensions, arrays and attributes found in one group directory.
func (s *Store) load(group, dir string) error {
	attrs, err := readAttrs(dir)
	if err != nil {
		return err
	}
	if dims, ok := attrs[groupDimsAttr].(map[string]any); ok {
		names := make([]string, 0, len(dims))
		for name := range dims {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n, _ := dims[name].(float64)
			if _, err := s.Catalog.DefineDim(group, name, int(n)); err != nil {
				return err
			}
		}
	}
	delete(attrs, groupDimsAttr)
	if err := s.Catalog.PutAttrs(group, "", attrs); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		sub := filepath.Join(dir, e.Name())
		if !e.IsDir() || !isArray(sub) {
			continue
		}
		var meta ArrayMeta
		if err := readJSON(filepath.Join(sub, zarrayFile), &meta); err != nil {
			return err
		}
		vattrs, err := readAttrs(sub)
		if err != nil {
			return err
		}
		dims := stringList(vattrs[arrayDimsAttr])
		delete(vattrs, arrayDimsAttr)
		dtype, _, err := parseDType(meta.DType)
		if err != nil {
			return fmt.Errorf("array %s: %w", sub, err)
		}
		spec := store.VarSpec{Name: e.Name(), Dims: dims, DType: dtype, Compress: meta.Compressor != nil, Chunks: meta.Chunks}
		if _, err := s.Catalog.DefineVar(group, spec); err != nil {
			return fmt.Errorf("array %s: %w", sub, err)
		}
		if len(dims) > 0 && len(meta.Shape) > 0 {
			s.Catalog.SetDimLength(group, dims[0], meta.Shape[0])
			s.Catalog.SetDimLength(store.Root, dims[0], meta.Shape[0])
		}
		if err := s.Catalog.PutAttrs(group, e.Name(), vattrs); err != nil {
			return err
		}
		m := meta
		s.arrays[arrayKey(group, e.Name())] = &m
	}
	return nil
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func arrayKey(group, name string) string { return group + "/" + name }

func (s *Store) groupDir(group string) string {
	if group == store.Root {
		return s.root
	}
	return filepath.Join(s.root, group)
}

func (s *Store) arrayDir(group, name string) string {
	return filepath.Join(s.groupDir(group), name)
}

func (s *Store) writable() error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	if s.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (s *Store) readable() error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// CreateGroup implements store.Store.
func (s *Store) CreateGroup(name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid group name %q", name)
	}
	created, err := s.Catalog.CreateGroup(name)
	if err != nil || !created {
		return err
	}
	dir := s.groupDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create group %s: %w", name, err)
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if err := writeJSON(filepath.Join(dir, zgroupFile), groupMeta{ZarrFormat: 2}); err != nil {
		return err
	}
	return s.writeGroupAttrsLocked(name)
}

// DefineDim implements store.Store.
func (s *Store) DefineDim(group, name string, length int) error {
	if err := s.writable(); err != nil {
		return err
	}
	created, err := s.Catalog.DefineDim(group, name, length)
	if err != nil || !created {
		return err
	}
	return s.writeGroupAttrs(group)
}

// DefineVar implements store.Store.
func (s *Store) DefineVar(group string, spec store.VarSpec) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	created, err := s.Catalog.DefineVar(group, spec)
	if err != nil || !created {
		return created, err
	}
	v, err := s.Lookup(group, spec.Name)
	if err != nil {
		return false, err
	}

	chunks := make([]int, len(v.Shape))
	for i, n := range v.Shape {
		switch {
		case len(spec.Chunks) == len(v.Shape) && spec.Chunks[i] > 0:
			chunks[i] = spec.Chunks[i]
		case i == 0 && v.Growable:
			chunks[i] = 1
		default:
			chunks[i] = max(n, 1)
		}
	}
	meta := &ArrayMeta{
		ZarrFormat:         2,
		Shape:              v.Shape,
		Chunks:             chunks,
		DType:              dtypeCode(spec.DType),
		FillValue:          "NaN",
		Order:              "C",
		DimensionSeparator: ".",
	}
	if spec.DType == store.Int32 {
		meta.FillValue = 0
	}
	if spec.Compress && s.opts.Compression {
		meta.Compressor = &Compressor{ID: "zstd", Level: s.opts.Level}
	}

	dir := s.arrayDir(group, spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create array %s: %w", spec.Name, err)
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.arrays[arrayKey(group, spec.Name)] = meta
	if err := writeJSON(filepath.Join(dir, zarrayFile), meta); err != nil {
		return false, err
	}
	if err := s.writeVarAttrsLocked(group, spec.Name); err != nil {
		return false, err
	}
	return true, nil
}

// PutAttrs implements store.Store.
func (s *Store) PutAttrs(group, variable string, attrs store.Attrs) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.Catalog.PutAttrs(group, variable, attrs); err != nil {
		return err
	}
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if variable == "" {
		return s.writeGroupAttrsLocked(group)
	}
	return s.writeVarAttrsLocked(group, variable)
}

func (s *Store) writeGroupAttrs(group string) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.writeGroupAttrsLocked(group)
}

func (s *Store) writeGroupAttrsLocked(group string) error {
	doc := map[string]any{}
	for k, v := range s.Catalog.Attrs(group, "") {
		doc[k] = v
	}
	dims := map[string]int{}
	for _, d := range s.Catalog.Dims(group) {
		if d.Unlimited {
			dims[d.Name] = store.Unlimited
		} else {
			dims[d.Name] = d.Len
		}
	}
	doc[groupDimsAttr] = dims
	return writeJSON(filepath.Join(s.groupDir(group), zattrsFile), doc)
}

func (s *Store) writeVarAttrsLocked(group, variable string) error {
	v, err := s.Lookup(group, variable)
	if err != nil {
		return err
	}
	doc := map[string]any{}
	for k, val := range s.Catalog.Attrs(group, variable) {
		doc[k] = jsonValue(val)
	}
	doc[arrayDimsAttr] = v.Spec.Dims
	return writeJSON(filepath.Join(s.arrayDir(group, variable), zattrsFile), doc)
}

// jsonValue maps non-finite floats to the strings xarray reads back.
func jsonValue(v any) any {
	if f, ok := v.(float64); ok {
		switch {
		case math.IsNaN(f):
			return "NaN"
		case math.IsInf(f, 1):
			return "Infinity"
		case math.IsInf(f, -1):
			return "-Infinity"
		}
	}
	return v
}

// grow records a longer leading dimension in .zarray.
func (s *Store) grow(group, variable string, shape []int) (*ArrayMeta, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	meta, ok := s.arrays[arrayKey(group, variable)]
	if !ok {
		return nil, fmt.Errorf("array %s/%s: %w", group, variable, store.ErrNotFound)
	}
	if len(shape) > 0 && shape[0] > meta.Shape[0] {
		meta.Shape = append([]int(nil), shape...)
		if err := writeJSON(filepath.Join(s.arrayDir(group, variable), zarrayFile), meta); err != nil {
			return nil, err
		}
	}
	cp := *meta
	cp.Shape = append([]int(nil), meta.Shape...)
	return &cp, nil
}

func (s *Store) meta(group, variable string) (*ArrayMeta, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	meta, ok := s.arrays[arrayKey(group, variable)]
	if !ok {
		return nil, fmt.Errorf("array %s/%s: %w", group, variable, store.ErrNotFound)
	}
	cp := *meta
	return &cp, nil
}

// WriteSlab implements store.Store. Chunks only partly covered by the slab
// are read, merged and rewritten under a per-chunk lock.
func (s *Store) WriteSlab(group, variable string, start, count []int, data []float64) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(data) != store.Size(count) {
		return fmt.Errorf("write %s: %d values for slab %v: %w", variable, len(data), count, store.ErrOutOfBounds)
	}
	v, _, err := s.Extend(group, variable, start, count)
	if err != nil {
		return err
	}
	meta, err := s.grow(group, variable, v.Shape)
	if err != nil {
		return err
	}
	compressed, err := meta.compressed()
	if err != nil {
		return err
	}
	dir := s.arrayDir(group, variable)

	return forEachChunk(meta.Chunks, start, count, func(ci, inStart, inCount, slabStart []int) error {
		path := filepath.Join(dir, chunkKey(ci, meta.separator()))
		mu := s.chunkLock(path)
		mu.Lock()
		defer mu.Unlock()

		n := store.Size(meta.Chunks)
		var buf []float64
		var err error
		if store.Size(inCount) == n {
			buf = make([]float64, n)
		} else {
			buf, err = s.readChunk(path, meta, compressed)
			if err != nil {
				return err
			}
		}
		store.CopyRegion(buf, meta.Chunks, inStart, data, count, slabStart, inCount)
		enc, err := s.codec.encode(buf, meta.DType, compressed)
		if err != nil {
			return err
		}
		if err := writeAtomic(path, enc); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", path, err)
		}
		return nil
	})
}

// ReadSlab implements store.Store.
func (s *Store) ReadSlab(group, variable string, start, count []int) ([]float64, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	if _, err := s.CheckRead(group, variable, start, count); err != nil {
		return nil, err
	}
	meta, err := s.meta(group, variable)
	if err != nil {
		return nil, err
	}
	compressed, err := meta.compressed()
	if err != nil {
		return nil, err
	}
	dir := s.arrayDir(group, variable)

	out := make([]float64, store.Size(count))
	err = forEachChunk(meta.Chunks, start, count, func(ci, inStart, inCount, slabStart []int) error {
		path := filepath.Join(dir, chunkKey(ci, meta.separator()))
		mu := s.chunkLock(path)
		mu.Lock()
		buf, err := s.readChunk(path, meta, compressed)
		mu.Unlock()
		if err != nil {
			return err
		}
		store.CopyRegion(out, count, slabStart, buf, meta.Chunks, inStart, inCount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) chunkLock(path string) *sync.Mutex {
	mu, _ := s.chunks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// readChunk decodes a chunk file; a missing chunk is all fill values.
func (s *Store) readChunk(path string, meta *ArrayMeta, compressed bool) ([]float64, error) {
	n := store.Size(meta.Chunks)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		dtype, _, perr := parseDType(meta.DType)
		if perr != nil {
			return nil, perr
		}
		return store.Fill(dtype, n), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", path, err)
	}
	values, err := s.codec.decode(data, meta.DType, compressed, n)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	return values, nil
}

// forEachChunk visits every chunk overlapping the slab. For each it passes the
// chunk grid index, the region start and count inside the chunk, and the
// region start inside the slab.
func forEachChunk(chunks, start, count []int, fn func(ci, inStart, inCount, slabStart []int) error) error {
	rank := len(chunks)
	if rank == 0 {
		return fn(nil, nil, nil, nil)
	}
	if store.Size(count) == 0 {
		return nil
	}
	first := make([]int, rank)
	last := make([]int, rank)
	for i := range chunks {
		first[i] = start[i] / chunks[i]
		last[i] = (start[i] + count[i] - 1) / chunks[i]
	}

	ci := append([]int(nil), first...)
	for {
		inStart := make([]int, rank)
		inCount := make([]int, rank)
		slabStart := make([]int, rank)
		for i := range chunks {
			lo := max(start[i], ci[i]*chunks[i])
			hi := min(start[i]+count[i], (ci[i]+1)*chunks[i])
			inStart[i] = lo - ci[i]*chunks[i]
			inCount[i] = hi - lo
			slabStart[i] = lo - start[i]
		}
		if err := fn(append([]int(nil), ci...), inStart, inCount, slabStart); err != nil {
			return err
		}

		k := rank - 1
		for ; k >= 0; k-- {
			ci[k]++
			if ci[k] <= last[k] {
				break
			}
			ci[k] = first[k]
		}
		if k < 0 {
			return nil
		}
	}
}

func chunkKey(ci []int, sep string) string {
	if len(ci) == 0 {
		return "0"
	}
	parts := make([]string, len(ci))
	for i, c := range ci {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}

// Describe implements store.Store.
func (s *Store) Describe(group string) (*store.GroupInfo, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.Catalog.Describe(group)
}

// Close implements store.Store. Every write is already on disk.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.codec.close()
	return nil
}

// ReadArray reads a whole Zarr v2 array directory, e.g. a coordinate array
// of an externally produced store.
func ReadArray(dir string) ([]float64, []int, error) {
	var meta ArrayMeta
	if err := readJSON(filepath.Join(dir, zarrayFile), &meta); err != nil {
		return nil, nil, err
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, nil, fmt.Errorf("array %s: order %q not supported", dir, meta.Order)
	}
	compressed, err := meta.compressed()
	if err != nil {
		return nil, nil, fmt.Errorf("array %s: %w", dir, err)
	}
	c, err := newCodec(3)
	if err != nil {
		return nil, nil, err
	}
	defer c.close()
	s := &Store{codec: c}

	out := make([]float64, store.Size(meta.Shape))
	start := make([]int, len(meta.Shape))
	err = forEachChunk(meta.Chunks, start, meta.Shape, func(ci, inStart, inCount, slabStart []int) error {
		buf, err := s.readChunk(filepath.Join(dir, chunkKey(ci, meta.separator())), &meta, compressed)
		if err != nil {
			return err
		}
		store.CopyRegion(out, meta.Shape, slabStart, buf, meta.Chunks, inStart, inCount)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, meta.Shape, nil
}
