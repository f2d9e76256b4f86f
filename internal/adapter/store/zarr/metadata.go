package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Metadata file names of the Zarr v2 layout.
const (
	zgroupFile = ".zgroup"
	zarrayFile = ".zarray"
	zattrsFile = ".zattrs"

	// arrayDimsAttr is xarray's attribute naming array dimensions.
	arrayDimsAttr = "_ARRAY_DIMENSIONS"
	// groupDimsAttr records the dimensions declared in a group.
	groupDimsAttr = "_DIMENSIONS"
)

// ArrayMeta is the .zarray document.
type ArrayMeta struct {
	ZarrFormat         int         `json:"zarr_format"`
	Shape              []int       `json:"shape"`
	Chunks             []int       `json:"chunks"`
	DType              string      `json:"dtype"`
	Compressor         *Compressor `json:"compressor"`
	FillValue          any         `json:"fill_value"`
	Order              string      `json:"order"`
	Filters            any         `json:"filters"`
	DimensionSeparator string      `json:"dimension_separator,omitempty"`
}

// Compressor is the numcodecs compressor configuration.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

func (m *ArrayMeta) compressed() (bool, error) {
	if m.Compressor == nil {
		return false, nil
	}
	if m.Compressor.ID != "zstd" {
		return false, fmt.Errorf("unsupported zarr compressor %q", m.Compressor.ID)
	}
	return true, nil
}

func (m *ArrayMeta) separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// writeAtomic replaces path with data through a temporary file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// readAttrs loads a .zattrs file; a missing file is an empty attribute set.
func readAttrs(dir string) (map[string]any, error) {
	attrs := map[string]any{}
	err := readJSON(filepath.Join(dir, zattrsFile), &attrs)
	if errors.Is(err, fs.ErrNotExist) {
		return attrs, nil
	}
	return attrs, err
}

func isArray(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, zarrayFile))
	return err == nil
}

func isGroup(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, zgroupFile))
	return err == nil
}
