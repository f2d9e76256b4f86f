package netcdf

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"
)

// VarShape returns the current dimension lengths of a variable.
func VarShape(v netcdf.Var) ([]int, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		n, err := d.Len()
		if err != nil {
			return nil, fmt.Errorf("failed to get dim%d length: %w", i, err)
		}
		shape[i] = int(n)
	}
	return shape, nil
}

// ReadVar reads a whole numeric variable as float64, returning its shape.
// _FillValue and missing_value cells become NaN.
func ReadVar(v netcdf.Var) ([]float64, []int, error) {
	shape, err := VarShape(v)
	if err != nil {
		return nil, nil, err
	}
	n := 1
	for _, s := range shape {
		n *= s
	}

	t, err := v.Type()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, n)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported var type: %v", t)
	}

	if t == netcdf.DOUBLE || t == netcdf.FLOAT {
		if fv, ok := fillValue(v); ok {
			for i := range out {
				if out[i] == fv {
					out[i] = math.NaN()
				}
			}
		}
	}
	return out, shape, nil
}

// fillValue returns the _FillValue or missing_value attribute if present as float64.
func fillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		a := v.Attr(name)
		if n, err := a.Len(); err != nil || n == 0 {
			continue
		}
		buf64 := make([]float64, 1)
		if err := a.ReadFloat64s(buf64); err == nil {
			return buf64[0], true
		}
		buf32 := make([]float32, 1)
		if err := a.ReadFloat32s(buf32); err == nil {
			return float64(buf32[0]), true
		}
	}
	return 0, false
}

// ReadStringAttr returns a text attribute, or false when absent.
func ReadStringAttr(a netcdf.Attr) (string, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false
	}
	t, err := a.Type()
	if err != nil || t != netcdf.CHAR {
		return "", false
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false
	}
	return string(buf), true
}
