// Package main writes synthetic forecast and reference fields for local runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ensemble-store/internal/adapter/source"
	"go.ngs.io/ensemble-store/internal/domain"
)

// fieldSpec describes one synthetic channel.
type fieldSpec struct {
	Name  string
	Units string
	Base  float64 // mean value
	Amp   float64 // meridional amplitude
}

func main() {
	// Command line flags
	outDir := flag.String("out", "./data/fields", "Output directory for forecast member files")
	refDir := flag.String("ref-out", "./data/reference", "Output directory for reference files")
	event := flag.String("event", "synthetic", "Weather event name for the reference files")
	channelList := flag.String("channels", "t2m,tcwv,z500,msl", "Comma-separated channels")
	members := flag.Int("members", 4, "Number of ensemble members")
	leads := flag.Int("leads", 4, "Number of lead times")
	rows := flag.Int("rows", 181, "Grid rows (90 to -90)")
	cols := flag.Int("cols", 360, "Grid columns (0 to 360)")
	spread := flag.Float64("spread", 0.05, "Member perturbation as a fraction of the meridional amplitude")
	seed := flag.Uint64("seed", 1, "Random seed")

	flag.Parse()

	grid, err := domain.NewEquiangularGrid(*rows, *cols)
	if err != nil {
		log.Fatalf("Invalid grid: %v", err)
	}
	var specs []fieldSpec
	for _, name := range strings.Split(*channelList, ",") {
		specs = append(specs, specFor(strings.TrimSpace(name)))
	}

	log.Printf("Generating %d members x %d lead times on a %dx%d grid", *members, *leads, *rows, *cols)
	log.Printf("Channels: %s", *channelList)

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	forecast := source.ForecastPath(*outDir)
	reference := source.ReferencePath(*refDir)

	for lead := 0; lead < *leads; lead++ {
		path := reference(domain.FieldRequest{Event: *event, Lead: lead})
		if err := writeFields(path, grid, specs, lead, 0, rng); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		for m := 0; m < *members; m++ {
			path := forecast(domain.FieldRequest{Member: m, Lead: lead})
			if err := writeFields(path, grid, specs, lead, *spread, rng); err != nil {
				log.Fatalf("Failed to write %s: %v", path, err)
			}
		}
		log.Printf("✓ Lead %d: %d member files and 1 reference file", lead, *members)
	}

	// Print summary
	bytesPerFile := grid.Size() * 4 * len(specs)
	totalMB := float64(bytesPerFile*(*members+1)**leads) / 1024 / 1024
	log.Printf("\n=== Generation Complete ===")
	log.Printf("Forecast files in: %s", *outDir)
	log.Printf("Reference files in: %s", filepath.Join(*refDir, *event))
	log.Printf("Total size: ~%.1f MB", totalMB)
}

// specFor picks plausible magnitudes for a channel. Geopotential is written
// as height in gpm, the way GFS distributes it.
func specFor(name string) fieldSpec {
	switch {
	case domain.IsGeopotential(name):
		return fieldSpec{Name: name, Units: "gpm", Base: 5500, Amp: 400}
	case name == "t2m" || strings.HasPrefix(name, "t"):
		return fieldSpec{Name: name, Units: "K", Base: 270, Amp: 30}
	case name == "tcwv":
		return fieldSpec{Name: name, Units: "kg m-2", Base: 25, Amp: 20}
	case name == "msl" || name == "sp":
		return fieldSpec{Name: name, Units: "Pa", Base: 101325, Amp: 1500}
	}
	return fieldSpec{Name: name, Units: "1", Base: 0, Amp: 10}
}

// writeFields writes every channel as a (lat, lon) float variable.
func writeFields(path string, grid *domain.Grid, specs []fieldSpec, lead int, spread float64, rng *rand.Rand) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer ds.Close()

	// Create dimensions
	latDim, err := ds.AddDim("lat", uint64(grid.Rows()))
	if err != nil {
		return err
	}
	lonDim, err := ds.AddDim("lon", uint64(grid.Cols()))
	if err != nil {
		return err
	}

	// Create coordinate variables
	latVar, err := ds.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return err
	}
	if err := latVar.Attr("units").WriteBytes([]byte("degrees_north")); err != nil {
		return err
	}
	lonVar, err := ds.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return err
	}
	if err := lonVar.Attr("units").WriteBytes([]byte("degrees_east")); err != nil {
		return err
	}

	vars := make([]netcdf.Var, len(specs))
	for i, spec := range specs {
		v, err := ds.AddVar(spec.Name, netcdf.FLOAT, []netcdf.Dim{latDim, lonDim})
		if err != nil {
			return err
		}
		if err := v.Attr("units").WriteBytes([]byte(spec.Units)); err != nil {
			return err
		}
		vars[i] = v
	}
	if err := ds.EndDef(); err != nil {
		return err
	}

	if err := latVar.WriteFloat64s(grid.Lat()); err != nil {
		return err
	}
	if err := lonVar.WriteFloat64s(grid.Lon()); err != nil {
		return err
	}

	data := make([]float32, grid.Size())
	for i, spec := range specs {
		shift := spread * spec.Amp * rng.NormFloat64()
		for r := 0; r < grid.Rows(); r++ {
			phi := grid.LatAt(r) * math.Pi / 180
			for c := 0; c < grid.Cols(); c++ {
				lambda := (grid.LonAt(c) + 6*float64(lead)) * math.Pi / 180
				v := spec.Base + spec.Amp*math.Cos(phi) + 0.1*spec.Amp*math.Sin(2*lambda)*math.Cos(phi) + shift
				data[r*grid.Cols()+c] = float32(v)
			}
		}
		if err := vars[i].WriteFloat32s(data); err != nil {
			return err
		}
	}
	return nil
}
