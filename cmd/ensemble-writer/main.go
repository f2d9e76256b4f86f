// Package main runs an ensemble forecast into a diagnostics store.
//
// Raw member fields are read lead by lead, written in member batches to
// every domain, and the reduced diagnostics are finalized at the lead
// times listed in the run descriptor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/ensemble-store/internal/adapter/coords"
	"go.ngs.io/ensemble-store/internal/adapter/source"
	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/adapter/store/memory"
	"go.ngs.io/ensemble-store/internal/adapter/store/netcdf"
	"go.ngs.io/ensemble-store/internal/adapter/store/zarr"
	"go.ngs.io/ensemble-store/internal/config"
	"go.ngs.io/ensemble-store/internal/domain"
	"go.ngs.io/ensemble-store/internal/observability"
	"go.ngs.io/ensemble-store/internal/usecase"
)

const version = "0.1.0"

func main() {
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	envFile := flag.String("env", "", "Optional .env file")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address while running, e.g. :9090")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Printf("ensemble-writer version %s\n", version)
		return
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *metricsAddr); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metricsAddr string) error {
	if cfg.RunDescriptor == "" {
		return errors.New("RUN_DESCRIPTOR is required")
	}
	desc, err := config.LoadDescriptor(cfg.RunDescriptor)
	if err != nil {
		return err
	}
	runDesc, err := desc.RunDescriptor(cfg.StoreCompression)
	if err != nil {
		return err
	}
	grid, err := desc.GlobalGrid()
	if err != nil {
		return fmt.Errorf("global grid: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	r, err := usecase.Initialize(ctx, st, grid, runDesc,
		usecase.WithLogger(logger),
		usecase.WithMetrics(metrics),
		usecase.WithCoordinateSource(coords.NewResolver()),
	)
	if err != nil {
		_ = st.Close()
		return err
	}
	logger.Info("store initialized",
		"run_id", r.ID().String(),
		"path", cfg.StorePath,
		"format", cfg.StoreFormat,
		"domains", len(r.Layout().Domains),
		"variables", len(r.Layout().Variables),
	)

	w := &writer{
		run:       r,
		desc:      desc,
		log:       logger,
		metrics:   metrics,
		workers:   cfg.Workers,
		forecast:  source.NewBreaker("forecast", source.NewNetCDFSource(source.ForecastPath(cfg.SourceDir))),
		reference: source.NewBreaker("reference", source.NewNetCDFSource(source.ReferencePath(cfg.ReferenceDir))),
		channels:  readChannels(r.Layout()),
	}
	runErr := w.loop(ctx)
	if err := r.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreFormat {
	case "zarr":
		return zarr.Create(cfg.StorePath, zarr.Options{
			Compression: cfg.StoreCompression,
			Level:       cfg.CompressionLevel,
		})
	case "memory":
		return memory.New(), nil
	default:
		return netcdf.Create(cfg.StorePath, netcdf.Options{Level: cfg.CompressionLevel})
	}
}

// readChannels is the union of the channels any domain records.
func readChannels(l *usecase.Layout) []string {
	var out []string
	for _, dl := range l.Domains {
		for _, ch := range dl.Channels() {
			if !slices.Contains(out, ch) {
				out = append(out, ch)
			}
		}
	}
	return out
}

type writer struct {
	run       *usecase.Run
	desc      *config.Descriptor
	log       *slog.Logger
	metrics   *observability.Metrics
	workers   int
	forecast  domain.FieldSource
	reference domain.FieldSource
	channels  []string
}

func (w *writer) loop(ctx context.Context) error {
	if len(w.channels) == 0 {
		w.log.Warn("no diagnostics declared; nothing to write")
		return nil
	}
	batchSize := w.desc.BatchSize
	if batchSize <= 0 || batchSize > w.desc.EnsembleTotal {
		batchSize = w.desc.EnsembleTotal
	}

	finalizeFrom := 0
	for lead := 0; lead < w.desc.LeadTimes; lead++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.workers)
		for offset := 0; offset < w.desc.EnsembleTotal; offset += batchSize {
			n := min(batchSize, w.desc.EnsembleTotal-offset)
			g.Go(func() error {
				return w.writeBatch(gctx, lead, offset, n)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if w.run.TimeCount() <= lead {
			// Every batch was skipped; keep the slot so later leads stay aligned.
			if err := w.run.ReserveTime(lead); err != nil {
				return err
			}
			w.log.Warn("lead skipped", "lead", lead)
		} else {
			w.log.Info("lead written", "lead", lead, "elapsed", time.Since(start).String())
		}

		if slices.Contains(w.desc.FinalizeLeadTimes, lead) {
			if err := w.finalize(ctx, finalizeFrom, lead); err != nil {
				return err
			}
			finalizeFrom = lead + 1
		}
	}
	return nil
}

// writeBatch reads members [offset, offset+n) at one lead and writes them
// to every domain. A batch with a missing input is skipped; only errors
// that abort marks as fatal fail it.
func (w *writer) writeBatch(ctx context.Context, lead, offset, n int) error {
	var (
		data    []float32
		spatial []int
	)
	for m := offset; m < offset+n; m++ {
		field, err := w.forecast.Read(ctx, domain.FieldRequest{Member: m, Lead: lead}, w.channels)
		if err != nil {
			if abort(err) {
				return err
			}
			w.metrics.SourceReads.WithLabelValues("error").Inc()
			w.log.Warn("skipping batch",
				"lead", lead,
				"ensemble_offset", offset,
				"member", m,
				"error", err,
			)
			return nil
		}
		w.metrics.SourceReads.WithLabelValues("ok").Inc()
		if spatial == nil {
			spatial = field.Spatial
			data = make([]float32, 0, n*len(field.Data))
		}
		data = append(data, field.Data...)
	}

	batch, err := domain.NewBatch(w.channels, n, spatial, data)
	if err != nil {
		w.log.Warn("skipping malformed batch", "lead", lead, "ensemble_offset", offset, "error", err)
		return nil
	}
	for _, dl := range w.run.Layout().Domains {
		if len(dl.Variants) == 0 {
			continue
		}
		// Write logs and counts its own failures.
		if err := w.run.Write(ctx, batch, dl.Name, lead, offset); err != nil && abort(err) {
			return err
		}
	}
	return nil
}

// abort reports whether an error ends the run rather than one batch.
// Unstructured errors come from the store and are fatal.
func abort(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrRunClosed) {
		return true
	}
	kind, ok := domain.KindOf(err)
	return !ok || kind.Fatal()
}

// finalize publishes every reduced diagnostic for the time indices in
// [from, to] that hold data. Indices of skipped leads are left unfinalized.
func (w *writer) finalize(ctx context.Context, from, to int) error {
	rc := usecase.ReferenceContext{
		Event:      w.desc.WeatherEvent.Name,
		ChannelSet: w.desc.ReferenceSet(),
		Source:     w.reference,
	}
	for _, dl := range w.run.Layout().Domains {
		pending := make(map[domain.DiagnosticType][]int)
		var types []domain.DiagnosticType
		for _, v := range dl.Variants {
			t := v.Type()
			if t == domain.DiagnosticRaw || slices.Contains(types, t) {
				continue
			}
			types = append(types, t)
			for _, i := range v.Pending() {
				if i >= from && i <= to {
					pending[t] = append(pending[t], i)
				}
			}
		}
		for _, t := range types {
			indices := pending[t]
			if len(indices) < to-from+1 {
				w.log.Warn("time indices without data left unfinalized",
					"domain", dl.Name,
					"diagnostic", t.String(),
					"from", from,
					"to", to,
					"finalizing", indices,
				)
			}
			if len(indices) == 0 {
				continue
			}
			// Failures are logged per channel by Finalize.
			if err := w.run.Finalize(ctx, dl.Name, t, indices, rc); err != nil && abort(err) {
				return err
			}
		}
	}
	return nil
}

func printUsage() {
	fmt.Println(`Ensemble Writer - ensemble forecast diagnostics store

Usage:
  ensemble-writer [options]

Options:
  -help           Show this help message
  -version        Show version information
  -env FILE       Load environment variables from FILE
  -metrics-addr   Serve Prometheus metrics while running (e.g. :9090)

Environment Variables:
  STORE_PATH               Output store directory (required)
  STORE_FORMAT             netcdf, zarr or memory (default: netcdf)
  STORE_COMPRESSION        Compress variables (default: true)
  STORE_COMPRESSION_LEVEL  zstd level for zarr stores (default: 3)
  RUN_DESCRIPTOR           Run descriptor JSON file (required)
  SOURCE_DIR               Forecast member files, <dir>/member_NNN/lead_NNN.nc
  REFERENCE_DIR            Reference files, <dir>/<event>/lead_NNN.nc
  WORKERS                  Concurrent member batches (default: 4)
  LOG_LEVEL                debug, info, warn or error (default: info)
  LOG_FORMAT               json or text (default: json)

Example:
  STORE_PATH=./out/run RUN_DESCRIPTOR=./configs/run.json \
    SOURCE_DIR=./data/fields REFERENCE_DIR=./data/reference ensemble-writer`)
}
