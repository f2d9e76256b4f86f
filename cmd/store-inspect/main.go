// Package main serves a read-only HTTP API over a finished diagnostics store.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.ngs.io/ensemble-store/internal/adapter/store"
	"go.ngs.io/ensemble-store/internal/adapter/store/netcdf"
	"go.ngs.io/ensemble-store/internal/adapter/store/zarr"
	"go.ngs.io/ensemble-store/internal/config"
	httpHandler "go.ngs.io/ensemble-store/internal/http"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("store-inspect version %s\n", version)
		return
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting store inspection server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Store: %s (%s)", cfg.StorePath, cfg.StoreFormat)

	st, err := openStore(cfg.StoreFormat, cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	log.Printf("Store opened with %d groups", len(st.Groups()))

	// Setup router.
	router := httpHandler.SetupRouter(st, cfg.CORSAllowedOrigins)

	// Start server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%d/health", cfg.Port)
	log.Printf("API endpoints:")
	log.Printf("  - GET /v1/groups")
	log.Printf("  - GET /v1/groups/:group")
	log.Printf("  - GET /v1/groups/:group/variables/:name/values")

	if err := router.Run(addr); err != nil {
		log.Printf("Failed to start server: %v", err)
		_ = st.Close()
		os.Exit(1)
	}
}

// openStore opens an existing store read-only.
func openStore(format, path string) (store.Store, error) {
	switch format {
	case "netcdf":
		return netcdf.Open(path)
	case "zarr":
		return zarr.Open(path)
	}
	return nil, fmt.Errorf("store format %q cannot be inspected", format)
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Store Inspect Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  store-inspect [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  STORE_PATH              Store directory (required)")
	fmt.Println("  STORE_FORMAT            netcdf or zarr (default: netcdf)")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Inspect a netCDF store")
	fmt.Println("  STORE_PATH=./out/run store-inspect")
	fmt.Println()
	fmt.Println("  # Inspect a Zarr store on a custom port")
	fmt.Println("  STORE_PATH=./out/run.zarr STORE_FORMAT=zarr PORT=3000 store-inspect")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET /health                                     Health check")
	fmt.Println("  GET /metrics                                    Prometheus metrics")
	fmt.Println("  GET /v1/groups                                  List groups")
	fmt.Println("  GET /v1/groups/:group                           Describe a group")
	fmt.Println("  GET /v1/groups/:group/variables/:name/values    Read one time slab")
	fmt.Println()
}
