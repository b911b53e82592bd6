// Package server provides a public API for embedding the burn mapping service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robert-malhotra/burnmap/internal/aoi"
	"github.com/robert-malhotra/burnmap/internal/api"
	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/config"
	"github.com/robert-malhotra/burnmap/internal/gdalio"
	"github.com/robert-malhotra/burnmap/internal/pipeline"
	"github.com/robert-malhotra/burnmap/internal/retrieve"
)

// Options configures the burn mapping server. Zero values take the
// defaults of the burnmap configuration.
type Options struct {
	// CatalogURL is the STAC API base URL.
	// Default: "https://earth-search.aws.element84.com/v1"
	CatalogURL string

	// Collection is the STAC collection searched for scenes.
	// Default: "sentinel-2-l2a"
	Collection string

	// CloudCoverLT is the exclusive eo:cloud_cover upper bound.
	// Default: 1.0
	CloudCoverLT float64

	// InDir is where relative AOI file names are resolved.
	// Default: "/scratch/in"
	InDir string

	// OutDir receives scene directories and dnbr.tif, one subdirectory
	// per run.
	// Default: "/scratch/out"
	OutDir string

	// DateOffsetDays widens the search window on both sides.
	// Default: 10
	DateOffsetDays int

	// DisableCrop keeps full scenes instead of cropping to the AOI.
	DisableCrop bool

	// Timeout is the catalog request timeout.
	// Default: 60s
	Timeout time.Duration

	// DownloadTimeout bounds a single asset download.
	// Default: 10m
	DownloadTimeout time.Duration

	// RunTTL is how long finished runs stay queryable.
	// Default: 24h
	RunTTL time.Duration

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Server is a burn mapping server that can be embedded in another application.
type Server struct {
	router   chi.Router
	handlers *api.Handlers
	runs     *api.RunStore
}

// New creates a new burn mapping server with the given options.
func New(opts Options) (*Server, error) {
	cfg := config.Defaults()

	// Apply overrides
	if opts.CatalogURL != "" {
		cfg.Catalog.BaseURL = opts.CatalogURL
	}
	if opts.Collection != "" {
		cfg.Catalog.Collection = opts.Collection
	}
	if opts.CloudCoverLT != 0 {
		cfg.Catalog.CloudCoverLT = opts.CloudCoverLT
	}
	if opts.InDir != "" {
		cfg.Pipeline.InDir = opts.InDir
	}
	if opts.OutDir != "" {
		cfg.Pipeline.OutDir = opts.OutDir
	}
	if opts.DateOffsetDays != 0 {
		cfg.Pipeline.DateOffsetDays = opts.DateOffsetDays
	}
	if opts.DisableCrop {
		cfg.Pipeline.Crop = false
	}
	if opts.Timeout != 0 {
		cfg.Catalog.Timeout = opts.Timeout
	}
	if opts.DownloadTimeout != 0 {
		cfg.Pipeline.DownloadTimeout = opts.DownloadTimeout
	}
	if opts.RunTTL != 0 {
		cfg.Server.RunTTL = opts.RunTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	return NewFromConfig(cfg, NewRunner(cfg, opts.Logger), opts.Logger), nil
}

// NewFromConfig builds the HTTP surface around runner.
func NewFromConfig(cfg *config.Config, runner api.Pipeline, logger *slog.Logger) *Server {
	// Finished runs are swept at a tenth of their TTL
	runs := api.NewRunStore(cfg.Server.RunTTL, max(cfg.Server.RunTTL/10, time.Second))

	handlers := api.NewHandlers(runner, runs, cfg.Pipeline.InDir, cfg.Pipeline.OutDir, logger)
	router := api.NewRouter(handlers, logger)

	return &Server{
		router:   router,
		handlers: handlers,
		runs:     runs,
	}
}

// NewRunner wires the GDAL-backed pipeline from configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger) *pipeline.Runner {
	driver := gdalio.NewDriver().WithLogger(logger)
	resolver := aoi.NewResolver(gdalio.NewVectorReader()).WithLogger(logger)

	searcher := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Collection, cfg.Catalog.Timeout).
		WithPaging(cfg.Catalog.PageLimit, cfg.Catalog.MaxItems).
		WithLogger(logger)

	downloader := retrieve.NewDownloader(cfg.Pipeline.DownloadTimeout).WithLogger(logger)
	retriever := retrieve.New(downloader, cfg.Pipeline.Assets()...).WithLogger(logger)

	opts := pipeline.Options{
		OutDir:              cfg.Pipeline.OutDir,
		OffsetDays:          cfg.Pipeline.DateOffsetDays,
		CloudCoverLT:        cfg.Catalog.CloudCoverLT,
		NIRToken:            cfg.Pipeline.NIRToken,
		SWIRToken:           cfg.Pipeline.SWIRToken,
		ReferenceResolution: cfg.Pipeline.ReferenceResolution,
		Crop:                cfg.Pipeline.Crop,
		NoData:              cfg.Pipeline.NoData,
	}

	return pipeline.New(resolver, searcher, retriever, driver, opts).WithLogger(logger)
}

// Router returns the chi.Router for mounting in another application.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close waits for submitted runs, cancelling them when ctx expires, and
// stops background goroutines (run cleanup).
func (s *Server) Close(ctx context.Context) error {
	err := s.handlers.Shutdown(ctx)
	s.runs.Stop()
	return err
}
