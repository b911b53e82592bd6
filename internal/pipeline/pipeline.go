// Package pipeline runs burn mapping end to end: AOI resolution, catalog
// search and matching, scene retrieval, per-event NBR computation,
// reconciliation and dNBR. Stages run strictly one after another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robert-malhotra/burnmap/internal/aoi"
	"github.com/robert-malhotra/burnmap/internal/burn"
	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Resolver turns an AOI input into a bounding box.
type Resolver interface {
	Resolve(in aoi.Input) (aoi.BBox, error)
}

// Retriever downloads the bands of a matched item into its scene directory
// below outDir.
type Retriever interface {
	Fetch(ctx context.Context, outDir string, items []catalog.Item, target catalog.Item, label catalog.Label) (string, error)
}

// Options holds the processing policy of a runner.
type Options struct {
	OutDir              string
	OffsetDays          int
	CloudCoverLT        float64
	NIRToken            string
	SWIRToken           string
	ReferenceResolution float64
	Crop                bool
	NoData              float64
}

// DefaultOptions returns the Sentinel-2 L2A defaults.
func DefaultOptions() Options {
	return Options{
		OutDir:              "/scratch/out",
		OffsetDays:          catalog.DefaultOffsetDays,
		CloudCoverLT:        1.0,
		NIRToken:            "B08",
		SWIRToken:           "B12",
		ReferenceResolution: 10,
		Crop:                true,
		NoData:              burn.DefaultNoData,
	}
}

// Request is one burn mapping request.
type Request struct {
	AOI   aoi.Input
	Start time.Time
	End   time.Time

	// OutDir overrides Options.OutDir for this request's scene directories
	// and dnbr.tif.
	OutDir string
}

// MatchResult is the outcome of catalog matching.
type MatchResult struct {
	BBox        aoi.BBox
	Start       time.Time
	End         time.Time
	SearchStart time.Time
	SearchEnd   time.Time
	Candidates  int
	Pair        catalog.Pair

	items []catalog.Item
}

// Result describes the products of a run.
type Result struct {
	BBox    aoi.BBox
	Match   *MatchResult // nil for Process
	PreDir  string
	PostDir string
	PreNBR  string
	PostNBR string
	DNBR    string
	Grid    raster.Grid
}

// Runner executes the pipeline.
type Runner struct {
	resolver   Resolver
	searcher   catalog.Searcher
	retriever  Retriever
	assembler  *burn.Assembler
	indexer    *burn.Indexer
	reconciler *burn.Reconciler
	delta      *burn.Delta
	opts       Options
	logger     *slog.Logger
}

// New creates a runner. searcher and retriever may be nil for runners that
// only Process existing scene directories.
func New(resolver Resolver, searcher catalog.Searcher, retriever Retriever, driver raster.Driver, opts Options) *Runner {
	return &Runner{
		resolver:   resolver,
		searcher:   searcher,
		retriever:  retriever,
		assembler:  burn.NewAssembler(driver, opts.ReferenceResolution),
		indexer:    burn.NewIndexer(driver, opts.Crop, opts.NoData),
		reconciler: burn.NewReconciler(driver),
		delta:      burn.NewDelta(driver, opts.NoData),
		opts:       opts,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the runner and its stages
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	r.assembler.WithLogger(logger)
	r.indexer.WithLogger(logger)
	r.reconciler.WithLogger(logger)
	r.delta.WithLogger(logger)
	return r
}

// Options returns the runner's processing policy.
func (r *Runner) Options() Options {
	return r.opts
}

// Match resolves the AOI, searches the widened window and selects the
// pre/post pair. Nothing is downloaded.
func (r *Runner) Match(ctx context.Context, req Request) (*MatchResult, error) {
	if err := catalog.ValidateWindow(req.Start, req.End); err != nil {
		return nil, stageErr(StageMatch, "", "", err)
	}
	if r.searcher == nil {
		return nil, stageErr(StageSearch, "", "", errors.New("no catalog configured"))
	}

	bbox, err := r.resolver.Resolve(req.AOI)
	if err != nil {
		return nil, stageErr(StageAOI, "", "", err)
	}

	start, end := catalog.ExpandWindow(req.Start, req.End, r.opts.OffsetDays)
	r.logger.InfoContext(ctx, "searching catalog",
		slog.Any("bbox", bbox),
		slog.String("from", start.Format(catalog.DateLayout)),
		slog.String("to", end.Format(catalog.DateLayout)),
	)

	items, err := r.searcher.Search(ctx, catalog.SearchParams{
		BBox:         bbox.Slice(),
		Start:        start,
		End:          end,
		CloudCoverLT: r.opts.CloudCoverLT,
	})
	if err != nil {
		return nil, stageErr(StageSearch, "", "", err)
	}

	pair, err := catalog.Match(items, req.Start, req.End)
	if err != nil {
		return nil, stageErr(StageMatch, "", "", err)
	}

	r.logger.InfoContext(ctx, "scenes matched",
		slog.Int("candidates", len(items)),
		slog.String("pre", pair.Pre.ID),
		slog.String("post", pair.Post.ID),
	)

	return &MatchResult{
		BBox:        bbox,
		Start:       req.Start,
		End:         req.End,
		SearchStart: start,
		SearchEnd:   end,
		Candidates:  len(items),
		Pair:        pair,
		items:       items,
	}, nil
}

// Run matches, downloads and processes one request.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	m, err := r.Match(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.retriever == nil {
		return nil, stageErr(StageRetrieve, "", "", errors.New("no retriever configured"))
	}

	outDir := r.opts.OutDir
	if req.OutDir != "" {
		outDir = req.OutDir
	}

	dirs := make(map[catalog.Label]string, len(catalog.Labels))
	for _, label := range catalog.Labels {
		dir, err := r.retriever.Fetch(ctx, outDir, m.items, m.Pair.Get(label), label)
		if err != nil {
			return nil, stageErr(StageRetrieve, label, "", err)
		}
		dirs[label] = dir
	}

	res, err := r.process(ctx, outDir, m.BBox, dirs[catalog.Pre], dirs[catalog.Post])
	if err != nil {
		return nil, err
	}
	res.Match = m
	return res, nil
}

// Process recomputes dNBR from scene directories already present in the
// output directory, skipping catalog search and download.
func (r *Runner) Process(ctx context.Context, in aoi.Input) (*Result, error) {
	bbox, err := r.resolver.Resolve(in)
	if err != nil {
		return nil, stageErr(StageAOI, "", "", err)
	}

	dirs := make(map[catalog.Label]string, len(catalog.Labels))
	for _, label := range catalog.Labels {
		dir, err := FindEventDir(r.opts.OutDir, label)
		if err != nil {
			return nil, stageErr(StageLocate, label, "", err)
		}
		dirs[label] = dir
	}

	return r.process(ctx, r.opts.OutDir, bbox, dirs[catalog.Pre], dirs[catalog.Post])
}

func (r *Runner) process(ctx context.Context, outDir string, bbox aoi.BBox, preDir, postDir string) (*Result, error) {
	pre, err := r.event(ctx, preDir, catalog.Pre, bbox)
	if err != nil {
		return nil, err
	}
	post, err := r.event(ctx, postDir, catalog.Post, bbox)
	if err != nil {
		return nil, err
	}

	scope := raster.NewScope()
	defer scope.Close()

	preBand, postBand, err := r.reconciler.Reconcile(scope, pre, post)
	if err != nil {
		return nil, stageErr(StageReconcile, "", "", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, stageErr(StageDelta, "", "", err)
	}
	out := filepath.Join(outDir, burn.DeltaFile)
	dnbr, err := r.delta.Compute(preBand, postBand, out)
	if err != nil {
		return nil, stageErr(StageDelta, "", "", err)
	}

	r.logger.InfoContext(ctx, "burn map complete", slog.String("dnbr", out))

	return &Result{
		BBox:    bbox,
		PreDir:  preDir,
		PostDir: postDir,
		PreNBR:  pre.Path,
		PostNBR: post.Path,
		DNBR:    out,
		Grid:    dnbr.Grid,
	}, nil
}

// event computes the NBR of the scene in dir. Every raster handle it opens
// is released before it returns.
func (r *Runner) event(ctx context.Context, dir string, label catalog.Label, bbox aoi.BBox) (_ *burn.NBR, err error) {
	scope := raster.NewScope()
	defer func() {
		if cerr := scope.Close(); cerr != nil && err == nil {
			err = stageErr(StageIndex, label, "", fmt.Errorf("failed to release rasters: %w", cerr))
		}
	}()

	r.logger.InfoContext(ctx, "processing event",
		slog.String("event", string(label)),
		slog.String("dir", dir),
	)

	// SWIR first: it is the spatial reference for NIR.
	swir, err := r.assembler.Assemble(scope, dir, r.opts.SWIRToken, nil)
	if err != nil {
		return nil, stageErr(StageAssemble, label, burn.BandSWIR, err)
	}
	nir, err := r.assembler.Assemble(scope, dir, r.opts.NIRToken, swir)
	if err != nil {
		return nil, stageErr(StageAssemble, label, burn.BandNIR, err)
	}

	if nir, err = r.indexer.Align(scope, nir, swir); err != nil {
		return nil, stageErr(StageIndex, label, burn.BandNIR, err)
	}
	if nir, err = r.indexer.Crop(scope, nir, bbox); err != nil {
		return nil, stageErr(StageIndex, label, burn.BandNIR, err)
	}
	if swir, err = r.indexer.Crop(scope, swir, bbox); err != nil {
		return nil, stageErr(StageIndex, label, burn.BandSWIR, err)
	}

	nbr, err := r.indexer.Compute(nir, swir, filepath.Join(dir, burn.NBRFile(string(label))))
	if err != nil {
		return nil, stageErr(StageIndex, label, "", err)
	}
	return nbr, nil
}

// FindEventDir returns the scene directory for label (<outDir>/*_<label>).
// When several runs left directories behind, the most recently modified
// one wins.
func FindEventDir(outDir string, label catalog.Label) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "*_"+string(label)))
	if err != nil {
		return "", err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = m, info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no *_%s directory in %s", ErrNoEventDir, label, outDir)
	}
	return best, nil
}
