package burn

import (
	"fmt"
	"log/slog"

	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Indexer computes the Normalized Burn Ratio of one event.
type Indexer struct {
	driver raster.Driver
	crop   bool
	nodata float64
	logger *slog.Logger
}

// NewIndexer creates an indexer. When crop is set both bands are cut to the
// AOI before the ratio is computed.
func NewIndexer(driver raster.Driver, crop bool, nodata float64) *Indexer {
	return &Indexer{driver: driver, crop: crop, nodata: nodata, logger: slog.Default()}
}

// WithLogger sets a custom logger for the indexer
func (x *Indexer) WithLogger(logger *slog.Logger) *Indexer {
	x.logger = logger
	return x
}

// Align puts nir on the grid of swir when the two differ. The returned
// dataset is registered in scope.
func (x *Indexer) Align(scope *raster.Scope, nir, swir raster.Dataset) (raster.Dataset, error) {
	target := swir.Grid()
	if nir.Grid().Equal(target) {
		return nir, nil
	}

	x.logger.Debug("aligning NIR to SWIR grid",
		slog.Int("nir_width", nir.Grid().Width),
		slog.Int("swir_width", target.Width),
	)
	return scope.Open(x.driver.Warp(nir, raster.WarpOptions{Align: &target}))
}

// Crop cuts ds to bbox (EPSG:4326) when cropping is enabled.
func (x *Indexer) Crop(scope *raster.Scope, ds raster.Dataset, bbox [4]float64) (raster.Dataset, error) {
	if !x.crop {
		return ds, nil
	}
	return scope.Open(x.driver.Crop(ds, bbox))
}

// Compute derives NBR = (NIR - SWIR) / (NIR + SWIR) from two bands on the
// same grid and writes it to path. Pixels with a zero denominator, a nodata
// input or a non-finite result are set to the indexer's nodata value. The
// result keeps the NIR grid.
func (x *Indexer) Compute(nir, swir raster.Dataset, path string) (*NBR, error) {
	nirBand, err := nir.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read NIR: %w", err)
	}
	swirBand, err := swir.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read SWIR: %w", err)
	}

	nbr, err := raster.NormalizedDifference(nirBand, swirBand, x.nodata)
	if err != nil {
		return nil, err
	}

	if err := x.driver.Write(path, nbr); err != nil {
		return nil, err
	}

	x.logger.Info("NBR written",
		slog.String("path", path),
		slog.Int("width", nbr.Width),
		slog.Int("height", nbr.Height),
	)
	return &NBR{Band: nbr, Path: path}, nil
}
