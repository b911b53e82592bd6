package burn

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/raster"
)

// resolutionTolerance is the slack allowed when comparing a tile's pixel
// size with the reference resolution.
const resolutionTolerance = 1e-6

// Tiles returns the tile files of a band in dir (<dir>/*<token>.tif),
// sorted by name. Mosaics written by an earlier run are not tiles.
func Tiles(dir, token string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+token+".tif"))
	if err != nil {
		return nil, fmt.Errorf("invalid band token %q: %w", token, err)
	}
	tiles := matches[:0]
	for _, m := range matches {
		if !strings.HasSuffix(m, mosaicTail) {
			tiles = append(tiles, m)
		}
	}
	sort.Strings(tiles)
	return tiles, nil
}

// MosaicPath returns where the mosaic of the given tiles is written: next
// to the first tile, named after its scene name.
func MosaicPath(tiles []string) string {
	first := tiles[0]
	stem := strings.TrimSuffix(filepath.Base(first), filepath.Ext(first))
	return filepath.Join(filepath.Dir(first), catalog.SceneName(stem)+mosaicTail)
}

// Assembler resolves the tiles of one band into a single raster.
type Assembler struct {
	driver    raster.Driver
	reference float64
	logger    *slog.Logger
}

// NewAssembler creates an assembler. Tiles whose native resolution equals
// reference are aligned to the companion band when merging.
func NewAssembler(driver raster.Driver, reference float64) *Assembler {
	return &Assembler{driver: driver, reference: reference, logger: slog.Default()}
}

// WithLogger sets a custom logger for the assembler
func (a *Assembler) WithLogger(logger *slog.Logger) *Assembler {
	a.logger = logger
	return a
}

// Assemble opens the band identified by token in dir and registers the
// returned dataset in scope. A single tile is opened as is. Several tiles
// are reprojected to EPSG:4326, merged over their union extent and written
// as a mosaic, which is then opened. A mosaic newer than all of its tiles is
// reused as is. companion, when not nil, is the already opened band that
// reference-resolution tiles are aligned to.
func (a *Assembler) Assemble(scope *raster.Scope, dir, token string, companion raster.Dataset) (raster.Dataset, error) {
	tiles, err := Tiles(dir, token)
	if err != nil {
		return nil, err
	}

	switch len(tiles) {
	case 0:
		return nil, fmt.Errorf("%w: no %s tile in %s", ErrMissingBand, token, dir)
	case 1:
		a.logger.Debug("opening single tile", slog.String("path", tiles[0]))
		return scope.Open(a.driver.Open(tiles[0]))
	}

	if path := MosaicPath(tiles); upToDate(path, tiles) {
		a.logger.Debug("reusing mosaic", slog.String("path", path), slog.Int("tiles", len(tiles)))
		return scope.Open(a.driver.Open(path))
	}

	path, err := a.mosaic(tiles, companion)
	if err != nil {
		return nil, err
	}
	return scope.Open(a.driver.Open(path))
}

// upToDate reports whether path exists and was modified after every tile.
func upToDate(path string, tiles []string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, tile := range tiles {
		ti, err := os.Stat(tile)
		if err != nil || !info.ModTime().After(ti.ModTime()) {
			return false
		}
	}
	return true
}

// mosaic merges tiles and writes the result. Every handle it opens is
// released before it returns.
func (a *Assembler) mosaic(tiles []string, companion raster.Dataset) (string, error) {
	scope := raster.NewScope()
	defer scope.Close()

	bands := make([]*raster.Band, 0, len(tiles))
	for _, tile := range tiles {
		src, err := scope.Open(a.driver.Open(tile))
		if err != nil {
			return "", err
		}

		warped, err := scope.Open(a.driver.Warp(src, a.warpOptions(src, companion)))
		if err != nil {
			return "", fmt.Errorf("failed to reproject %s: %w", tile, err)
		}

		b, err := warped.Read()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", tile, err)
		}
		bands = append(bands, b)
	}

	merged, err := raster.Merge(bands)
	if err != nil {
		return "", fmt.Errorf("failed to merge %d tiles: %w", len(tiles), err)
	}

	path := MosaicPath(tiles)
	if err := a.driver.Write(path, merged); err != nil {
		return "", err
	}

	a.logger.Info("mosaic written",
		slog.String("path", path),
		slog.Int("tiles", len(tiles)),
		slog.Int("width", merged.Width),
		slog.Int("height", merged.Height),
	)
	return path, nil
}

func (a *Assembler) warpOptions(src, companion raster.Dataset) raster.WarpOptions {
	opts := raster.WarpOptions{DstCRS: raster.EPSG4326}
	if nodata, ok := src.NoData(); ok {
		opts.NoData = &nodata
	}

	xres, yres := src.Grid().Resolution()
	if companion != nil && sameResolution(xres, a.reference) && sameResolution(yres, a.reference) {
		g := companion.Grid()
		opts.Align = &g
	}
	return opts
}

func sameResolution(a, b float64) bool {
	return math.Abs(a-b) <= resolutionTolerance
}
