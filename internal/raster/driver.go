package raster

import "io"

// EPSG4326 is the geographic CRS tiles are reprojected to before merging.
const EPSG4326 = "EPSG:4326"

// Dataset is an open raster handle. It must be released with Close.
type Dataset interface {
	io.Closer

	// Path returns the file backing the dataset, or "" for in-memory ones.
	Path() string

	// Grid returns the pixel grid of the dataset.
	Grid() Grid

	// NoData returns the nodata value of the first band, if any.
	NoData() (float64, bool)

	// Read loads the first band into memory.
	Read() (*Band, error)
}

// WarpOptions configures a reprojection.
type WarpOptions struct {
	// DstCRS is the target CRS (e.g. "EPSG:4326"). Ignored when Align is set.
	DstCRS string

	// NoData overrides the destination nodata value.
	NoData *float64

	// Align pins the output to this grid: same CRS, extent and pixel size.
	Align *Grid
}

// Driver performs raster I/O and the low-level reprojection primitives.
type Driver interface {
	// Open opens a raster file.
	Open(path string) (Dataset, error)

	// Warp reprojects src into a new in-memory dataset.
	Warp(src Dataset, opts WarpOptions) (Dataset, error)

	// Crop cuts src to the pixel window covering bbox, given in EPSG:4326.
	Crop(src Dataset, bbox [4]float64) (Dataset, error)

	// Write persists b as a single-band float32 GeoTIFF with LZW
	// compression and b.NoData as nodata. Nothing is left at path when
	// writing fails.
	Write(path string, b *Band) error
}
