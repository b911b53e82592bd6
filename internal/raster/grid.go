// Package raster provides the in-memory raster model used by the burn
// pipeline: pixel grids, float bands, band algebra, mosaicking and scoped
// release of raster handles.
package raster

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShapeMismatch is returned when two bands do not have the same
	// width and height.
	ErrShapeMismatch = errors.New("raster shapes differ")

	// ErrGridMismatch is returned when two bands are not on the same pixel
	// grid (shape, CRS and geotransform).
	ErrGridMismatch = errors.New("raster grids differ")

	// ErrCRSMismatch is returned when bands to be merged use different CRSs.
	ErrCRSMismatch = errors.New("raster CRSs differ")

	// ErrRotated is returned for grids with rotation terms.
	ErrRotated = errors.New("rotated geotransforms are not supported")

	// ErrNoOverlap is returned when a window does not intersect a grid.
	ErrNoOverlap = errors.New("bounds do not overlap raster")
)

// transformTolerance is the absolute tolerance used when comparing
// geotransform coefficients.
const transformTolerance = 1e-9

// Grid describes the pixel grid of a raster using GDAL's geotransform
// convention: x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
type Grid struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
}

// Shape returns (rows, cols).
func (g Grid) Shape() (int, int) {
	return g.Height, g.Width
}

// Resolution returns the absolute pixel size along x and y.
func (g Grid) Resolution() (float64, float64) {
	return math.Abs(g.GeoTransform[1]), math.Abs(g.GeoTransform[5])
}

// NorthUp reports whether the grid has no rotation terms.
func (g Grid) NorthUp() bool {
	return g.GeoTransform[2] == 0 && g.GeoTransform[4] == 0
}

// Bounds returns [minx, miny, maxx, maxy] of a north-up grid.
func (g Grid) Bounds() [4]float64 {
	gt := g.GeoTransform
	x0, x1 := gt[0], gt[0]+float64(g.Width)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(g.Height)*gt[5]
	return [4]float64{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}
}

// SameShape reports whether both grids have the same width and height.
func (g Grid) SameShape(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Equal reports whether both grids share shape, CRS and geotransform.
func (g Grid) Equal(o Grid) bool {
	if !g.SameShape(o) || g.CRS != o.CRS {
		return false
	}
	for i := range g.GeoTransform {
		if math.Abs(g.GeoTransform[i]-o.GeoTransform[i]) > transformTolerance {
			return false
		}
	}
	return true
}

// Window returns the pixel window (xoff, yoff, width, height) covering
// bbox, rounded outward and clamped to the grid. bbox must be expressed in
// the grid's CRS.
func (g Grid) Window(bbox [4]float64) (int, int, int, int, error) {
	if !g.NorthUp() {
		return 0, 0, 0, 0, ErrRotated
	}
	gt := g.GeoTransform

	c0 := (bbox[0] - gt[0]) / gt[1]
	c1 := (bbox[2] - gt[0]) / gt[1]
	r0 := (bbox[3] - gt[3]) / gt[5]
	r1 := (bbox[1] - gt[3]) / gt[5]

	col0 := clamp(int(math.Floor(math.Min(c0, c1))), 0, g.Width)
	col1 := clamp(int(math.Ceil(math.Max(c0, c1))), 0, g.Width)
	row0 := clamp(int(math.Floor(math.Min(r0, r1))), 0, g.Height)
	row1 := clamp(int(math.Ceil(math.Max(r0, r1))), 0, g.Height)

	if col1 <= col0 || row1 <= row0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: %v", ErrNoOverlap, bbox)
	}
	return col0, row0, col1 - col0, row1 - row0, nil
}

// Sub returns the grid of the window starting at (xoff, yoff).
func (g Grid) Sub(xoff, yoff, width, height int) Grid {
	gt := g.GeoTransform
	sub := g
	sub.Width = width
	sub.Height = height
	sub.GeoTransform[0] = gt[0] + float64(xoff)*gt[1] + float64(yoff)*gt[2]
	sub.GeoTransform[3] = gt[3] + float64(xoff)*gt[4] + float64(yoff)*gt[5]
	return sub
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
