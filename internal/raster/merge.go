package raster

import (
	"errors"
	"fmt"
	"math"
)

// Merge mosaics bands into a single band covering the union of their
// extents. The output uses the resolution, CRS and nodata value of the first
// band. Bands are painted in order and a pixel keeps the first valid value it
// receives.
func Merge(bands []*Band) (*Band, error) {
	if len(bands) == 0 {
		return nil, errors.New("no rasters to merge")
	}

	first := bands[0]
	resX, resY := first.Resolution()
	union := first.Bounds()
	for i, b := range bands {
		if !b.NorthUp() {
			return nil, fmt.Errorf("raster %d: %w", i, ErrRotated)
		}
		if b.CRS != first.CRS {
			return nil, fmt.Errorf("raster %d: %w", i, ErrCRSMismatch)
		}
		bounds := b.Bounds()
		union[0] = math.Min(union[0], bounds[0])
		union[1] = math.Min(union[1], bounds[1])
		union[2] = math.Max(union[2], bounds[2])
		union[3] = math.Max(union[3], bounds[3])
	}

	grid := Grid{
		Width:        int(math.Round((union[2] - union[0]) / resX)),
		Height:       int(math.Round((union[3] - union[1]) / resY)),
		GeoTransform: [6]float64{union[0], resX, 0, union[3], 0, -resY},
		CRS:          first.CRS,
	}
	out := NewBand(grid, first.NoData)

	for _, b := range bands {
		paint(out, b)
	}
	return out, nil
}

// paint copies the valid pixels of src into the nodata pixels of canvas,
// sampling src at the center of each canvas pixel.
func paint(canvas, src *Band) {
	cres, rres := canvas.Resolution()
	sresX, sresY := src.Resolution()
	cb := canvas.Bounds()
	sb := src.Bounds()

	row0 := clamp(int(math.Floor((cb[3]-sb[3])/rres)), 0, canvas.Height)
	row1 := clamp(int(math.Ceil((cb[3]-sb[1])/rres)), 0, canvas.Height)
	col0 := clamp(int(math.Floor((sb[0]-cb[0])/cres)), 0, canvas.Width)
	col1 := clamp(int(math.Ceil((sb[2]-cb[0])/cres)), 0, canvas.Width)

	for r := row0; r < row1; r++ {
		y := cb[3] - (float64(r)+0.5)*rres
		sr := int(math.Floor((sb[3] - y) / sresY))
		if sr < 0 || sr >= src.Height {
			continue
		}
		for c := col0; c < col1; c++ {
			if !canvas.IsNoData(canvas.At(c, r)) {
				continue
			}
			x := cb[0] + (float64(c)+0.5)*cres
			sc := int(math.Floor((x - sb[0]) / sresX))
			if sc < 0 || sc >= src.Width {
				continue
			}
			if v := src.At(sc, sr); !src.IsNoData(v) {
				canvas.Set(c, r, v)
			}
		}
	}
}
