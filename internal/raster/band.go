package raster

import (
	"fmt"
	"math"
)

// Band is a single raster band held in memory as row-major float64 pixels.
type Band struct {
	Grid
	Data   []float64
	NoData float64
}

// NewBand returns a band on grid g with every pixel set to nodata.
func NewBand(g Grid, nodata float64) *Band {
	data := make([]float64, g.Width*g.Height)
	for i := range data {
		data[i] = nodata
	}
	return &Band{Grid: g, Data: data, NoData: nodata}
}

// NewBandFromRows builds a band from a 2-D array. All rows must have the
// same length.
func NewBandFromRows(rows [][]float64, geoTransform [6]float64, crs string, nodata float64) (*Band, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty raster")
	}
	width := len(rows[0])
	data := make([]float64, 0, width*len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return &Band{
		Grid: Grid{
			Width:        width,
			Height:       len(rows),
			GeoTransform: geoTransform,
			CRS:          crs,
		},
		Data:   data,
		NoData: nodata,
	}, nil
}

// At returns the pixel at column x, row y.
func (b *Band) At(x, y int) float64 {
	return b.Data[y*b.Width+x]
}

// Set stores v at column x, row y.
func (b *Band) Set(x, y int, v float64) {
	b.Data[y*b.Width+x] = v
}

// IsNoData reports whether v is the band's nodata value. A NaN nodata
// matches every NaN.
func (b *Band) IsNoData(v float64) bool {
	if math.IsNaN(b.NoData) {
		return math.IsNaN(v)
	}
	return v == b.NoData
}

// Rows returns the pixels as a 2-D array sharing no memory with the band.
func (b *Band) Rows() [][]float64 {
	rows := make([][]float64, b.Height)
	for y := range rows {
		rows[y] = append([]float64(nil), b.Data[y*b.Width:(y+1)*b.Width]...)
	}
	return rows
}

// Crop returns a copy of the window starting at (xoff, yoff).
func (b *Band) Crop(xoff, yoff, width, height int) (*Band, error) {
	if xoff < 0 || yoff < 0 || width <= 0 || height <= 0 ||
		xoff+width > b.Width || yoff+height > b.Height {
		return nil, fmt.Errorf("window %d,%d %dx%d outside %dx%d raster", xoff, yoff, width, height, b.Width, b.Height)
	}
	out := &Band{
		Grid:   b.Grid.Sub(xoff, yoff, width, height),
		Data:   make([]float64, 0, width*height),
		NoData: b.NoData,
	}
	for y := yoff; y < yoff+height; y++ {
		out.Data = append(out.Data, b.Data[y*b.Width+xoff:y*b.Width+xoff+width]...)
	}
	return out, nil
}
