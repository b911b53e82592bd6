package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormalizedDifference computes (a - b) / (a + b) pixelwise on the grid of a.
//
// Pixels where either input holds its nodata value, where a + b == 0, or
// where the quotient is not finite are written as nodata. Nothing undefined
// is propagated as NaN or Inf.
func NormalizedDifference(a, b *Band, nodata float64) (*Band, error) {
	if !a.SameShape(b.Grid) {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width, a.Height, b.Width, b.Height)
	}

	n := len(a.Data)
	num := make([]float64, n)
	den := make([]float64, n)
	floats.SubTo(num, a.Data, b.Data)
	floats.AddTo(den, a.Data, b.Data)

	out := &Band{Grid: a.Grid, Data: make([]float64, n), NoData: nodata}
	floats.DivTo(out.Data, num, den)

	for i, v := range out.Data {
		if a.IsNoData(a.Data[i]) || b.IsNoData(b.Data[i]) || den[i] == 0 || !finite(v) {
			out.Data[i] = nodata
		}
	}
	return out, nil
}

// Difference computes a - b pixelwise. Both bands must share the same grid;
// the result carries a's grid and the given nodata value, which is also
// written wherever either input is nodata.
func Difference(a, b *Band, nodata float64) (*Band, error) {
	if !a.Equal(b.Grid) {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrGridMismatch, a.Width, a.Height, b.Width, b.Height)
	}

	out := &Band{Grid: a.Grid, Data: make([]float64, len(a.Data)), NoData: nodata}
	floats.SubTo(out.Data, a.Data, b.Data)

	for i, v := range out.Data {
		if a.IsNoData(a.Data[i]) || b.IsNoData(b.Data[i]) || !finite(v) {
			out.Data[i] = nodata
		}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
