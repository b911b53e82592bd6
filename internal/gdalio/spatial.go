package gdalio

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
)

// spatialRef builds a spatial reference from an "EPSG:<code>" string or WKT.
func spatialRef(crs string) (*godal.SpatialRef, error) {
	if code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:"); ok {
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("invalid EPSG code %q: %w", crs, err)
		}
		return godal.NewSpatialRefFromEPSG(n)
	}
	return godal.NewSpatialRefFromWKT(crs)
}

// transformBBox reprojects a geographic bbox into dstCRS and returns the
// envelope of its transformed corners and edge midpoints.
func transformBBox(bbox [4]float64, dstCRS string) ([4]float64, error) {
	if dstCRS == "" {
		return bbox, nil
	}

	src, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return bbox, err
	}
	defer src.Close()

	dst, err := spatialRef(dstCRS)
	if err != nil {
		return bbox, err
	}
	defer dst.Close()

	if src.IsSame(dst) {
		return bbox, nil
	}

	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return bbox, err
	}
	defer tr.Close()

	midX := (bbox[0] + bbox[2]) / 2
	midY := (bbox[1] + bbox[3]) / 2
	xs := []float64{bbox[0], bbox[2], bbox[2], bbox[0], midX, bbox[2], midX, bbox[0]}
	ys := []float64{bbox[1], bbox[1], bbox[3], bbox[3], bbox[1], midY, bbox[3], midY}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return bbox, err
	}

	out := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := range xs {
		out[0] = math.Min(out[0], xs[i])
		out[1] = math.Min(out[1], ys[i])
		out[2] = math.Max(out[2], xs[i])
		out[3] = math.Max(out[3], ys[i])
	}
	return out, nil
}
