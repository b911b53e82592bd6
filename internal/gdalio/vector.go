package gdalio

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// VectorReader reads feature geometries from any OGR supported vector file
// (Shapefile, GeoPackage, GeoJSON, ...).
type VectorReader struct{}

// NewVectorReader creates an OGR backed vector reader.
func NewVectorReader() *VectorReader {
	Register()
	return &VectorReader{}
}

// Read returns the geometry of every feature of every layer in path.
func (VectorReader) Read(path string) ([]orb.Geometry, error) {
	ds, err := godal.Open(path, godal.VectorOnly(), godal.ErrLogger(quietErrors))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file %s: %w", path, err)
	}
	defer ds.Close()

	var geoms []orb.Geometry
	for _, layer := range ds.Layers() {
		for feat := layer.NextFeature(); feat != nil; feat = layer.NextFeature() {
			g, err := featureGeometry(feat)
			feat.Close()
			if err != nil {
				return nil, fmt.Errorf("malformed geometry in %s: %w", path, err)
			}
			geoms = append(geoms, g)
		}
	}
	return geoms, nil
}

func featureGeometry(feat *godal.Feature) (orb.Geometry, error) {
	geom := feat.Geometry()
	defer geom.Close()

	raw, err := geom.WKB()
	if err != nil {
		return nil, err
	}
	return wkb.Unmarshal(raw)
}
