package aoi

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// BBox is [minx, miny, maxx, maxy] in geographic coordinates.
type BBox [4]float64

// Slice returns the box as a slice, the form STAC search requests use.
func (b BBox) Slice() []float64 {
	return []float64{b[0], b[1], b[2], b[3]}
}

// FromBound converts an orb bound.
func FromBound(bound orb.Bound) BBox {
	return BBox{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
}

// VectorReader reads every feature geometry of a vector file.
type VectorReader interface {
	Read(path string) ([]orb.Geometry, error)
}

// Resolver turns an Input into a bounding box.
type Resolver struct {
	vectors VectorReader
	logger  *slog.Logger
}

// NewResolver creates a resolver. vectors reads files that are not GeoJSON;
// it may be nil, in which case only GeoJSON files are supported.
func NewResolver(vectors VectorReader) *Resolver {
	return &Resolver{vectors: vectors, logger: slog.Default()}
}

// WithLogger sets a custom logger for the resolver
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// Resolve returns the bounding box of in.
func (r *Resolver) Resolve(in Input) (BBox, error) {
	var (
		bbox BBox
		err  error
	)
	switch in.Kind {
	case KindPolygon:
		if len(in.Polygon) == 0 {
			return BBox{}, fmt.Errorf("%w: empty polygon", ErrUnsupportedInput)
		}
		bbox = FromBound(in.Polygon.Bound())
	case KindWKT:
		bbox, err = resolveWKT(in.WKT)
	case KindVectorFile:
		bbox, err = r.resolveFile(in.Path)
	default:
		return BBox{}, fmt.Errorf("%w: %s", ErrUnsupportedInput, in.Kind)
	}
	if err != nil {
		return BBox{}, err
	}

	r.logger.Debug("resolved AOI",
		slog.String("input", in.String()),
		slog.Any("bbox", bbox),
	)
	return bbox, nil
}

func resolveWKT(text string) (BBox, error) {
	geom, err := wkt.Unmarshal(text)
	if err != nil {
		return BBox{}, fmt.Errorf("%w: %v", ErrMalformedWKT, err)
	}
	switch geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return BBox{}, fmt.Errorf("%w: expected a polygon, got %s", ErrUnsupportedInput, geom.GeoJSONType())
	}
	return FromBound(geom.Bound()), nil
}

func (r *Resolver) resolveFile(path string) (BBox, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BBox{}, fmt.Errorf("%w: %s does not exist", ErrUnsupportedInput, path)
		}
		return BBox{}, fmt.Errorf("failed to stat AOI file: %w", err)
	}

	var (
		geoms []orb.Geometry
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		geoms, err = readGeoJSON(path)
	default:
		if r.vectors == nil {
			return BBox{}, fmt.Errorf("%w: no vector reader for %s", ErrUnsupportedInput, path)
		}
		geoms, err = r.vectors.Read(path)
	}
	if err != nil {
		return BBox{}, fmt.Errorf("failed to read AOI file %s: %w", path, err)
	}

	return unionBounds(path, geoms)
}

func readGeoJSON(path string) ([]orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		// A lone Feature or bare geometry is a one-feature source.
		if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
			return []orb.Geometry{f.Geometry}, nil
		}
		if g, gerr := geojson.UnmarshalGeometry(data); gerr == nil && g.Geometry() != nil {
			return []orb.Geometry{g.Geometry()}, nil
		}
		return nil, err
	}

	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return geoms, nil
}

// unionBounds returns the extent of all geometries treated as one
// multi-part geometry.
func unionBounds(path string, geoms []orb.Geometry) (BBox, error) {
	if len(geoms) == 0 {
		return BBox{}, fmt.Errorf("%w: %s has no features", ErrEmptySource, path)
	}
	bound := geoms[0].Bound()
	for _, g := range geoms[1:] {
		bound = bound.Union(g.Bound())
	}
	return FromBound(bound), nil
}
