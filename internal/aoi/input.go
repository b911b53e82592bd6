// Package aoi resolves an area of interest, given as a polygon, WKT text or
// a vector file, into a geographic bounding box.
package aoi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/robert-malhotra/burnmap/internal/apperr"
)

// Kind identifies which AOI variant an Input carries.
type Kind int

const (
	KindPolygon Kind = iota + 1
	KindWKT
	KindVectorFile
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindWKT:
		return "wkt"
	case KindVectorFile:
		return "vector-file"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Input is a tagged AOI variant. Only the field matching Kind is set.
type Input struct {
	Kind    Kind
	Polygon orb.Polygon
	WKT     string
	Path    string
}

// Polygon wraps a polygon geometry.
func Polygon(p orb.Polygon) Input {
	return Input{Kind: KindPolygon, Polygon: p}
}

// WKT wraps well-known text.
func WKT(text string) Input {
	return Input{Kind: KindWKT, WKT: text}
}

// VectorFile wraps a path to a GeoJSON, Shapefile or GeoPackage file.
func VectorFile(path string) Input {
	return Input{Kind: KindVectorFile, Path: path}
}

// String returns a short description used in logs.
func (in Input) String() string {
	switch in.Kind {
	case KindWKT:
		return "wkt"
	case KindVectorFile:
		return "file:" + in.Path
	default:
		return in.Kind.String()
	}
}

// ParseInput classifies command line or API text. Text containing the
// POLYGON token is WKT (MULTIPOLYGON included). Otherwise the text must name
// an existing file, either as given or relative to dataDir.
func ParseInput(text, dataDir string) (Input, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Input{}, fmt.Errorf("%w: empty value", ErrUnsupportedInput)
	}

	if strings.Contains(text, "POLYGON") {
		return WKT(text), nil
	}

	candidates := []string{text}
	if dataDir != "" && !filepath.IsAbs(text) {
		candidates = append(candidates, filepath.Join(dataDir, text))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return VectorFile(path), nil
		}
	}

	return Input{}, fmt.Errorf("%w: %q is neither polygon WKT nor an existing file", ErrUnsupportedInput, text)
}

var (
	// ErrUnsupportedInput is returned for AOI input that is neither a
	// polygon, WKT text nor an existing vector file.
	ErrUnsupportedInput = fmt.Errorf("%w: unsupported AOI input", apperr.ErrValidation)

	// ErrMalformedWKT is returned when WKT text cannot be parsed.
	ErrMalformedWKT = fmt.Errorf("%w: malformed WKT", apperr.ErrValidation)

	// ErrEmptySource is returned when a vector file has no features.
	ErrEmptySource = fmt.Errorf("%w: empty AOI source", apperr.ErrValidation)
)
