// Package burn computes burn severity rasters: it assembles Sentinel-2 band
// tiles into aligned rasters, derives the Normalized Burn Ratio of an event
// and the difference between the pre- and post-event ratios (dNBR).
package burn

import (
	"fmt"

	"github.com/robert-malhotra/burnmap/internal/apperr"
	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Band names used in logs and errors.
const (
	BandNIR  = "nir"
	BandSWIR = "swir"
)

// File names of persisted products.
const (
	DeltaFile   = "dnbr.tif"
	mosaicTail  = "_mosaic.tif"
	nbrFileTail = "_nbr.tif"
)

// DefaultNoData marks pixels without a defined ratio.
const DefaultNoData = -9999.0

// ErrMissingBand is returned when a scene directory holds no tile for a
// required band.
var ErrMissingBand = fmt.Errorf("%w: missing band", apperr.ErrAsset)

// NBR is a persisted Normalized Burn Ratio raster.
type NBR struct {
	*raster.Band
	Path string
}

// NBRFile returns the file name of an event's NBR raster, e.g. pre_nbr.tif.
func NBRFile(label string) string {
	return label + nbrFileTail
}
