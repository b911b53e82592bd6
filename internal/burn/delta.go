package burn

import (
	"log/slog"

	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Delta computes and persists dNBR.
type Delta struct {
	driver raster.Driver
	nodata float64
	logger *slog.Logger
}

// NewDelta creates a dNBR writer using nodata for undefined pixels.
func NewDelta(driver raster.Driver, nodata float64) *Delta {
	return &Delta{driver: driver, nodata: nodata, logger: slog.Default()}
}

// WithLogger sets a custom logger for the delta computer
func (d *Delta) WithLogger(logger *slog.Logger) *Delta {
	d.logger = logger
	return d
}

// Compute writes dNBR = pre - post to path on the pre grid. Both bands must
// share a grid; a pixel that is nodata in either input is nodata.
func (d *Delta) Compute(pre, post *raster.Band, path string) (*raster.Band, error) {
	dnbr, err := raster.Difference(pre, post, d.nodata)
	if err != nil {
		return nil, err
	}

	if err := d.driver.Write(path, dnbr); err != nil {
		return nil, err
	}

	d.logger.Info("dNBR written",
		slog.String("path", path),
		slog.Int("width", dnbr.Width),
		slog.Int("height", dnbr.Height),
	)
	return dnbr, nil
}
