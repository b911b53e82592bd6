// Package gdalio implements the raster and vector I/O collaborators on top
// of GDAL through github.com/airbusgeo/godal.
package gdalio

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/robert-malhotra/burnmap/internal/raster"
)

var registerOnce sync.Once

// Register registers all GDAL drivers. It is safe to call repeatedly.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// Driver implements raster.Driver with GDAL.
type Driver struct {
	logger *slog.Logger
}

// NewDriver creates a GDAL backed raster driver.
func NewDriver() *Driver {
	Register()
	return &Driver{logger: slog.Default()}
}

// WithLogger sets a custom logger for the driver
func (d *Driver) WithLogger(logger *slog.Logger) *Driver {
	d.logger = logger
	return d
}

// Open implements raster.Driver.
func (d *Driver) Open(path string) (raster.Dataset, error) {
	ds, err := godal.Open(path, godal.RasterOnly(), godal.ErrLogger(quietErrors))
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}
	d.logger.Debug("opened raster", slog.String("path", path))
	return wrap(path, ds)
}

// Warp implements raster.Driver.
func (d *Driver) Warp(src raster.Dataset, opts raster.WarpOptions) (raster.Dataset, error) {
	in, ok := src.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("warp: unsupported dataset type %T", src)
	}

	switches := []string{"-of", "MEM", "-r", "near"}
	if opts.Align != nil {
		bounds := opts.Align.Bounds()
		switches = append(switches,
			"-t_srs", opts.Align.CRS,
			"-te", ftoa(bounds[0]), ftoa(bounds[1]), ftoa(bounds[2]), ftoa(bounds[3]),
			"-ts", strconv.Itoa(opts.Align.Width), strconv.Itoa(opts.Align.Height),
		)
	} else {
		switches = append(switches, "-t_srs", opts.DstCRS)
	}
	if opts.NoData != nil {
		switches = append(switches, "-dstnodata", ftoa(*opts.NoData))
	}

	d.logger.Debug("warping raster",
		slog.String("path", in.path),
		slog.Any("switches", switches),
	)

	out, err := in.ds.Warp("", switches, godal.ErrLogger(quietErrors))
	if err != nil {
		return nil, fmt.Errorf("failed to warp %s: %w", in.label(), err)
	}
	warped, err := wrap("", out)
	if err != nil {
		return nil, err
	}
	if opts.Align != nil {
		// -te/-ts reproduce the target grid; its CRS text is kept verbatim
		// for Grid.Equal.
		warped.grid = *opts.Align
	}
	return warped, nil
}

// Crop implements raster.Driver. bbox is given in EPSG:4326 and transformed
// into the dataset CRS before the pixel window is computed.
func (d *Driver) Crop(src raster.Dataset, bbox [4]float64) (raster.Dataset, error) {
	in, ok := src.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("crop: unsupported dataset type %T", src)
	}

	local, err := transformBBox(bbox, in.grid.CRS)
	if err != nil {
		return nil, fmt.Errorf("failed to transform AOI into %s CRS: %w", in.label(), err)
	}

	xoff, yoff, w, h, err := in.grid.Window(local)
	if err != nil {
		return nil, fmt.Errorf("failed to crop %s: %w", in.label(), err)
	}

	switches := []string{
		"-of", "MEM",
		"-srcwin", strconv.Itoa(xoff), strconv.Itoa(yoff), strconv.Itoa(w), strconv.Itoa(h),
	}
	out, err := in.ds.Translate("", switches, godal.ErrLogger(quietErrors))
	if err != nil {
		return nil, fmt.Errorf("failed to crop %s: %w", in.label(), err)
	}
	return wrap("", out)
}

// Write implements raster.Driver. The GeoTIFF is written next to path and
// renamed into place once complete.
func (d *Driver) Write(path string, b *raster.Band) (err error) {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	ds, err := godal.Create(godal.GTiff, tmp, 1, godal.Float32, b.Width, b.Height,
		godal.CreationOption("COMPRESS=LZW"), godal.ErrLogger(quietErrors))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := fill(ds, b); err != nil {
		ds.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	d.logger.Debug("wrote raster",
		slog.String("path", path),
		slog.Int("width", b.Width),
		slog.Int("height", b.Height),
	)
	return nil
}

func fill(ds *godal.Dataset, b *raster.Band) error {
	if err := ds.SetGeoTransform(b.GeoTransform); err != nil {
		return err
	}
	if b.CRS != "" {
		sr, err := spatialRef(b.CRS)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}

	band := ds.Bands()[0]
	if err := band.SetNoData(b.NoData); err != nil {
		return err
	}

	buf := make([]float32, len(b.Data))
	for i, v := range b.Data {
		buf[i] = float32(v)
	}
	return band.Write(0, 0, buf, b.Width, b.Height)
}

// Dataset is a raster.Dataset backed by a GDAL dataset handle.
type Dataset struct {
	path   string
	ds     *godal.Dataset
	grid   raster.Grid
	closed bool
}

func wrap(path string, ds *godal.Dataset) (*Dataset, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("raster %q has no geotransform: %w", path, err)
	}
	st := ds.Structure()
	if st.NBands < 1 {
		ds.Close()
		return nil, fmt.Errorf("raster %q has no bands", path)
	}
	return &Dataset{
		path: path,
		ds:   ds,
		grid: raster.Grid{
			Width:        st.SizeX,
			Height:       st.SizeY,
			GeoTransform: gt,
			CRS:          ds.Projection(),
		},
	}, nil
}

// Path implements raster.Dataset.
func (ds *Dataset) Path() string { return ds.path }

// Grid implements raster.Dataset.
func (ds *Dataset) Grid() raster.Grid { return ds.grid }

// NoData implements raster.Dataset.
func (ds *Dataset) NoData() (float64, bool) {
	return ds.ds.Bands()[0].NoData()
}

// Read implements raster.Dataset.
func (ds *Dataset) Read() (*raster.Band, error) {
	if ds.closed {
		return nil, fmt.Errorf("read %s: dataset closed", ds.label())
	}
	buf := make([]float64, ds.grid.Width*ds.grid.Height)
	if err := ds.ds.Bands()[0].Read(0, 0, buf, ds.grid.Width, ds.grid.Height); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ds.label(), err)
	}

	nodata, ok := ds.NoData()
	if !ok {
		nodata = math.NaN()
	}
	return &raster.Band{Grid: ds.grid, Data: buf, NoData: nodata}, nil
}

// Close implements raster.Dataset.
func (ds *Dataset) Close() error {
	if ds.closed {
		return nil
	}
	ds.closed = true
	return ds.ds.Close()
}

func (ds *Dataset) label() string {
	if ds.path == "" {
		return "in-memory raster"
	}
	return ds.path
}

// quietErrors drops GDAL warnings and turns everything else into errors.
func quietErrors(ec godal.ErrorCategory, code int, msg string) error {
	if ec == godal.CE_Warning {
		return nil
	}
	return fmt.Errorf("gdal error %d: %s", code, msg)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
