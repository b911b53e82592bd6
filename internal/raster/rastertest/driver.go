// Package rastertest provides an in-memory raster.Driver for tests.
//
// Warps are nearest-neighbour resamplings that treat every CRS as the same
// coordinate space, which is enough to exercise grid handling without GDAL.
package rastertest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Driver is an in-memory raster.Driver. Written bands are kept in memory and
// an empty marker file is created at the target path so directory globs see
// them.
type Driver struct {
	mu      sync.Mutex
	files   map[string]*raster.Band
	opened  []*Dataset
	openErr map[string]error
}

// NewDriver returns an empty driver.
func NewDriver() *Driver {
	return &Driver{
		files:   make(map[string]*raster.Band),
		openErr: make(map[string]error),
	}
}

// FailOpen makes Open(path) return err.
func (d *Driver) FailOpen(path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr[filepath.Clean(path)] = err
}

// Band returns the band last written to path.
func (d *Driver) Band(path string) (*raster.Band, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[filepath.Clean(path)]
	return b, ok
}

// Datasets returns every dataset handed out so far, in creation order.
func (d *Driver) Datasets() []*Dataset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Dataset(nil), d.opened...)
}

// OpenHandles returns the datasets that have not been closed.
func (d *Driver) OpenHandles() []*Dataset {
	var open []*Dataset
	for _, ds := range d.Datasets() {
		if ds.Closes() == 0 {
			open = append(open, ds)
		}
	}
	return open
}

// Open implements raster.Driver.
func (d *Driver) Open(path string) (raster.Dataset, error) {
	path = filepath.Clean(path)
	d.mu.Lock()
	err := d.openErr[path]
	b, ok := d.files[path]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return d.track(path, copyBand(b)), nil
}

// Warp implements raster.Driver.
func (d *Driver) Warp(src raster.Dataset, opts raster.WarpOptions) (raster.Dataset, error) {
	in, err := src.Read()
	if err != nil {
		return nil, err
	}

	nodata := in.NoData
	if opts.NoData != nil {
		nodata = *opts.NoData
	}

	if opts.Align == nil {
		out := copyBand(in)
		out.CRS = opts.DstCRS
		out.NoData = nodata
		return d.track("", out), nil
	}

	out := raster.NewBand(*opts.Align, nodata)
	ob := out.Bounds()
	ox, oy := out.Resolution()
	ib := in.Bounds()
	ix, iy := in.Resolution()
	for r := 0; r < out.Height; r++ {
		y := ob[3] - (float64(r)+0.5)*oy
		sr := int(math.Floor((ib[3] - y) / iy))
		if sr < 0 || sr >= in.Height {
			continue
		}
		for c := 0; c < out.Width; c++ {
			x := ob[0] + (float64(c)+0.5)*ox
			sc := int(math.Floor((x - ib[0]) / ix))
			if sc < 0 || sc >= in.Width {
				continue
			}
			if v := in.At(sc, sr); !in.IsNoData(v) {
				out.Set(c, r, v)
			}
		}
	}
	return d.track("", out), nil
}

// Crop implements raster.Driver. bbox is interpreted in the dataset's own
// coordinates.
func (d *Driver) Crop(src raster.Dataset, bbox [4]float64) (raster.Dataset, error) {
	in, err := src.Read()
	if err != nil {
		return nil, err
	}
	xoff, yoff, w, h, err := in.Window(bbox)
	if err != nil {
		return nil, err
	}
	out, err := in.Crop(xoff, yoff, w, h)
	if err != nil {
		return nil, err
	}
	return d.track("", out), nil
}

// Write implements raster.Driver.
func (d *Driver) Write(path string, b *raster.Band) error {
	path = filepath.Clean(path)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return err
	}
	d.mu.Lock()
	d.files[path] = copyBand(b)
	d.mu.Unlock()
	return nil
}

func (d *Driver) track(path string, b *raster.Band) *Dataset {
	ds := &Dataset{path: path, band: b}
	d.mu.Lock()
	d.opened = append(d.opened, ds)
	d.mu.Unlock()
	return ds
}

// Dataset is the raster.Dataset handed out by Driver. It counts Close calls.
type Dataset struct {
	mu     sync.Mutex
	path   string
	band   *raster.Band
	closes int
}

// Path implements raster.Dataset.
func (ds *Dataset) Path() string { return ds.path }

// Grid implements raster.Dataset.
func (ds *Dataset) Grid() raster.Grid { return ds.band.Grid }

// NoData implements raster.Dataset.
func (ds *Dataset) NoData() (float64, bool) { return ds.band.NoData, true }

// Read implements raster.Dataset.
func (ds *Dataset) Read() (*raster.Band, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closes > 0 {
		return nil, fmt.Errorf("read %q: dataset closed", ds.path)
	}
	return copyBand(ds.band), nil
}

// Close implements raster.Dataset.
func (ds *Dataset) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closes++
	return nil
}

// Closes returns how many times Close was called.
func (ds *Dataset) Closes() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.closes
}

func copyBand(b *raster.Band) *raster.Band {
	out := *b
	out.Data = append([]float64(nil), b.Data...)
	return &out
}
