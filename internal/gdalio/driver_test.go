package gdalio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-malhotra/burnmap/internal/raster"
)

func testBand(t *testing.T) *raster.Band {
	t.Helper()
	b, err := raster.NewBandFromRows(
		[][]float64{
			{0.1, 0.2, 0.3, 0.4},
			{0.5, 0.6, 0.7, 0.8},
			{-9999, 1.0, 1.1, 1.2},
		},
		[6]float64{148, 0.25, 0, -32, 0, -0.25},
		raster.EPSG4326,
		-9999,
	)
	if err != nil {
		t.Fatalf("NewBandFromRows: %v", err)
	}
	return b
}

func TestDriver_WriteAndOpen(t *testing.T) {
	d := NewDriver()
	path := filepath.Join(t.TempDir(), "nbr.tif")

	if err := d.Write(path, testBand(t)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the output file in the directory, got %d entries", len(entries))
	}

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	g := ds.Grid()
	if g.Width != 4 || g.Height != 3 {
		t.Errorf("Expected 4x3 raster, got %dx%d", g.Width, g.Height)
	}
	if g.GeoTransform[0] != 148 || g.GeoTransform[5] != -0.25 {
		t.Errorf("Unexpected geotransform %v", g.GeoTransform)
	}

	nodata, ok := ds.NoData()
	if !ok || nodata != -9999 {
		t.Errorf("Expected nodata -9999, got %v (set=%v)", nodata, ok)
	}

	b, err := ds.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := b.At(1, 1); math.Abs(got-0.6) > 1e-6 {
		t.Errorf("Expected 0.6 at (1,1), got %v", got)
	}
}

func TestDriver_CropAndAlign(t *testing.T) {
	d := NewDriver()
	path := filepath.Join(t.TempDir(), "band.tif")
	if err := d.Write(path, testBand(t)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ds, err := d.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	scope := raster.NewScope()
	defer scope.Close()
	scope.Add(ds)

	cropped, err := scope.Open(d.Crop(ds, [4]float64{148.3, -32.4, 148.7, -32.1}))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if g := cropped.Grid(); g.Width != 2 || g.Height != 2 {
		t.Errorf("Expected 2x2 crop, got %dx%d", g.Width, g.Height)
	}

	target := cropped.Grid()
	warped, err := scope.Open(d.Warp(ds, raster.WarpOptions{Align: &target}))
	if err != nil {
		t.Fatalf("Warp failed: %v", err)
	}
	wg := warped.Grid()
	if !wg.SameShape(target) {
		t.Errorf("Expected aligned shape %dx%d, got %dx%d", target.Width, target.Height, wg.Width, wg.Height)
	}
}

func TestDriver_OpenMissing(t *testing.T) {
	d := NewDriver()
	if _, err := d.Open(filepath.Join(t.TempDir(), "missing.tif")); err == nil {
		t.Fatal("Expected error opening missing file")
	}
}
