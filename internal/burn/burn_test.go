package burn

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robert-malhotra/burnmap/internal/apperr"
	"github.com/robert-malhotra/burnmap/internal/raster"
	"github.com/robert-malhotra/burnmap/internal/raster/rastertest"
)

const utm = "EPSG:32756"

func constBand(w, h int, gt [6]float64, crs string, v, nodata float64) *raster.Band {
	b := raster.NewBand(raster.Grid{Width: w, Height: h, GeoTransform: gt, CRS: crs}, nodata)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

func writeTile(t *testing.T, d *rastertest.Driver, path string, b *raster.Band) {
	t.Helper()
	if err := d.Write(path, b); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestTiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"S2A_56HKJ_20230305_0_L2A_B12.tif",
		"S2A_55HGD_20230305_0_L2A_B12.tif",
		"S2A_20230305_0_L2A_B12_mosaic.tif",
		"S2A_56HKJ_20230305_0_L2A_B08.tif",
		"S2A_56HKJ_20230305_0_L2A_B12.tif.part",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tiles, err := Tiles(dir, "B12")
	if err != nil {
		t.Fatalf("Tiles failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "S2A_55HGD_20230305_0_L2A_B12.tif"),
		filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B12.tif"),
	}
	if len(tiles) != len(want) {
		t.Fatalf("Expected %v, got %v", want, tiles)
	}
	for i := range want {
		if tiles[i] != want[i] {
			t.Errorf("Expected %s, got %s", want[i], tiles[i])
		}
	}

	if got := MosaicPath(tiles); got != filepath.Join(dir, "S2A_20230305_0_L2A_B12_mosaic.tif") {
		t.Errorf("Unexpected mosaic path %s", got)
	}
}

func TestAssembler_SingleTile(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()
	writeTile(t, d, filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B12.tif"),
		constBand(4, 4, [6]float64{600000, 20, 0, 6400000, 0, -20}, utm, 0.1, 0))

	scope := raster.NewScope()
	ds, err := NewAssembler(d, 10).Assemble(scope, dir, "B12", nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if ds.Grid().Width != 4 {
		t.Errorf("Expected the tile itself, got width %d", ds.Grid().Width)
	}
	if scope.Len() != 1 {
		t.Errorf("Expected 1 handle in scope, got %d", scope.Len())
	}

	scope.Close()
	if open := d.OpenHandles(); len(open) != 0 {
		t.Errorf("Expected no open handles after scope close, got %d", len(open))
	}
}

func TestAssembler_MissingBand(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()
	writeTile(t, d, filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B08.tif"),
		constBand(2, 2, [6]float64{0, 10, 0, 0, 0, -10}, utm, 0.3, 0))

	scope := raster.NewScope()
	defer scope.Close()

	_, err := NewAssembler(d, 10).Assemble(scope, dir, "B12", nil)
	if !errors.Is(err, ErrMissingBand) {
		t.Fatalf("Expected ErrMissingBand, got %v", err)
	}
	if !errors.Is(err, apperr.ErrAsset) {
		t.Errorf("Expected asset category, got %v", err)
	}
	if len(d.Datasets()) != 0 {
		t.Errorf("Expected no dataset opened, got %d", len(d.Datasets()))
	}
}

func TestAssembler_MergesOffsetTilesOverUnionExtent(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()

	// Two 2x2 tiles of 20 m pixels, the second shifted one pixel east and
	// one pixel south.
	writeTile(t, d, filepath.Join(dir, "S2A_55HGD_20230305_0_L2A_B12.tif"),
		constBand(2, 2, [6]float64{0, 20, 0, 60, 0, -20}, utm, 1, 0))
	writeTile(t, d, filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B12.tif"),
		constBand(2, 2, [6]float64{20, 20, 0, 40, 0, -20}, utm, 2, 0))

	scope := raster.NewScope()
	ds, err := NewAssembler(d, 10).Assemble(scope, dir, "B12", nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	mosaicPath := filepath.Join(dir, "S2A_20230305_0_L2A_B12_mosaic.tif")
	if ds.Path() != mosaicPath {
		t.Errorf("Expected mosaic %s, got %s", mosaicPath, ds.Path())
	}

	g := ds.Grid()
	if g.Width != 3 || g.Height != 3 {
		t.Fatalf("Expected 3x3 mosaic, got %dx%d", g.Width, g.Height)
	}
	if got, want := g.Bounds(), [4]float64{0, 0, 60, 60}; got != want {
		t.Errorf("Expected union bounds %v, got %v", want, got)
	}
	if g.CRS != raster.EPSG4326 {
		t.Errorf("Expected tiles reprojected to %s, got %s", raster.EPSG4326, g.CRS)
	}

	b, _ := ds.Read()
	if b.At(0, 0) != 1 || b.At(2, 2) != 2 || b.At(1, 1) != 1 {
		t.Errorf("Unexpected mosaic pixels %v", b.Rows())
	}
	if !b.IsNoData(b.At(2, 0)) || !b.IsNoData(b.At(0, 2)) {
		t.Errorf("Expected uncovered corners to be nodata, got %v", b.Rows())
	}

	// Only the mosaic survives the merge.
	if open := d.OpenHandles(); len(open) != 1 || open[0].Path() != mosaicPath {
		t.Errorf("Expected only the mosaic handle open, got %d", len(open))
	}
	scope.Close()
	for _, h := range d.Datasets() {
		if h.Closes() != 1 {
			t.Errorf("Expected handle %q closed once, got %d", h.Path(), h.Closes())
		}
	}
}

func TestAssembler_ReusesUpToDateMosaic(t *testing.T) {
	tests := []struct {
		name      string
		mosaicAge time.Duration
		wantReuse bool
	}{
		{"newer than tiles", 0, true},
		{"older than tiles", 2 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rastertest.NewDriver()
			dir := t.TempDir()

			tiles := []string{
				filepath.Join(dir, "S2A_55HGD_20230305_0_L2A_B12.tif"),
				filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B12.tif"),
			}
			writeTile(t, d, tiles[0], constBand(2, 2, [6]float64{0, 20, 0, 60, 0, -20}, utm, 1, 0))
			writeTile(t, d, tiles[1], constBand(2, 2, [6]float64{20, 20, 0, 40, 0, -20}, utm, 2, 0))

			// A mosaic left by an earlier run, recognisable by its pixels.
			mosaicPath := MosaicPath(tiles)
			writeTile(t, d, mosaicPath, constBand(3, 3, [6]float64{0, 20, 0, 60, 0, -20}, raster.EPSG4326, 9, 0))

			now := time.Now()
			for _, tile := range tiles {
				if err := os.Chtimes(tile, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
					t.Fatal(err)
				}
			}
			mtime := now.Add(-tt.mosaicAge)
			if err := os.Chtimes(mosaicPath, mtime, mtime); err != nil {
				t.Fatal(err)
			}

			scope := raster.NewScope()
			defer scope.Close()

			ds, err := NewAssembler(d, 10).Assemble(scope, dir, "B12", nil)
			if err != nil {
				t.Fatalf("Assemble failed: %v", err)
			}
			if ds.Path() != mosaicPath {
				t.Errorf("Expected mosaic %s, got %s", mosaicPath, ds.Path())
			}

			b, _ := ds.Read()
			reused := b.At(0, 0) == 9
			if reused != tt.wantReuse {
				t.Errorf("Expected reuse=%v, got pixels %v", tt.wantReuse, b.Rows())
			}

			// Reuse opens only the mosaic; a rebuild opens and warps each tile.
			wantHandles := 1
			if !tt.wantReuse {
				wantHandles = 1 + 2*len(tiles)
			}
			if got := len(d.Datasets()); got != wantHandles {
				t.Errorf("Expected %d datasets opened, got %d", wantHandles, got)
			}
		})
	}
}

func TestAssembler_AlignsReferenceResolutionTilesToCompanion(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()

	writeTile(t, d, filepath.Join(dir, "S2A_55HGD_20230305_0_L2A_B08.tif"),
		constBand(2, 4, [6]float64{0, 10, 0, 40, 0, -10}, utm, 5, 0))
	writeTile(t, d, filepath.Join(dir, "S2A_56HKJ_20230305_0_L2A_B08.tif"),
		constBand(2, 4, [6]float64{20, 10, 0, 40, 0, -10}, utm, 7, 0))
	writeTile(t, d, filepath.Join(dir, "swir.tif"),
		constBand(2, 2, [6]float64{0, 20, 0, 40, 0, -20}, raster.EPSG4326, 1, 0))

	scope := raster.NewScope()
	defer scope.Close()

	swir, err := scope.Open(d.Open(filepath.Join(dir, "swir.tif")))
	if err != nil {
		t.Fatal(err)
	}

	nir, err := NewAssembler(d, 10).Assemble(scope, dir, "B08", swir)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !nir.Grid().Equal(swir.Grid()) {
		t.Fatalf("Expected NIR mosaic on the SWIR grid, got %+v", nir.Grid())
	}

	b, _ := nir.Read()
	if b.At(0, 0) != 5 || b.At(1, 1) != 7 {
		t.Errorf("Unexpected aligned pixels %v", b.Rows())
	}
}

func TestIndexer_AlignCropCompute(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()

	nirPath := filepath.Join(dir, "nir.tif")
	swirPath := filepath.Join(dir, "swir.tif")
	writeTile(t, d, nirPath, constBand(4, 4, [6]float64{0, 10, 0, 40, 0, -10}, utm, 4, 0))
	writeTile(t, d, swirPath, constBand(2, 2, [6]float64{0, 20, 0, 40, 0, -20}, utm, 2, 0))

	scope := raster.NewScope()
	defer scope.Close()
	nir, _ := scope.Open(d.Open(nirPath))
	swir, _ := scope.Open(d.Open(swirPath))

	x := NewIndexer(d, true, DefaultNoData)

	nir, err := x.Align(scope, nir, swir)
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if !nir.Grid().Equal(swir.Grid()) {
		t.Fatalf("Expected NIR on SWIR grid, got %+v", nir.Grid())
	}

	bbox := [4]float64{0, 20, 20, 40}
	if nir, err = x.Crop(scope, nir, bbox); err != nil {
		t.Fatalf("Crop NIR failed: %v", err)
	}
	if swir, err = x.Crop(scope, swir, bbox); err != nil {
		t.Fatalf("Crop SWIR failed: %v", err)
	}

	out := filepath.Join(dir, NBRFile("pre"))
	nbr, err := x.Compute(nir, swir, out)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if nbr.Width != 1 || nbr.Height != 1 {
		t.Fatalf("Expected 1x1 cropped NBR, got %dx%d", nbr.Width, nbr.Height)
	}
	if math.Abs(nbr.At(0, 0)-1.0/3.0) > 1e-9 {
		t.Errorf("Expected NBR 1/3, got %v", nbr.At(0, 0))
	}
	if nbr.Path != out {
		t.Errorf("Expected path %s, got %s", out, nbr.Path)
	}
	if _, ok := d.Band(out); !ok {
		t.Error("Expected NBR to be persisted")
	}
}

func TestIndexer_NoCrop(t *testing.T) {
	d := rastertest.NewDriver()
	x := NewIndexer(d, false, DefaultNoData)

	ds := &fixedDataset{band: constBand(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, utm, 1, 0)}
	got, err := x.Crop(raster.NewScope(), ds, [4]float64{0, 0, 1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != raster.Dataset(ds) {
		t.Error("Expected dataset to pass through when cropping is disabled")
	}
}

func TestReconciler_WarpsPreOntoPostGrid(t *testing.T) {
	d := rastertest.NewDriver()
	dir := t.TempDir()

	pre := &NBR{
		Band: constBand(100, 100, [6]float64{0, 1, 0, 100, 0, -1}, utm, 0.5, DefaultNoData),
		Path: filepath.Join(dir, "pre_nbr.tif"),
	}
	writeTile(t, d, pre.Path, pre.Band)
	post := &NBR{
		Band: constBand(98, 98, [6]float64{1, 1, 0, 99, 0, -1}, utm, 0.2, -1),
		Path: filepath.Join(dir, "post_nbr.tif"),
	}

	scope := raster.NewScope()
	preB, postB, err := NewReconciler(d).Reconcile(scope, pre, post)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if r, c := preB.Shape(); r != 98 || c != 98 {
		t.Errorf("Expected pre shape (98,98), got (%d,%d)", r, c)
	}
	if r, c := postB.Shape(); r != 98 || c != 98 {
		t.Errorf("Expected post shape (98,98), got (%d,%d)", r, c)
	}
	if !preB.Grid.Equal(postB.Grid) {
		t.Error("Expected identical grids after reconciliation")
	}
	if preB.NoData != -1 {
		t.Errorf("Expected post nodata -1 on reprojected pre, got %v", preB.NoData)
	}
	if preB.At(0, 0) != 0.5 {
		t.Errorf("Expected pre value 0.5, got %v", preB.At(0, 0))
	}

	scope.Close()
	if open := d.OpenHandles(); len(open) != 0 {
		t.Errorf("Expected no open handles, got %d", len(open))
	}
}

func TestReconciler_PassThrough(t *testing.T) {
	d := rastertest.NewDriver()
	gt := [6]float64{0, 1, 0, 2, 0, -1}
	pre := &NBR{Band: constBand(2, 2, gt, utm, 0.5, DefaultNoData)}
	post := &NBR{Band: constBand(2, 2, gt, utm, 0.2, DefaultNoData)}

	preB, postB, err := NewReconciler(d).Reconcile(raster.NewScope(), pre, post)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if preB != pre.Band || postB != post.Band {
		t.Error("Expected bands to pass through unchanged")
	}
	if len(d.Datasets()) != 0 {
		t.Error("Expected no raster to be opened")
	}
}

func TestDelta_Compute(t *testing.T) {
	d := rastertest.NewDriver()
	gt := [6]float64{0, 1, 0, 1, 0, -1}
	pre := constBand(1, 1, gt, utm, 0.5, DefaultNoData)
	post := constBand(1, 1, gt, utm, 0.2, DefaultNoData)

	path := filepath.Join(t.TempDir(), DeltaFile)
	dnbr, err := NewDelta(d, DefaultNoData).Compute(pre, post, path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if math.Abs(dnbr.At(0, 0)-0.3) > 1e-9 {
		t.Errorf("Expected dNBR 0.3, got %v", dnbr.At(0, 0))
	}
	if _, ok := d.Band(path); !ok {
		t.Error("Expected dNBR to be persisted")
	}
}

func TestDelta_GridMismatch(t *testing.T) {
	d := rastertest.NewDriver()
	pre := constBand(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, utm, 0.5, DefaultNoData)
	post := constBand(2, 2, [6]float64{1, 1, 0, 2, 0, -1}, utm, 0.2, DefaultNoData)

	path := filepath.Join(t.TempDir(), DeltaFile)
	_, err := NewDelta(d, DefaultNoData).Compute(pre, post, path)
	if !errors.Is(err, raster.ErrGridMismatch) {
		t.Fatalf("Expected ErrGridMismatch, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no output on failure")
	}
}

// fixedDataset is a raster.Dataset that is never closed by the driver.
type fixedDataset struct {
	band *raster.Band
}

func (f *fixedDataset) Close() error { return nil }
func (f *fixedDataset) Path() string { return "" }
func (f *fixedDataset) Grid() raster.Grid { return f.band.Grid }
func (f *fixedDataset) NoData() (float64, bool) { return f.band.NoData, true }
func (f *fixedDataset) Read() (*raster.Band, error) { return f.band, nil }
