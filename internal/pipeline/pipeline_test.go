package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robert-malhotra/burnmap/internal/aoi"
	"github.com/robert-malhotra/burnmap/internal/apperr"
	"github.com/robert-malhotra/burnmap/internal/burn"
	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/raster"
	"github.com/robert-malhotra/burnmap/internal/raster/rastertest"
)

const aoiWKT = "POLYGON((148 -32.4, 148.4 -32.4, 148.4 -32, 148 -32, 148 -32.4))"

var (
	nirGT  = [6]float64{148, 0.1, 0, -32, 0, -0.1}
	swirGT = [6]float64{148, 0.2, 0, -32, 0, -0.2}
)

type fakeSearcher struct {
	items  []catalog.Item
	err    error
	params catalog.SearchParams
}

func (f *fakeSearcher) Search(ctx context.Context, params catalog.SearchParams) ([]catalog.Item, error) {
	f.params = params
	return f.items, f.err
}

// sceneBands are the constant NIR and SWIR values written for one event.
// A zero value skips that band.
type sceneBands struct {
	nir, swir float64
}

// fakeRetriever writes single-tile scenes through the in-memory driver.
type fakeRetriever struct {
	t      *testing.T
	driver *rastertest.Driver
	scenes map[catalog.Label]sceneBands
	err    error
}

func (f *fakeRetriever) Fetch(ctx context.Context, outDir string, items []catalog.Item, target catalog.Item, label catalog.Label) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	dir := filepath.Join(outDir, catalog.SceneName(target.ID)+"_"+string(label))
	writeScene(f.t, f.driver, dir, target.ID, f.scenes[label])
	return dir, nil
}

func writeScene(t *testing.T, d *rastertest.Driver, dir, id string, s sceneBands) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if s.nir != 0 {
		write(t, d, filepath.Join(dir, id+"_B08.tif"), fill(4, 4, nirGT, s.nir))
	}
	if s.swir != 0 {
		write(t, d, filepath.Join(dir, id+"_B12.tif"), fill(2, 2, swirGT, s.swir))
	}
}

func fill(w, h int, gt [6]float64, v float64) *raster.Band {
	b := raster.NewBand(raster.Grid{Width: w, Height: h, GeoTransform: gt, CRS: raster.EPSG4326}, 0)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

func write(t *testing.T, d *rastertest.Driver, path string, b *raster.Band) {
	t.Helper()
	if err := d.Write(path, b); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func s2(id string, day int) catalog.Item {
	return catalog.Item{
		ID:       id,
		Acquired: time.Date(2023, 1, day, 10, 0, 0, 0, time.UTC),
		Assets:   map[string]string{"nir": "n", "swir22": "s"},
	}
}

func literalCatalog() []catalog.Item {
	return []catalog.Item{
		s2("S2A_55HFA_20230115_0_L2A", 15),
		s2("S2A_55HFA_20230101_0_L2A", 1),
		s2("S2A_55HFA_20230125_0_L2A", 25),
		s2("S2A_55HFA_20230105_0_L2A", 5),
	}
}

func request() Request {
	return Request{
		AOI:   aoi.WKT(aoiWKT),
		Start: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 1, 20, 0, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	driver    *rastertest.Driver
	searcher  *fakeSearcher
	retriever *fakeRetriever
	runner    *Runner
	outDir    string
}

func newHarness(t *testing.T, scenes map[catalog.Label]sceneBands) *harness {
	t.Helper()
	h := &harness{
		driver:   rastertest.NewDriver(),
		searcher: &fakeSearcher{items: literalCatalog()},
		outDir:   t.TempDir(),
	}
	h.retriever = &fakeRetriever{t: t, driver: h.driver, scenes: scenes}

	opts := DefaultOptions()
	opts.OutDir = h.outDir
	h.runner = New(aoi.NewResolver(nil), h.searcher, h.retriever, h.driver, opts)
	return h
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	for _, ds := range h.driver.Datasets() {
		if ds.Closes() != 1 {
			t.Errorf("Expected raster %q released exactly once, got %d", ds.Path(), ds.Closes())
		}
	}
}

func TestRunner_Match(t *testing.T) {
	h := newHarness(t, nil)

	m, err := h.runner.Match(context.Background(), request())
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if m.Pair.Pre.ID != "S2A_55HFA_20230101_0_L2A" {
		t.Errorf("Expected pre 20230101, got %s", m.Pair.Pre.ID)
	}
	if m.Pair.Post.ID != "S2A_55HFA_20230125_0_L2A" {
		t.Errorf("Expected post 20230125, got %s", m.Pair.Post.ID)
	}
	if m.Candidates != 4 {
		t.Errorf("Expected 4 candidates, got %d", m.Candidates)
	}

	p := h.searcher.params
	if want := time.Date(2022, 12, 24, 0, 0, 0, 0, time.UTC); !p.Start.Equal(want) {
		t.Errorf("Expected widened start %v, got %v", want, p.Start)
	}
	if want := time.Date(2023, 1, 30, 0, 0, 0, 0, time.UTC); !p.End.Equal(want) {
		t.Errorf("Expected widened end %v, got %v", want, p.End)
	}
	if len(p.BBox) != 4 || p.BBox[0] != 148 || p.BBox[1] != -32.4 || p.BBox[2] != 148.4 || p.BBox[3] != -32 {
		t.Errorf("Unexpected search bbox %v", p.BBox)
	}
	if p.CloudCoverLT != 1.0 {
		t.Errorf("Expected cloud cover filter 1.0, got %v", p.CloudCoverLT)
	}
}

func TestRunner_Match_Errors(t *testing.T) {
	tests := []struct {
		name      string
		items     []catalog.Item
		req       func() Request
		wantStage Stage
		wantErr   error
		category  error
	}{
		{
			name:      "single item",
			items:     []catalog.Item{s2("S2A_55HFA_20230101_0_L2A", 1)},
			req:       request,
			wantStage: StageMatch,
			wantErr:   catalog.ErrInsufficientItems,
			category:  apperr.ErrDataAvailability,
		},
		{
			name:  "malformed AOI",
			items: literalCatalog(),
			req: func() Request {
				r := request()
				r.AOI = aoi.WKT("POLYGON((148 -32")
				return r
			},
			wantStage: StageAOI,
			wantErr:   aoi.ErrMalformedWKT,
			category:  apperr.ErrValidation,
		},
		{
			name:  "inverted window",
			items: literalCatalog(),
			req: func() Request {
				r := request()
				r.Start, r.End = r.End, r.Start
				return r
			},
			wantStage: StageMatch,
			wantErr:   catalog.ErrInvalidDate,
			category:  apperr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.searcher.items = tt.items

			_, err := h.runner.Match(context.Background(), tt.req())

			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("Expected *StageError, got %v", err)
			}
			if se.Stage != tt.wantStage {
				t.Errorf("Expected stage %s, got %s", tt.wantStage, se.Stage)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, tt.category) {
				t.Errorf("Expected category %v, got %v", tt.category, err)
			}
		})
	}
}

func TestRunner_Run(t *testing.T) {
	h := newHarness(t, map[catalog.Label]sceneBands{
		catalog.Pre:  {nir: 4, swir: 2},
		catalog.Post: {nir: 3, swir: 3},
	})

	res, err := h.runner.Run(context.Background(), request())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if want := filepath.Join(h.outDir, "S2A_20230101_0_L2A_pre"); res.PreDir != want {
		t.Errorf("Expected pre dir %s, got %s", want, res.PreDir)
	}
	if want := filepath.Join(res.PreDir, "pre_nbr.tif"); res.PreNBR != want {
		t.Errorf("Expected pre NBR %s, got %s", want, res.PreNBR)
	}
	if want := filepath.Join(h.outDir, burn.DeltaFile); res.DNBR != want {
		t.Errorf("Expected dNBR %s, got %s", want, res.DNBR)
	}
	if res.Match == nil || res.Match.Pair.Post.ID != "S2A_55HFA_20230125_0_L2A" {
		t.Error("Expected match details on the result")
	}

	dnbr, ok := h.driver.Band(res.DNBR)
	if !ok {
		t.Fatal("Expected dNBR to be written")
	}
	if dnbr.Width != 2 || dnbr.Height != 2 {
		t.Errorf("Expected 2x2 dNBR on the SWIR grid, got %dx%d", dnbr.Width, dnbr.Height)
	}
	for i, v := range dnbr.Data {
		if math.Abs(v-1.0/3.0) > 1e-9 {
			t.Errorf("pixel %d: expected dNBR 1/3, got %v", i, v)
		}
	}

	h.assertReleased(t)
}

func TestRunner_Run_PerRequestOutDir(t *testing.T) {
	h := newHarness(t, map[catalog.Label]sceneBands{
		catalog.Pre:  {nir: 4, swir: 2},
		catalog.Post: {nir: 3, swir: 3},
	})

	reqA := request()
	reqA.OutDir = filepath.Join(h.outDir, "run-a")
	resA, err := h.runner.Run(context.Background(), reqA)
	if err != nil {
		t.Fatalf("Run A failed: %v", err)
	}

	h.retriever.scenes[catalog.Post] = sceneBands{nir: 1, swir: 9}
	reqB := request()
	reqB.OutDir = filepath.Join(h.outDir, "run-b")
	resB, err := h.runner.Run(context.Background(), reqB)
	if err != nil {
		t.Fatalf("Run B failed: %v", err)
	}

	if want := filepath.Join(reqA.OutDir, burn.DeltaFile); resA.DNBR != want {
		t.Errorf("Expected run A dNBR %s, got %s", want, resA.DNBR)
	}
	if want := filepath.Join(reqB.OutDir, "S2A_20230125_0_L2A_post"); resB.PostDir != want {
		t.Errorf("Expected run B post dir %s, got %s", want, resB.PostDir)
	}

	tests := []struct {
		name string
		path string
		want float64
	}{
		{"run A", resA.DNBR, 1.0 / 3.0},
		{"run B", resB.DNBR, 1.0/3.0 + 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			band, ok := h.driver.Band(tt.path)
			if !ok {
				t.Fatalf("Expected %s to be written", tt.path)
			}
			for i, v := range band.Data {
				if math.Abs(v-tt.want) > 1e-9 {
					t.Errorf("pixel %d: expected dNBR %v, got %v", i, tt.want, v)
				}
			}
		})
	}

	if _, err := os.Stat(filepath.Join(h.outDir, burn.DeltaFile)); !os.IsNotExist(err) {
		t.Errorf("Expected no shared dNBR in the base output directory, got %v", err)
	}
}

func TestRunner_Run_MissingSWIRReleasesHandles(t *testing.T) {
	h := newHarness(t, map[catalog.Label]sceneBands{
		catalog.Pre:  {nir: 4, swir: 2},
		catalog.Post: {nir: 3},
	})

	_, err := h.runner.Run(context.Background(), request())

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StageError, got %v", err)
	}
	if se.Stage != StageAssemble || se.Event != catalog.Post || se.Band != burn.BandSWIR {
		t.Errorf("Expected assemble/post/swir, got %s/%s/%s", se.Stage, se.Event, se.Band)
	}
	if !errors.Is(err, burn.ErrMissingBand) || !errors.Is(err, apperr.ErrAsset) {
		t.Errorf("Expected missing band asset error, got %v", err)
	}

	if len(h.driver.OpenHandles()) != 0 {
		t.Errorf("Expected no open handles, got %d", len(h.driver.OpenHandles()))
	}
	h.assertReleased(t)

	if _, err := os.Stat(filepath.Join(h.outDir, burn.DeltaFile)); !os.IsNotExist(err) {
		t.Error("Expected no dNBR output")
	}
}

func TestRunner_Run_MissingNIRReleasesSWIR(t *testing.T) {
	h := newHarness(t, map[catalog.Label]sceneBands{
		catalog.Pre: {swir: 2},
	})

	_, err := h.runner.Run(context.Background(), request())

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StageError, got %v", err)
	}
	if se.Event != catalog.Pre || se.Band != burn.BandNIR {
		t.Errorf("Expected pre/nir, got %s/%s", se.Event, se.Band)
	}

	opened := h.driver.Datasets()
	if len(opened) != 1 {
		t.Fatalf("Expected only the SWIR tile to be opened, got %d", len(opened))
	}
	if !strings.HasSuffix(opened[0].Path(), "_B12.tif") {
		t.Errorf("Expected SWIR tile, got %s", opened[0].Path())
	}
	h.assertReleased(t)
}

func TestRunner_Run_RetrieveError(t *testing.T) {
	h := newHarness(t, nil)
	h.retriever.err = errors.New("connection reset")

	_, err := h.runner.Run(context.Background(), request())

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageRetrieve || se.Event != catalog.Pre {
		t.Fatalf("Expected retrieve/pre stage error, got %v", err)
	}
}

func TestRunner_Process(t *testing.T) {
	h := newHarness(t, nil)
	writeScene(t, h.driver, filepath.Join(h.outDir, "S2A_20230101_0_L2A_pre"), "S2A_55HFA_20230101_0_L2A", sceneBands{nir: 4, swir: 2})
	writeScene(t, h.driver, filepath.Join(h.outDir, "S2A_20230125_0_L2A_post"), "S2A_55HFA_20230125_0_L2A", sceneBands{nir: 3, swir: 3})

	res, err := h.runner.Process(context.Background(), aoi.WKT(aoiWKT))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Match != nil {
		t.Error("Expected no match details for offline processing")
	}
	if _, ok := h.driver.Band(res.DNBR); !ok {
		t.Error("Expected dNBR to be written")
	}
	if h.searcher.params.Start != (time.Time{}) {
		t.Error("Expected no catalog search")
	}
	h.assertReleased(t)
}

func TestRunner_Process_NoEventDir(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.runner.Process(context.Background(), aoi.WKT(aoiWKT))

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageLocate || se.Event != catalog.Pre {
		t.Fatalf("Expected locate/pre stage error, got %v", err)
	}
	if !errors.Is(err, ErrNoEventDir) {
		t.Errorf("Expected ErrNoEventDir, got %v", err)
	}
}

func TestFindEventDir_PrefersNewest(t *testing.T) {
	out := t.TempDir()
	older := filepath.Join(out, "S2A_20230101_0_L2A_pre")
	newer := filepath.Join(out, "S2B_20230201_0_L2A_pre")
	for _, d := range []string{older, newer} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "stray_pre"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindEventDir(out, catalog.Pre)
	if err != nil {
		t.Fatalf("FindEventDir failed: %v", err)
	}
	if got != newer {
		t.Errorf("Expected %s, got %s", newer, got)
	}
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageAssemble, Event: catalog.Post, Band: burn.BandSWIR, Err: burn.ErrMissingBand}

	if got := err.Error(); !strings.HasPrefix(got, "assemble event=post band=swir: ") {
		t.Errorf("Unexpected message %q", got)
	}
	if !errors.Is(err, apperr.ErrAsset) {
		t.Error("Expected StageError to unwrap to its cause")
	}
}
