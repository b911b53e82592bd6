package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robert-malhotra/burnmap/internal/aoi"
	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/pipeline"
)

// maxBodyBytes limits request bodies; AOI text is WKT or a file name.
const maxBodyBytes = 1 << 20

// Pipeline is the part of pipeline.Runner the handlers drive.
type Pipeline interface {
	Match(ctx context.Context, req pipeline.Request) (*pipeline.MatchResult, error)
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Handlers contains all HTTP handlers for the burn mapping API.
type Handlers struct {
	runner Pipeline
	runs   *RunStore
	inDir  string
	outDir string
	logger *slog.Logger

	// runMu serializes pipeline executions so that concurrent runs do not
	// compete for downloads and GDAL.
	runMu sync.Mutex

	// mu guards closed and wg.Add against Shutdown.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandlers creates a new Handlers instance. Relative AOI file names are
// resolved against inDir; each run writes its scenes and dnbr.tif below
// outDir/<run id>.
func NewHandlers(runner Pipeline, runs *RunStore, inDir, outDir string, logger *slog.Logger) *Handlers {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{
		runner: runner,
		runs:   runs,
		inDir:  inDir,
		outDir: outDir,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Shutdown stops accepting runs and waits for submitted ones to finish.
// When ctx expires first the remaining runs are cancelled.
func (h *Handlers) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return ctx.Err()
	}
}

// RunRequest is the body of POST /match and POST /runs.
type RunRequest struct {
	AOI       string `json:"aoi"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SceneResponse describes one matched catalog item.
type SceneResponse struct {
	ID       string    `json:"id"`
	Scene    string    `json:"scene"`
	Datetime time.Time `json:"datetime"`
}

// MatchResponse is returned by POST /match.
type MatchResponse struct {
	BBox        []float64     `json:"bbox"`
	StartDate   string        `json:"start_date"`
	EndDate     string        `json:"end_date"`
	SearchStart string        `json:"search_start"`
	SearchEnd   string        `json:"search_end"`
	Candidates  int           `json:"candidates"`
	Pre         SceneResponse `json:"pre"`
	Post        SceneResponse `json:"post"`
}

// ResultResponse describes the products of a successful run.
type ResultResponse struct {
	BBox    []float64      `json:"bbox"`
	Match   *MatchResponse `json:"match,omitempty"`
	PreDir  string         `json:"pre_dir"`
	PostDir string         `json:"post_dir"`
	PreNBR  string         `json:"pre_nbr"`
	PostNBR string         `json:"post_nbr"`
	DNBR    string         `json:"dnbr"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	CRS     string         `json:"crs"`
}

// RunResponse is returned by POST /runs and GET /runs/{runId}.
type RunResponse struct {
	ID        string          `json:"id"`
	Status    RunStatus       `json:"status"`
	AOI       string          `json:"aoi"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Created   time.Time       `json:"created"`
	Updated   time.Time       `json:"updated"`
	Stage     string          `json:"stage,omitempty"`
	Error     *ErrorResponse  `json:"error,omitempty"`
	Result    *ResultResponse `json:"result,omitempty"`
	Links     []*catalog.Link `json:"links"`
}

// Health returns the health status of the service.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	count, active := h.runs.Stats()
	response := map[string]any{
		"status":      "ok",
		"runs":        count,
		"active_runs": active,
	}

	WriteJSON(w, http.StatusOK, response)
}

// Match resolves the AOI and selects the pre/post scene pair without
// downloading anything.
// POST /match
func (h *Handlers) Match(w http.ResponseWriter, r *http.Request) {
	body, req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	m, err := h.runner.Match(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "match failed",
			slog.String("aoi", req.AOI.String()),
			slog.String("error", err.Error()),
		)
		WritePipelineError(w, err, GetRequestID(r.Context()))
		return
	}

	h.logger.DebugContext(r.Context(), "match request served",
		slog.String("start_date", body.StartDate),
		slog.String("end_date", body.EndDate),
		slog.String("pre", m.Pair.Pre.ID),
		slog.String("post", m.Pair.Post.ID),
	)

	WriteJSON(w, http.StatusOK, newMatchResponse(m))
}

// CreateRun validates the request, records a queued run and executes it in
// the background. Runs execute one at a time.
// POST /runs
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	body, req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		WriteUnavailable(w, "server is shutting down")
		return
	}
	run := h.runs.Create(body.AOI, body.StartDate, body.EndDate)
	h.wg.Add(1)
	h.mu.Unlock()

	req.OutDir = h.RunDir(run.ID)
	h.logger.InfoContext(r.Context(), "run submitted",
		slog.String("run_id", run.ID),
		slog.String("aoi", req.AOI.String()),
		slog.String("out_dir", req.OutDir),
	)

	go h.execute(run.ID, req)

	w.Header().Set("Location", runPath(run.ID))
	WriteJSON(w, http.StatusAccepted, newRunResponse(run))
}

// GetRun returns the state of a run.
// GET /runs/{runId}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, newRunResponse(run))
}

// DNBR serves the dNBR GeoTIFF of a succeeded run.
// GET /runs/{runId}/dnbr
func (h *Handlers) DNBR(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	if run.Status != RunSucceeded || run.Result == nil {
		WriteConflict(w, fmt.Sprintf("run %s is %s", run.ID, run.Status))
		return
	}

	f, err := os.Open(run.Result.DNBR)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dnbr output unavailable",
			slog.String("run_id", run.ID),
			slog.String("path", run.Result.DNBR),
			slog.String("error", err.Error()),
		)
		WriteNotFound(w, "dnbr output no longer available")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		WriteInternalError(w, "failed to stat dnbr output")
		return
	}

	w.Header().Set("Content-Type", contentTypeTIFF)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+"_dnbr.tif"))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *Handlers) lookupRun(w http.ResponseWriter, r *http.Request) (Run, bool) {
	id := chi.URLParam(r, "runId")
	run, err := h.runs.Get(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunExpired) {
			WriteNotFound(w, err.Error())
			return Run{}, false
		}
		WriteInternalError(w, err.Error())
		return Run{}, false
	}
	return run, true
}

// decodeRequest parses the JSON body into a pipeline request. On failure the
// error response has already been written.
func (h *Handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (RunRequest, pipeline.Request, bool) {
	var body RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		WriteBadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return body, pipeline.Request{}, false
	}

	req, err := h.parseRequest(body)
	if err != nil {
		WritePipelineError(w, err, GetRequestID(r.Context()))
		return body, pipeline.Request{}, false
	}

	return body, req, true
}

func (h *Handlers) parseRequest(body RunRequest) (pipeline.Request, error) {
	in, err := aoi.ParseInput(body.AOI, h.inDir)
	if err != nil {
		return pipeline.Request{}, err
	}

	start, err := catalog.ParseDate(body.StartDate)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := catalog.ParseDate(body.EndDate)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("end_date: %w", err)
	}
	if err := catalog.ValidateWindow(start, end); err != nil {
		return pipeline.Request{}, err
	}

	return pipeline.Request{AOI: in, Start: start, End: end}, nil
}

// execute runs one submitted request once no other run is executing.
func (h *Handlers) execute(id string, req pipeline.Request) {
	defer h.wg.Done()

	h.runMu.Lock()
	defer h.runMu.Unlock()

	if err := h.runs.Start(id); err != nil {
		h.logger.Warn("run vanished before start", slog.String("run_id", id))
		return
	}

	started := time.Now()
	res, err := h.runner.Run(h.ctx, req)
	if err != nil {
		h.logger.Error("run failed",
			slog.String("run_id", id),
			slog.Duration("duration", time.Since(started)),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.Info("run finished",
			slog.String("run_id", id),
			slog.Duration("duration", time.Since(started)),
			slog.String("dnbr", res.DNBR),
		)
	}

	if err := h.runs.Finish(id, res, err); err != nil {
		h.logger.Warn("failed to record run outcome", slog.String("run_id", id), slog.String("error", err.Error()))
	}
}

// RunDir is the output root of run id.
func (h *Handlers) RunDir(id string) string {
	return filepath.Join(h.outDir, id)
}

func runPath(id string) string {
	return "/runs/" + id
}

func newMatchResponse(m *pipeline.MatchResult) *MatchResponse {
	return &MatchResponse{
		BBox:        m.BBox.Slice(),
		StartDate:   m.Start.Format(catalog.DateLayout),
		EndDate:     m.End.Format(catalog.DateLayout),
		SearchStart: m.SearchStart.Format(catalog.DateLayout),
		SearchEnd:   m.SearchEnd.Format(catalog.DateLayout),
		Candidates:  m.Candidates,
		Pre:         newSceneResponse(m.Pair.Pre),
		Post:        newSceneResponse(m.Pair.Post),
	}
}

func newSceneResponse(it catalog.Item) SceneResponse {
	return SceneResponse{
		ID:       it.ID,
		Scene:    catalog.SceneName(it.ID),
		Datetime: it.Acquired,
	}
}

func newRunResponse(run Run) *RunResponse {
	resp := &RunResponse{
		ID:        run.ID,
		Status:    run.Status,
		AOI:       run.AOI,
		StartDate: run.StartDate,
		EndDate:   run.EndDate,
		Created:   run.Created,
		Updated:   run.Updated,
		Links: []*catalog.Link{
			{Rel: "self", Href: runPath(run.ID), Type: contentTypeJSON},
		},
	}

	if run.Err != nil {
		_, code := ErrorStatus(run.Err)
		resp.Error = &ErrorResponse{Code: code, Description: run.Err.Error()}
		var se *pipeline.StageError
		if errors.As(run.Err, &se) {
			resp.Stage = string(se.Stage)
		}
	}

	if res := run.Result; res != nil {
		resp.Result = &ResultResponse{
			BBox:    res.BBox.Slice(),
			PreDir:  res.PreDir,
			PostDir: res.PostDir,
			PreNBR:  res.PreNBR,
			PostNBR: res.PostNBR,
			DNBR:    res.DNBR,
			Width:   res.Grid.Width,
			Height:  res.Grid.Height,
			CRS:     res.Grid.CRS,
		}
		if res.Match != nil {
			resp.Result.Match = newMatchResponse(res.Match)
		}
		if run.Status == RunSucceeded {
			resp.Links = append(resp.Links, &catalog.Link{
				Rel:  "dnbr",
				Href: runPath(run.ID) + "/dnbr",
				Type: contentTypeTIFF,
			})
		}
	}

	return resp
}
