package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robert-malhotra/burnmap/internal/aoi"
	"github.com/robert-malhotra/burnmap/internal/catalog"
	"github.com/robert-malhotra/burnmap/internal/pipeline"
	"github.com/robert-malhotra/burnmap/pkg/server"
	"github.com/spf13/cobra"
)

// requestFlags are the AOI and event dates given on the command line.
type requestFlags struct {
	aoi       string
	startDate string
	endDate   string
}

func (f *requestFlags) register(cmd *cobra.Command, withDates bool) {
	cmd.Flags().StringVar(&f.aoi, "aoi", "", "area of interest: polygon WKT or a vector file name")
	cmd.MarkFlagRequired("aoi")
	if !withDates {
		return
	}
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "first day of the fire (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "last day of the fire (YYYY-MM-DD)")
	cmd.MarkFlagRequired("start-date")
	cmd.MarkFlagRequired("end-date")
}

func (f *requestFlags) request(inDir string) (pipeline.Request, error) {
	in, err := aoi.ParseInput(f.aoi, inDir)
	if err != nil {
		return pipeline.Request{}, err
	}
	start, err := catalog.ParseDate(f.startDate)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("--start-date: %w", err)
	}
	end, err := catalog.ParseDate(f.endDate)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("--end-date: %w", err)
	}
	return pipeline.Request{AOI: in, Start: start, End: end}, nil
}

func (c *cli) newRunCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search, download and compute dNBR for a fire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(c.cfg.Pipeline.InDir)
			if err != nil {
				return err
			}

			res, err := server.NewRunner(c.cfg, c.logger).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newResultSummary(res))
		},
	}
	flags.register(cmd, true)
	return cmd
}

func (c *cli) newMatchCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Select the pre and post fire scenes without downloading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(c.cfg.Pipeline.InDir)
			if err != nil {
				return err
			}

			m, err := server.NewRunner(c.cfg, c.logger).Match(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newMatchSummary(m))
		},
	}
	flags.register(cmd, true)
	return cmd
}

func (c *cli) newProcessCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Recompute dNBR from scenes already in the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := aoi.ParseInput(flags.aoi, c.cfg.Pipeline.InDir)
			if err != nil {
				return err
			}

			res, err := server.NewRunner(c.cfg, c.logger).Process(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newResultSummary(res))
		},
	}
	flags.register(cmd, false)
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the match and run endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger

	logger.Info("starting burnmap server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"catalog", cfg.Catalog.BaseURL,
		"out_dir", cfg.Pipeline.OutDir,
	)

	srv := server.NewFromConfig(cfg, server.NewRunner(cfg, logger), logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := srv.Close(shutdownCtx); err != nil {
		logger.Warn("runs still active at shutdown were cancelled", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}

type sceneSummary struct {
	ID       string    `json:"id"`
	Datetime time.Time `json:"datetime"`
}

type matchSummary struct {
	BBox        []float64    `json:"bbox"`
	SearchStart string       `json:"search_start"`
	SearchEnd   string       `json:"search_end"`
	Candidates  int          `json:"candidates"`
	Pre         sceneSummary `json:"pre"`
	Post        sceneSummary `json:"post"`
}

type resultSummary struct {
	Match   *matchSummary `json:"match,omitempty"`
	BBox    []float64     `json:"bbox"`
	PreDir  string        `json:"pre_dir"`
	PostDir string        `json:"post_dir"`
	PreNBR  string        `json:"pre_nbr"`
	PostNBR string        `json:"post_nbr"`
	DNBR    string        `json:"dnbr"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
}

func newMatchSummary(m *pipeline.MatchResult) *matchSummary {
	return &matchSummary{
		BBox:        m.BBox.Slice(),
		SearchStart: m.SearchStart.Format(catalog.DateLayout),
		SearchEnd:   m.SearchEnd.Format(catalog.DateLayout),
		Candidates:  m.Candidates,
		Pre:         sceneSummary{ID: m.Pair.Pre.ID, Datetime: m.Pair.Pre.Acquired},
		Post:        sceneSummary{ID: m.Pair.Post.ID, Datetime: m.Pair.Post.Acquired},
	}
}

func newResultSummary(res *pipeline.Result) *resultSummary {
	s := &resultSummary{
		BBox:    res.BBox.Slice(),
		PreDir:  res.PreDir,
		PostDir: res.PostDir,
		PreNBR:  res.PreNBR,
		PostNBR: res.PostNBR,
		DNBR:    res.DNBR,
		Width:   res.Grid.Width,
		Height:  res.Grid.Height,
	}
	if res.Match != nil {
		s.Match = newMatchSummary(res.Match)
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
