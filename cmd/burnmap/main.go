// burnmap maps burnt area as the dNBR between Sentinel-2 scenes before and
// after a fire.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robert-malhotra/burnmap/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

// cli carries state shared by the subcommands.
type cli struct {
	inDir  string
	outDir string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "burnmap",
		Short: "Map burnt area from Sentinel-2 imagery",
		Long: `burnmap finds the Sentinel-2 scenes acquired just before and just after
a fire over an area of interest, downloads their NIR and SWIR bands and
writes the differenced Normalized Burn Ratio (dNBR) as a GeoTIFF.

The area of interest is polygon WKT or a vector file (GeoJSON, Shapefile,
GeoPackage). Relative file names are resolved against --in-dir.

Configuration is read from the environment (CATALOG_*, PIPELINE_*,
SERVER_*, LOG_*); flags override the directory settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.inDir, "in-dir", "", "directory holding AOI vector files (default $PIPELINE_IN_DIR)")
	root.PersistentFlags().StringVar(&c.outDir, "out-dir", "", "directory receiving scenes and dnbr.tif (default $PIPELINE_OUT_DIR)")

	root.AddCommand(
		c.newRunCmd(),
		c.newMatchCmd(),
		c.newProcessCmd(),
		c.newServeCmd(),
	)

	return root
}

// setup loads configuration, applies flag overrides and builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.inDir != "" {
		cfg.Pipeline.InDir = c.inDir
	}
	if c.outDir != "" {
		cfg.Pipeline.OutDir = c.outDir
	}

	c.cfg = cfg
	c.logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(c.logger)

	c.logger.Debug("configuration loaded",
		slog.String("command", cmd.Name()),
		slog.String("catalog", cfg.Catalog.BaseURL),
		slog.String("collection", cfg.Catalog.Collection),
		slog.String("in_dir", cfg.Pipeline.InDir),
		slog.String("out_dir", cfg.Pipeline.OutDir),
	)
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	// Logs go to stderr; stdout carries command results.
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
