package burn

import (
	"fmt"
	"log/slog"

	"github.com/robert-malhotra/burnmap/internal/raster"
)

// Reconciler puts the pre-event NBR on the post-event grid.
type Reconciler struct {
	driver raster.Driver
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(driver raster.Driver) *Reconciler {
	return &Reconciler{driver: driver, logger: slog.Default()}
}

// WithLogger sets a custom logger for the reconciler
func (r *Reconciler) WithLogger(logger *slog.Logger) *Reconciler {
	r.logger = logger
	return r
}

// Reconcile returns the pre and post bands on one grid. When the grids
// differ in shape, CRS or transform, the persisted pre raster is warped onto
// the post grid with the post nodata value. Otherwise both pass through.
func (r *Reconciler) Reconcile(scope *raster.Scope, pre, post *NBR) (*raster.Band, *raster.Band, error) {
	if pre.Grid.Equal(post.Grid) {
		return pre.Band, post.Band, nil
	}

	r.logger.Info("reprojecting pre-event NBR onto post-event grid",
		slog.Int("pre_width", pre.Width),
		slog.Int("pre_height", pre.Height),
		slog.Int("post_width", post.Width),
		slog.Int("post_height", post.Height),
	)

	src, err := scope.Open(r.driver.Open(pre.Path))
	if err != nil {
		return nil, nil, err
	}

	target := post.Grid
	nodata := post.NoData
	warped, err := scope.Open(r.driver.Warp(src, raster.WarpOptions{Align: &target, NoData: &nodata}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reproject pre-event NBR: %w", err)
	}

	aligned, err := warped.Read()
	if err != nil {
		return nil, nil, err
	}
	return aligned, post.Band, nil
}
