package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/robert-malhotra/burnmap/internal/apperr"
	"github.com/robert-malhotra/burnmap/internal/catalog"
)

// ErrMissingAsset is returned when a matched item has no href for a
// required band.
var ErrMissingAsset = fmt.Errorf("%w: missing asset", apperr.ErrAsset)

// SceneDir returns <outDir>/<scene-name>_<label> for item.
func SceneDir(outDir string, item catalog.Item, label catalog.Label) string {
	return filepath.Join(outDir, catalog.SceneName(item.ID)+"_"+string(label))
}

// BuildOutName names a downloaded asset after the last two path segments of
// its href, e.g. .../S2A_56HKJ_20230305_0_L2A/B08.tif becomes
// S2A_56HKJ_20230305_0_L2A_B08.tif.
func BuildOutName(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid asset href %q: %w", href, err)
	}

	segments := strings.Split(strings.Trim(path.Clean(u.Path), "/"), "/")
	if len(segments) == 0 || segments[0] == "" || segments[0] == "." {
		return "", fmt.Errorf("asset href %q has no path", href)
	}
	if len(segments) > 2 {
		segments = segments[len(segments)-2:]
	}
	return strings.Join(segments, "_"), nil
}

// Retriever downloads the configured assets of a matched item and of every
// other item of the same overpass.
type Retriever struct {
	fetcher Fetcher
	assets  []string
	logger  *slog.Logger
}

// New creates a retriever. assets are the asset keys to download, e.g.
// "nir" and "swir22".
func New(fetcher Fetcher, assets ...string) *Retriever {
	return &Retriever{
		fetcher: fetcher,
		assets:  assets,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the retriever
func (r *Retriever) WithLogger(logger *slog.Logger) *Retriever {
	r.logger = logger
	return r
}

// Fetch downloads target's assets, and those of its overpass siblings found
// in items, into the scene directory for label below outDir and returns
// that directory.
// Files already present are kept. A sibling lacking an asset is skipped; the
// target lacking one fails with ErrMissingAsset.
func (r *Retriever) Fetch(ctx context.Context, outDir string, items []catalog.Item, target catalog.Item, label catalog.Label) (string, error) {
	if err := r.check(target); err != nil {
		return "", err
	}

	dir := SceneDir(outDir, target, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scene directory: %w", err)
	}

	for _, item := range catalog.Siblings(items, target) {
		if err := r.check(item); err != nil {
			r.logger.WarnContext(ctx, "skipping overpass tile",
				slog.String("item", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, asset := range r.assets {
			if err := r.download(ctx, dir, item.Assets[asset]); err != nil {
				return "", fmt.Errorf("item %s asset %s: %w", item.ID, asset, err)
			}
		}
	}

	r.logger.InfoContext(ctx, "scene retrieved",
		slog.String("event", string(label)),
		slog.String("item", target.ID),
		slog.String("dir", dir),
	)
	return dir, nil
}

func (r *Retriever) check(item catalog.Item) error {
	for _, asset := range r.assets {
		if _, ok := item.Href(asset); !ok {
			return fmt.Errorf("%w: item %s has no %q asset", ErrMissingAsset, item.ID, asset)
		}
	}
	return nil
}

func (r *Retriever) download(ctx context.Context, dir, href string) error {
	name, err := BuildOutName(href)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, name)

	if _, err := os.Stat(dst); err == nil {
		r.logger.DebugContext(ctx, "asset already present", slog.String("path", dst))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return r.fetcher.Retrieve(ctx, href, dst)
}
