// Package catalog searches a STAC API for Sentinel-2 scenes and selects the
// pre- and post-event items bracketing a requested date range.
package catalog

import (
	"fmt"
	"strings"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Re-export core types from planetlabs/go-stac for convenience
type (
	STACItem = gostac.Item
	Asset    = gostac.Asset
	Link     = gostac.Link
)

// Label places an item in the temporal window of a run.
type Label string

const (
	Pre  Label = "pre"
	Post Label = "post"
)

// Labels lists the events of a run in processing order.
var Labels = []Label{Pre, Post}

// Item is a catalog record reduced to what the pipeline needs. It is never
// mutated after NewItem.
type Item struct {
	ID       string
	Acquired time.Time
	Assets   map[string]string
	Raw      *STACItem
}

// NewItem builds an Item from a STAC item. The acquisition time is the
// item's datetime property.
func NewItem(raw *STACItem) (Item, error) {
	if raw == nil {
		return Item{}, fmt.Errorf("nil STAC item")
	}

	value, _ := raw.Properties["datetime"].(string)
	acquired, err := ParseTime(value)
	if err != nil {
		return Item{}, fmt.Errorf("item %s: %w", raw.Id, err)
	}

	assets := make(map[string]string, len(raw.Assets))
	for key, asset := range raw.Assets {
		if asset != nil && asset.Href != "" {
			assets[key] = asset.Href
		}
	}

	return Item{
		ID:       raw.Id,
		Acquired: acquired,
		Assets:   assets,
		Raw:      raw,
	}, nil
}

// Href returns the asset reference stored under key.
func (it Item) Href(key string) (string, bool) {
	href, ok := it.Assets[key]
	return href, ok
}

// SceneName returns the item id without its tile token, the second
// underscore separated field: S2A_56HKJ_20230305_0_L2A becomes
// S2A_20230305_0_L2A. Items of one overpass share a scene name.
func SceneName(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return id
	}
	return strings.Join(append(parts[:1:1], parts[2:]...), "_")
}

// Siblings returns the items sharing target's scene name, target first,
// the rest in input order.
func Siblings(items []Item, target Item) []Item {
	scene := SceneName(target.ID)
	out := []Item{target}
	for _, it := range items {
		if it.ID != target.ID && SceneName(it.ID) == scene {
			out = append(out, it)
		}
	}
	return out
}

// Pair is the matched pre/post item pair of a run.
type Pair struct {
	Pre  Item
	Post Item
}

// Get returns the item for label.
func (p Pair) Get(label Label) Item {
	if label == Pre {
		return p.Pre
	}
	return p.Post
}
