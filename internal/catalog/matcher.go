package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/robert-malhotra/burnmap/internal/apperr"
)

var (
	// ErrInsufficientItems is returned when fewer than two items are found.
	ErrInsufficientItems = fmt.Errorf("%w: insufficient catalog items", apperr.ErrDataAvailability)

	// ErrNoPreScene is returned when no item precedes the start date.
	ErrNoPreScene = fmt.Errorf("%w: no covering pre-event scene", apperr.ErrDataAvailability)

	// ErrNoPostScene is returned when no item follows the end date.
	ErrNoPostScene = fmt.Errorf("%w: no covering post-event scene", apperr.ErrDataAvailability)

	// ErrSameScene is returned when pre and post resolve to one item.
	ErrSameScene = fmt.Errorf("%w: pre and post resolve to the same scene", apperr.ErrDataAvailability)
)

// SortItems returns the items ordered by acquisition time, ties by id. The
// input is left untouched.
func SortItems(items []Item) []Item {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int {
		if c := a.Acquired.Compare(b.Acquired); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sorted
}

// Match selects the pre-event item, the latest acquired strictly before
// start of day, and the post-event item, the earliest acquired strictly
// after end of day.
//
// The post pick is the first item past the right insertion point, not the
// one after it as some searchsorted-based matchers do; skipping one would
// reject a two-item catalog and pass over the closest post-event scene.
func Match(items []Item, start, end time.Time) (Pair, error) {
	if err := ValidateWindow(start, end); err != nil {
		return Pair{}, err
	}
	if len(items) < 2 {
		return Pair{}, fmt.Errorf("%w: need at least 2, got %d", ErrInsufficientItems, len(items))
	}

	sorted := SortItems(items)
	n := len(sorted)

	// Leftmost insertion point: items equal to the target sort after it.
	target := StartOfDay(start)
	p := sort.Search(n, func(i int) bool {
		return !sorted[i].Acquired.Before(target)
	})
	if p == 0 {
		return Pair{}, fmt.Errorf("%w: first scene %s is not before %s",
			ErrNoPreScene, sorted[0].Acquired.Format(time.RFC3339), target.Format(DateLayout))
	}

	// Rightmost insertion point: items equal to the target sort before it.
	target = EndOfDay(end)
	q := sort.Search(n, func(i int) bool {
		return sorted[i].Acquired.After(target)
	})
	if q == n {
		return Pair{}, fmt.Errorf("%w: last scene %s is not after %s",
			ErrNoPostScene, sorted[n-1].Acquired.Format(time.RFC3339), target.Format(DateLayout))
	}

	pair := Pair{Pre: sorted[p-1], Post: sorted[q]}
	if pair.Pre.ID == pair.Post.ID {
		return Pair{}, fmt.Errorf("%w: %s", ErrSameScene, pair.Pre.ID)
	}
	return pair, nil
}
