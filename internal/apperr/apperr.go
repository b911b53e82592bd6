// Package apperr defines the error categories shared by every stage of the
// burn mapping pipeline.
package apperr

import "errors"

var (
	// ErrValidation is returned for unusable user input: unsupported AOI
	// types, malformed WKT, empty AOI sources or inverted date ranges.
	ErrValidation = errors.New("invalid input")

	// ErrDataAvailability is returned when the catalog cannot provide a
	// usable pre/post scene pair.
	ErrDataAvailability = errors.New("data not available")

	// ErrAsset is returned when an expected band is missing from a scene.
	ErrAsset = errors.New("asset error")
)

// Category returns the category sentinel err belongs to, or nil when err is
// not categorized.
func Category(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrDataAvailability):
		return ErrDataAvailability
	case errors.Is(err, ErrAsset):
		return ErrAsset
	default:
		return nil
	}
}
