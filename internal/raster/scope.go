package raster

import (
	"errors"
	"io"
)

// Scope collects raster handles opened by one pipeline stage and releases
// all of them, in reverse order, when the stage ends.
//
//	scope := raster.NewScope()
//	defer scope.Close()
type Scope struct {
	closers []io.Closer
	closed  bool
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add registers c for release. Adding to a closed scope closes c at once.
func (s *Scope) Add(c io.Closer) error {
	if s.closed {
		return c.Close()
	}
	s.closers = append(s.closers, c)
	return nil
}

// Open registers the dataset returned by an open call, passing the error
// through. It lets callers write
//
//	ds, err := scope.Open(driver.Open(path))
func (s *Scope) Open(ds Dataset, err error) (Dataset, error) {
	if err != nil {
		return nil, err
	}
	if err := s.Add(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// Len returns the number of handles still held.
func (s *Scope) Len() int {
	return len(s.closers)
}

// Close releases every registered handle exactly once. Calling Close again
// is a no-op.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
