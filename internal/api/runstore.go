package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robert-malhotra/burnmap/internal/pipeline"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Finished reports whether the run has reached a terminal state.
func (s RunStatus) Finished() bool {
	return s == RunSucceeded || s == RunFailed
}

// Run is the record of one pipeline run submitted over HTTP.
type Run struct {
	ID        string
	Status    RunStatus
	AOI       string
	StartDate string
	EndDate   string
	Created   time.Time
	Updated   time.Time
	Result    *pipeline.Result
	Err       error
}

// Sentinel errors for run store operations
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExpired  = errors.New("run expired")
)

// runEntry holds a run with its expiration time
type runEntry struct {
	run       Run
	expiresAt time.Time
}

// RunStore keeps run records in memory. Finished runs expire ttl after their
// last update; queued and running runs never expire.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]*runEntry
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRunStore creates a run store and starts its cleanup loop.
// cleanupInterval specifies how often expired runs are removed.
func NewRunStore(ttl, cleanupInterval time.Duration) *RunStore {
	store := &RunStore{
		runs:     make(map[string]*runEntry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go store.cleanupLoop(cleanupInterval)

	return store
}

// Create records a new queued run and returns a copy of it.
func (s *RunStore) Create(aoiText, startDate, endDate string) Run {
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunQueued,
		AOI:       aoiText,
		StartDate: startDate,
		EndDate:   endDate,
		Created:   now,
		Updated:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = &runEntry{run: run}
	return run
}

// Get returns a copy of the run with the given id.
func (s *RunStore) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.runs[id]
	if !exists {
		return Run{}, ErrRunNotFound
	}

	if entry.run.Status.Finished() && time.Now().After(entry.expiresAt) {
		return Run{}, ErrRunExpired
	}

	return entry.run, nil
}

// Start marks a run as running.
func (s *RunStore) Start(id string) error {
	return s.update(id, func(r *Run) {
		r.Status = RunRunning
	})
}

// Finish records the outcome of a run. A nil err marks it succeeded.
func (s *RunStore) Finish(id string, res *pipeline.Result, err error) error {
	return s.update(id, func(r *Run) {
		r.Result = res
		r.Err = err
		if err != nil {
			r.Status = RunFailed
		} else {
			r.Status = RunSucceeded
		}
	})
}

func (s *RunStore) update(id string, fn func(r *Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.runs[id]
	if !exists {
		return ErrRunNotFound
	}

	fn(&entry.run)
	entry.run.Updated = time.Now().UTC()
	entry.expiresAt = entry.run.Updated.Add(s.ttl)
	return nil
}

// Stop stops the background cleanup goroutine.
func (s *RunStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// cleanupLoop periodically removes expired runs.
func (s *RunStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

// cleanup removes all expired finished runs.
func (s *RunStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, entry := range s.runs {
		if entry.run.Status.Finished() && now.After(entry.expiresAt) {
			delete(s.runs, id)
		}
	}
}

// Stats returns the number of stored runs and how many are still active.
func (s *RunStore) Stats() (count, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.runs {
		if !entry.run.Status.Finished() {
			active++
		}
	}
	return len(s.runs), active
}
