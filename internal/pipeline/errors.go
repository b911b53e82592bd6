package pipeline

import (
	"fmt"
	"strings"

	"github.com/robert-malhotra/burnmap/internal/apperr"
	"github.com/robert-malhotra/burnmap/internal/catalog"
)

// Stage names a step of a run.
type Stage string

const (
	StageAOI       Stage = "aoi"
	StageSearch    Stage = "search"
	StageMatch     Stage = "match"
	StageRetrieve  Stage = "retrieve"
	StageLocate    Stage = "locate"
	StageAssemble  Stage = "assemble"
	StageIndex     Stage = "index"
	StageReconcile Stage = "reconcile"
	StageDelta     Stage = "delta"
)

// ErrNoEventDir is returned by Process when the output directory holds no
// scene directory for an event.
var ErrNoEventDir = fmt.Errorf("%w: no event directory", apperr.ErrAsset)

// StageError records where a run failed. Event and Band are empty when the
// failing stage is not specific to one.
type StageError struct {
	Stage Stage
	Event catalog.Label
	Band  string
	Err   error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Event != "" {
		b.WriteString(" event=")
		b.WriteString(string(e.Event))
	}
	if e.Band != "" {
		b.WriteString(" band=")
		b.WriteString(e.Band)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, event catalog.Label, band string, err error) error {
	return &StageError{Stage: stage, Event: event, Band: band, Err: err}
}
