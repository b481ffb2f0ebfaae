package stage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"infersubc/pkg/mask"
	"infersubc/pkg/params"
)

// Status is the execution state of a stage within one pipeline run.
type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Skipped:
		return "SKIPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{Pending, Running, Succeeded, Failed, Skipped} {
		if st.String() == s {
			return st, nil
		}
	}
	return Pending, fmt.Errorf("unknown stage status %q", s)
}

// Provenance records what produced a Result.
type Provenance struct {
	// Stage is the producing stage
	Stage string

	// Params are the options the stage ran with
	Params params.Params

	// Upstream lists the ids of the results the stage consumed, in the
	// order of the stage's declared dependencies
	Upstream []uuid.UUID

	// Kernel names the segmentation kernel the stage delegated to
	Kernel string

	// Cached is set when the labels were loaded from a previous run
	Cached bool
}

// Result is the outcome of one stage execution. Results are read-only once
// returned: dependents and quantification never modify them.
type Result struct {
	ID     uuid.UUID
	Stage  string
	Status Status

	// Labels is the contiguous label mask; nil unless Status is Succeeded
	Labels *mask.Labels

	Provenance Provenance

	// Err is the cause of a FAILED or SKIPPED status
	Err error

	Started  time.Time
	Duration time.Duration
}

// Objects derives the boolean object mask, or nil when there are no labels.
func (r *Result) Objects() *mask.Objects {
	if r == nil || r.Labels == nil {
		return nil
	}
	return r.Labels.Objects()
}

// Usable reports whether dependents may consume the result: it succeeded
// and labels at least one voxel.
func (r *Result) Usable() bool {
	return r != nil && r.Status == Succeeded && r.Labels != nil && !r.Labels.Empty()
}

// Reason returns the error text of a FAILED or SKIPPED result.
func (r *Result) Reason() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// NewFailed builds a FAILED result carrying err.
func NewFailed(name string, p params.Params, err error) *Result {
	return &Result{
		ID:         uuid.New(),
		Stage:      name,
		Status:     Failed,
		Err:        err,
		Provenance: Provenance{Stage: name, Params: p},
		Started:    time.Now().UTC(),
	}
}

// NewSkipped builds a SKIPPED result carrying the reason it never ran.
func NewSkipped(name string, p params.Params, reason error) *Result {
	return &Result{
		ID:         uuid.New(),
		Stage:      name,
		Status:     Skipped,
		Err:        reason,
		Provenance: Provenance{Stage: name, Params: p},
		Started:    time.Now().UTC(),
	}
}
