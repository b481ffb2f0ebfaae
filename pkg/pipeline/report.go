package pipeline

import (
	"time"

	"github.com/google/uuid"

	"infersubc/pkg/stage"
)

// Transition is one recorded state change of a stage.
type Transition struct {
	Stage string
	From  stage.Status
	To    stage.Status
	At    time.Time
}

// Report is the outcome of one pipeline run. It holds exactly one result
// per registered stage.
type Report struct {
	RunID       uuid.UUID
	Order       []string
	Results     map[string]*stage.Result
	Transitions []Transition
	Started     time.Time
	Duration    time.Duration
}

// Result returns the result of the named stage.
func (r *Report) Result(name string) (*stage.Result, bool) {
	res, ok := r.Results[name]
	return res, ok
}

// Status returns the final status of the named stage, or Pending if the
// stage is not part of the report.
func (r *Report) Status(name string) stage.Status {
	if res, ok := r.Results[name]; ok && res != nil {
		return res.Status
	}
	return stage.Pending
}

func (r *Report) Succeeded() []string { return r.with(stage.Succeeded) }
func (r *Report) Failed() []string    { return r.with(stage.Failed) }
func (r *Report) Skipped() []string   { return r.with(stage.Skipped) }

// with lists stages with the given status in execution order.
func (r *Report) with(status stage.Status) []string {
	var out []string
	for _, name := range r.Order {
		if r.Status(name) == status {
			out = append(out, name)
		}
	}
	return out
}

// Counts tallies final statuses.
func (r *Report) Counts() map[stage.Status]int {
	out := make(map[stage.Status]int)
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}
