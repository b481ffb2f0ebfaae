package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotBuilt is returned by Run and Order when Build has not succeeded
// since the last Register.
var ErrNotBuilt = errors.New("pipeline graph has not been built")

// CyclicDependencyError names the stages that form a dependency cycle.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic stage dependencies: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports a declared dependency on an unregistered
// stage.
type UnknownDependencyError struct {
	Stage      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("stage %s depends on unknown stage %s", e.Stage, e.Dependency)
}

// DuplicateStageError reports a second registration under the same name.
type DuplicateStageError struct {
	Stage string
}

func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("stage %s is already registered", e.Stage)
}

// TimeoutError marks a stage that exceeded the per-stage time limit.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded its %s time limit", e.Stage, e.Timeout)
}

// CanceledError is the reason recorded for stages that never started
// because the run was cancelled.
type CanceledError struct {
	Stage string
	Err   error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("stage %s not started: run cancelled: %v", e.Stage, e.Err)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}
