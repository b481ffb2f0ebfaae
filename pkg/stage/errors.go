package stage

import (
	"fmt"
	"strings"
)

// MissingDependencyError reports upstream results a stage needs but that are
// absent, not SUCCEEDED or empty. The pipeline records it as the reason of a
// SKIPPED stage instead of raising it.
type MissingDependencyError struct {
	Stage   string
	Missing []string
	Detail  map[string]string
}

func (e *MissingDependencyError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, dep := range e.Missing {
		if d, ok := e.Detail[dep]; ok && d != "" {
			parts[i] = dep + " (" + d + ")"
		} else {
			parts[i] = dep
		}
	}
	return fmt.Sprintf("stage %s: missing dependencies: %s", e.Stage, strings.Join(parts, ", "))
}

// KernelExecutionError wraps any failure raised by a segmentation kernel.
type KernelExecutionError struct {
	Stage  string
	Kernel string
	Err    error
}

func (e *KernelExecutionError) Error() string {
	return fmt.Sprintf("stage %s: kernel %s failed: %v", e.Stage, e.Kernel, e.Err)
}

func (e *KernelExecutionError) Unwrap() error {
	return e.Err
}
