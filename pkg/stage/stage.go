// Package stage implements the segmentation stage contract and the built-in
// soma, nuclei, cytosol and organelle variants.
//
// A stage declares the upstream stages it consumes and its option schema.
// Run checks that every upstream result is present, SUCCEEDED and
// non-empty, composes the upstream masks per the variant's policy, delegates
// pixel work to exactly one kernel, relabels the kernel output into a
// contiguous label mask and records provenance.
package stage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"infersubc/internal/models"
	"infersubc/pkg/channels"
	"infersubc/pkg/kernels"
	"infersubc/pkg/mask"
	"infersubc/pkg/params"
)

// Stage is one inference operation.
type Stage interface {
	// Name identifies the stage within a pipeline
	Name() string

	// Requires lists the upstream stages whose results Run consumes
	Requires() []string

	// Schema is the option table Run's params must satisfy
	Schema() params.Schema

	// Run executes the stage. It never modifies set or upstream.
	Run(ctx context.Context, set *channels.Set, upstream Upstream, p params.Params) (*Result, error)
}

// Upstream maps stage names to the results a dependent may read.
type Upstream map[string]*Result

// CheckUpstream verifies that every required result is usable, returning a
// *MissingDependencyError naming all that are not.
func CheckUpstream(name string, requires []string, up Upstream) error {
	var missing []string
	detail := make(map[string]string)
	for _, dep := range requires {
		r, ok := up[dep]
		switch {
		case !ok || r == nil:
			detail[dep] = "absent"
		case r.Status != Succeeded:
			detail[dep] = r.Status.String()
		case r.Labels == nil || r.Labels.Empty():
			detail[dep] = "empty mask"
		default:
			continue
		}
		missing = append(missing, dep)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingDependencyError{Stage: name, Missing: missing, Detail: detail}
}

// Composer combines upstream masks into the region a stage's kernel works
// in. A nil region means the whole image.
type Composer func(up Upstream, p params.Params) (*mask.Objects, error)

// Finisher turns validated kernel output into the stage's label mask. The
// returned labels must be contiguous.
type Finisher func(out kernels.Output, region *mask.Objects, p params.Params) (*mask.Labels, error)

// Segmenter is the generic Stage implementation shared by every built-in
// variant. New variants are built with NewSegmenter.
type Segmenter struct {
	name     string
	requires []string
	schema   params.Schema
	kernel   kernels.Kernel
	compose  Composer
	finish   Finisher
}

// NewSegmenter assembles a stage. compose and finish may be nil, in which
// case the kernel runs on the whole image and its output is relabelled.
func NewSegmenter(name string, requires []string, schema params.Schema, kernel kernels.Kernel, compose Composer, finish Finisher) *Segmenter {
	if compose == nil {
		compose = composeNothing
	}
	if finish == nil {
		finish = finishRelabel
	}
	deps := make([]string, len(requires))
	copy(deps, requires)
	return &Segmenter{
		name:     name,
		requires: deps,
		schema:   schema,
		kernel:   kernel,
		compose:  compose,
		finish:   finish,
	}
}

func (s *Segmenter) Name() string {
	return s.name
}

func (s *Segmenter) Requires() []string {
	out := make([]string, len(s.requires))
	copy(out, s.requires)
	return out
}

func (s *Segmenter) Schema() params.Schema {
	return s.schema
}

// Kernel returns the kernel the stage delegates to.
func (s *Segmenter) Kernel() kernels.Kernel {
	return s.kernel
}

func (s *Segmenter) Run(ctx context.Context, set *channels.Set, upstream Upstream, p params.Params) (*Result, error) {
	started := time.Now().UTC()

	if err := CheckUpstream(s.name, s.requires, upstream); err != nil {
		return nil, err
	}

	if p.IsZero() {
		defaults, err := s.schema.Defaults()
		if err != nil {
			return nil, err
		}
		p = defaults
	} else if p.Stage() != s.schema.Stage {
		return nil, fmt.Errorf("stage %s given params validated for stage %s", s.name, p.Stage())
	}

	region, err := s.compose(upstream, p)
	if err != nil {
		return nil, fmt.Errorf("stage %s: compose upstream masks: %w", s.name, err)
	}

	data, err := set.Data(p.String(OptChannel))
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", s.name, err)
	}
	if region != nil && region.Shape != set.Shape() {
		return nil, fmt.Errorf("stage %s: %w", s.name,
			&models.ShapeMismatchError{Op: "composed region", Want: set.Shape(), Got: region.Shape})
	}

	out, err := s.kernel.Segment(ctx, kernels.Input{Shape: set.Shape(), Data: data, Region: region, Params: p})
	if err != nil {
		return nil, &KernelExecutionError{Stage: s.name, Kernel: s.kernel.Name(), Err: err}
	}
	if err := out.Validate(set.Shape()); err != nil {
		return nil, &KernelExecutionError{Stage: s.name, Kernel: s.kernel.Name(), Err: err}
	}

	labels, err := s.finish(out, region, p)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", s.name, err)
	}

	ids := make([]uuid.UUID, 0, len(s.requires))
	for _, dep := range s.requires {
		ids = append(ids, upstream[dep].ID)
	}

	return &Result{
		ID:     uuid.New(),
		Stage:  s.name,
		Status: Succeeded,
		Labels: labels,
		Provenance: Provenance{
			Stage:    s.name,
			Params:   p,
			Upstream: ids,
			Kernel:   s.kernel.Name(),
		},
		Started:  started,
		Duration: time.Since(started),
	}, nil
}

func composeNothing(Upstream, params.Params) (*mask.Objects, error) {
	return nil, nil
}

// outputLabels converts kernel output to labels without enforcing
// contiguity.
func outputLabels(out kernels.Output) *mask.Labels {
	if out.Labels != nil {
		return out.Labels
	}
	return mask.Label(out.Objects, mask.Face)
}

func finishRelabel(out kernels.Output, _ *mask.Objects, _ params.Params) (*mask.Labels, error) {
	return mask.Relabel(outputLabels(out)), nil
}
