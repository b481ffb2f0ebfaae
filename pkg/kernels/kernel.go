// Package kernels defines the boundary to pixel-level segmentation
// operations and ships a reference implementation of each one.
//
// A kernel receives one channel's samples, an optional region of interest
// and validated scalar/enum parameters, and returns a label or boolean mask
// of the same spatial shape. Stages treat every kernel failure as opaque.
package kernels

import (
	"context"
	"fmt"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
	"infersubc/pkg/params"
)

// Input is the documented input contract of a kernel call.
type Input struct {
	// Shape is the spatial shape of Data
	Shape models.Shape

	// Data holds the channel samples in row-major order. Kernels own this
	// slice and may modify it.
	Data []float64

	// Region restricts where statistics are gathered. May be nil.
	Region *mask.Objects

	// Params are the validated stage options
	Params params.Params
}

// Output is the documented output contract. Exactly one of Labels or
// Objects is set; label values need not be contiguous.
type Output struct {
	Labels  *mask.Labels
	Objects *mask.Objects
}

// Kernel is one external segmentation operation.
type Kernel interface {
	Name() string
	Segment(ctx context.Context, in Input) (Output, error)
}

// Func adapts a function to the Kernel interface.
type Func struct {
	name string
	fn   func(ctx context.Context, in Input) (Output, error)
}

// New wraps fn as a named Kernel.
func New(name string, fn func(ctx context.Context, in Input) (Output, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string {
	return f.name
}

func (f *Func) Segment(ctx context.Context, in Input) (Output, error) {
	return f.fn(ctx, in)
}

// Validate checks an output against the input shape.
func (o Output) Validate(shape models.Shape) error {
	switch {
	case o.Labels != nil:
		if o.Labels.Shape != shape {
			return &models.ShapeMismatchError{Op: "kernel output", Want: shape, Got: o.Labels.Shape}
		}
		return o.Labels.Validate()
	case o.Objects != nil:
		if o.Objects.Shape != shape {
			return &models.ShapeMismatchError{Op: "kernel output", Want: shape, Got: o.Objects.Shape}
		}
		if len(o.Objects.Data) != shape.Len() {
			return fmt.Errorf("kernel output has %d voxels, want %d", len(o.Objects.Data), shape.Len())
		}
		return nil
	default:
		return fmt.Errorf("kernel returned neither labels nor objects")
	}
}

// Registry maps stage names to the kernel each stage delegates to.
type Registry map[string]Kernel

// Reference returns the pure-Go reference kernels for every built-in stage.
func Reference() Registry {
	reg := Registry{
		"soma":    Soma(),
		"nuclei":  Nuclei(),
		"cytosol": ViableSignal(),
	}
	for _, name := range []string{"lysosome", "mitochondria", "golgi", "peroxisome", "er", "lipid_body"} {
		reg[name] = Organelle(name)
	}
	return reg
}
