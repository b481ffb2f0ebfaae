package kernels

import (
	"context"

	"infersubc/pkg/mask"
)

// The reference kernels read their options from Input.Params using the
// option names below; stage schemas declare them.
const (
	OptMedianSize      = "median_size"
	OptSmoothingSigma  = "smoothing_sigma"
	OptThresholdMethod = "threshold_method"
	OptThresholdAdjust = "threshold_adjust"
	OptCutoffSize      = "cutoff_size"
	OptDotSigma        = "dot_sigma"
	OptDotCut          = "dot_cut"
	OptMinThickness    = "min_thickness"
	OptThin            = "thin"
	OptMinObjectSize   = "min_object_size"
	OptFillHoles       = "fill_holes"
	OptKeepLargest     = "keep_largest"
	OptViableSignalMin = "viable_signal_min"
)

// preprocess normalises and smooths the channel the way every reference
// kernel does before thresholding.
func preprocess(in Input) []float64 {
	data := in.Data
	Normalize(data)
	data = MedianFilter(data, in.Shape, in.Params.Int(OptMedianSize))
	return GaussianSmooth(data, in.Shape, in.Params.Float(OptSmoothingSigma))
}

// cellBody segments large bright bodies (soma, nuclei): global threshold,
// hole filling and small-object removal.
func cellBody(name string, keepLargest bool) *Func {
	return New(name, func(ctx context.Context, in Input) (Output, error) {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		data := preprocess(in)

		level, err := GlobalThreshold(regionValues(data, in.Region), in.Params.String(OptThresholdMethod))
		if err != nil {
			return Output{}, err
		}
		objects := ApplyThreshold(data, in.Shape, level*in.Params.Float(OptThresholdAdjust), in.Region)
		if in.Params.Bool(OptFillHoles) {
			objects = FillHoles(objects)
		}
		objects = SizeFilter(objects, in.Params.Int(OptMinObjectSize), mask.Face)

		labels := mask.Label(objects, mask.Face)
		if keepLargest && in.Params.Bool(OptKeepLargest) {
			labels = KeepLargest(labels)
		}
		return Output{Labels: labels}, nil
	})
}

// Soma returns the reference soma kernel.
func Soma() *Func {
	return cellBody("soma-threshold", true)
}

// Nuclei returns the reference nuclei kernel.
func Nuclei() *Func {
	return cellBody("nuclei-threshold", false)
}

// ViableSignal returns the kernel marking voxels whose raw intensity is at
// least viable_signal_min. Samples are not normalised.
func ViableSignal() *Func {
	return New("viable-signal", func(ctx context.Context, in Input) (Output, error) {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		floor := in.Params.Float(OptViableSignalMin)
		out := mask.NewObjects(in.Shape)
		for i, v := range in.Data {
			out.Data[i] = v >= floor && (in.Region == nil || in.Region.Data[i])
		}
		return Output{Objects: out}, nil
	})
}

// Organelle returns the reference organelle kernel: masked-object threshold
// thinned without breaking narrow parts, unioned with an optional dot
// filter, then small-object removal.
func Organelle(name string) *Func {
	return New(name+"-masked-object", func(ctx context.Context, in Input) (Output, error) {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		data := preprocess(in)

		objects, err := MaskedObjectThreshold(data, in.Shape,
			in.Params.String(OptThresholdMethod),
			in.Params.Float(OptThresholdAdjust),
			in.Params.Int(OptCutoffSize),
			in.Region)
		if err != nil {
			return Output{}, err
		}
		objects = ThinPreservingTopology(objects, in.Params.Float(OptMinThickness), in.Params.Int(OptThin))

		if cut := in.Params.Float(OptDotCut); cut > 0 {
			dots := DotFilter(data, in.Shape, in.Params.Float(OptDotSigma), cut)
			if in.Region != nil {
				dots, _ = mask.Intersect(dots, in.Region)
			}
			objects, err = mask.Union(objects, dots)
			if err != nil {
				return Output{}, err
			}
		}

		objects = SizeFilter(objects, in.Params.Int(OptMinObjectSize), mask.Face)
		return Output{Objects: objects}, nil
	})
}
