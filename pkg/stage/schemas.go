package stage

import (
	"infersubc/pkg/kernels"
	"infersubc/pkg/params"
)

// Stage names of the built-in variants.
const (
	Soma         = "soma"
	Nuclei       = "nuclei"
	Cytosol      = "cytosol"
	Lysosome     = "lysosome"
	Mitochondria = "mitochondria"
	Golgi        = "golgi"
	Peroxisome   = "peroxisome"
	ER           = "er"
	LipidBody    = "lipid_body"
)

// SchemaVersion is bumped whenever a built-in option table changes.
const SchemaVersion = 2

// Option names shared by the built-in schemas that are not kernel options.
const (
	OptChannel      = "channel"
	OptErodeNuclei  = "erode_nuclei"
	OptRegionPolicy = "region_policy"
)

// Region policies for organelle stages.
const (
	PolicyClip     = "clip"
	PolicyMajority = "majority"
)

// Organelles lists the organelle stages in canonical order.
func Organelles() []string {
	return []string{Lysosome, Mitochondria, Golgi, Peroxisome, ER, LipidBody}
}

// Names lists every built-in stage in dependency-respecting order.
func Names() []string {
	return append([]string{Soma, Nuclei, Cytosol}, Organelles()...)
}

// IsOrganelle reports whether name is one of the organelle stages.
func IsOrganelle(name string) bool {
	for _, o := range Organelles() {
		if o == name {
			return true
		}
	}
	return false
}

// Dependencies returns the fixed upstream policy of a built-in stage.
func Dependencies(name string) []string {
	switch name {
	case Soma, Nuclei:
		return nil
	case Cytosol:
		return []string{Soma, Nuclei}
	default:
		if IsOrganelle(name) {
			return []string{Cytosol}
		}
		return nil
	}
}

func channelField(def string) params.Field {
	return params.Field{Name: OptChannel, Type: params.String, Default: def, Doc: "input channel name"}
}

func smoothingFields(medianSize int, sigma float64) []params.Field {
	return []params.Field{
		{Name: kernels.OptMedianSize, Type: params.Int, Default: medianSize, Min: params.Bound(0), Max: params.Bound(31),
			Doc: "width of the median filter (0 or 1 disables)"},
		{Name: kernels.OptSmoothingSigma, Type: params.Float, Default: sigma, Min: params.Bound(0), Max: params.Bound(20),
			Doc: "gaussian smoothing sigma in pixels"},
	}
}

func thresholdFields(method string, adjust float64) []params.Field {
	return []params.Field{
		{Name: kernels.OptThresholdMethod, Type: params.Enum, Default: method, Enum: kernels.Methods,
			Doc: "global threshold method"},
		{Name: kernels.OptThresholdAdjust, Type: params.Float, Default: adjust, Min: params.Bound(0), Max: params.Bound(10),
			Doc: "multiplier applied to the threshold"},
	}
}

func cellBodySchema(name string, keepLargest bool) params.Schema {
	fields := []params.Field{channelField(name)}
	fields = append(fields, smoothingFields(3, 1.34)...)
	fields = append(fields, thresholdFields(kernels.MethodOtsu, 1.0)...)
	fields = append(fields,
		params.Field{Name: kernels.OptMinObjectSize, Type: params.Int, Default: 40, Min: params.Bound(0),
			Doc: "smallest object kept, in voxels"},
		params.Field{Name: kernels.OptFillHoles, Type: params.Bool, Default: true, Doc: "fill enclosed holes"},
	)
	if keepLargest {
		fields = append(fields, params.Field{Name: kernels.OptKeepLargest, Type: params.Bool, Default: true,
			Doc: "keep only the largest body"})
	}
	return params.Schema{Stage: name, Version: SchemaVersion, Fields: fields}
}

func cytosolSchema() params.Schema {
	return params.Schema{Stage: Cytosol, Version: SchemaVersion, Fields: []params.Field{
		channelField(Soma),
		{Name: OptErodeNuclei, Type: params.Bool, Default: false, Doc: "erode the nucleus before subtracting it"},
		{Name: kernels.OptViableSignalMin, Type: params.Float, Default: 0.0, Min: params.Bound(0),
			Doc: "minimum raw intensity counted as viable cytosol signal"},
	}}
}

// organelleSchema follows the golgi option table of the original notebooks
// (median 4, sigma 1.34, triangle threshold adjusted by 0.9, cutoff 1200,
// thinning 1.6/1, dot filter 1.6/0.02, minimum size 3).
func organelleSchema(name string) params.Schema {
	fields := []params.Field{channelField(name)}
	fields = append(fields, smoothingFields(4, 1.34)...)
	fields = append(fields, thresholdFields(kernels.MethodTriangle, 0.9)...)
	fields = append(fields,
		params.Field{Name: kernels.OptCutoffSize, Type: params.Int, Default: 1200, Min: params.Bound(0),
			Doc: "objects at least this large are re-thresholded locally"},
		params.Field{Name: kernels.OptMinThickness, Type: params.Float, Default: 1.6, Min: params.Bound(0),
			Doc: "voxels this close to the skeleton are never thinned"},
		params.Field{Name: kernels.OptThin, Type: params.Int, Default: 1, Min: params.Bound(0),
			Doc: "boundary layers removed by thinning (0 disables)"},
		params.Field{Name: kernels.OptDotSigma, Type: params.Float, Default: 1.6, Min: params.Bound(0.1), Max: params.Bound(20),
			Doc: "dot filter scale"},
		params.Field{Name: kernels.OptDotCut, Type: params.Float, Default: 0.02, Min: params.Bound(0),
			Doc: "dot filter response cut (0 disables)"},
		params.Field{Name: kernels.OptMinObjectSize, Type: params.Int, Default: 3, Min: params.Bound(0),
			Doc: "smallest object kept, in voxels"},
		params.Field{Name: OptRegionPolicy, Type: params.Enum, Default: PolicyClip,
			Enum: []string{PolicyClip, PolicyMajority}, Doc: "how objects are restricted to the cytosol"},
	)
	return params.Schema{Stage: name, Version: SchemaVersion, Fields: fields}
}

// Schemas returns the option table of every built-in stage.
func Schemas() map[string]params.Schema {
	out := map[string]params.Schema{
		Soma:    cellBodySchema(Soma, true),
		Nuclei:  cellBodySchema(Nuclei, false),
		Cytosol: cytosolSchema(),
	}
	for _, name := range Organelles() {
		out[name] = organelleSchema(name)
	}
	return out
}
