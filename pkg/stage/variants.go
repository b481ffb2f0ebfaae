package stage

import (
	"fmt"

	"infersubc/pkg/kernels"
	"infersubc/pkg/mask"
	"infersubc/pkg/params"
)

// NewSoma builds the soma stage. It reads raw channels only.
func NewSoma(k kernels.Kernel) *Segmenter {
	return NewSegmenter(Soma, nil, cellBodySchema(Soma, true), k, nil, nil)
}

// NewNuclei builds the nuclei stage. It reads raw channels only.
func NewNuclei(k kernels.Kernel) *Segmenter {
	return NewSegmenter(Nuclei, nil, cellBodySchema(Nuclei, false), k, nil, nil)
}

// NewCytosol builds the cytosol stage: soma minus nuclei (optionally eroded
// by one voxel), intersected with the viable-signal mask its kernel returns.
func NewCytosol(k kernels.Kernel) *Segmenter {
	return NewSegmenter(Cytosol, []string{Soma, Nuclei}, cytosolSchema(), k, composeCytosol, finishCytosol)
}

// NewOrganelle builds an organelle stage restricted to the cytosol. Any
// name may be used, so further organelle classes need no new orchestration.
func NewOrganelle(name string, k kernels.Kernel) *Segmenter {
	return NewSegmenter(name, []string{Cytosol}, organelleSchema(name), k, composeOrganelle, finishOrganelle)
}

// Defaults builds all nine built-in stages with kernels from reg.
func Defaults(reg kernels.Registry) ([]Stage, error) {
	get := func(name string) (kernels.Kernel, error) {
		k, ok := reg[name]
		if !ok || k == nil {
			return nil, fmt.Errorf("no kernel registered for stage %s", name)
		}
		return k, nil
	}

	stages := make([]Stage, 0, len(Names()))
	for _, name := range Names() {
		k, err := get(name)
		if err != nil {
			return nil, err
		}
		switch name {
		case Soma:
			stages = append(stages, NewSoma(k))
		case Nuclei:
			stages = append(stages, NewNuclei(k))
		case Cytosol:
			stages = append(stages, NewCytosol(k))
		default:
			stages = append(stages, NewOrganelle(name, k))
		}
	}
	return stages, nil
}

func composeCytosol(up Upstream, p params.Params) (*mask.Objects, error) {
	soma := up[Soma].Objects()
	nuclei := up[Nuclei].Objects()
	if p.Bool(OptErodeNuclei) {
		nuclei = kernels.Erode(nuclei, 1)
	}
	return mask.Subtract(soma, nuclei)
}

func finishCytosol(out kernels.Output, region *mask.Objects, _ params.Params) (*mask.Labels, error) {
	viable := out.Objects
	if viable == nil {
		viable = out.Labels.Objects()
	}
	cytosol, err := mask.Intersect(region, viable)
	if err != nil {
		return nil, err
	}
	return mask.Label(cytosol, mask.Face), nil
}

func composeOrganelle(up Upstream, _ params.Params) (*mask.Objects, error) {
	return up[Cytosol].Objects(), nil
}

func finishOrganelle(out kernels.Output, region *mask.Objects, p params.Params) (*mask.Labels, error) {
	labels := outputLabels(out)
	switch p.String(OptRegionPolicy) {
	case PolicyMajority:
		return mask.RestrictLabels(labels, region)
	default:
		return mask.ClipLabels(labels, region)
	}
}
