// Package quant measures the objects of finished stages and the spatial
// interactions between organelle classes.
//
// Only SUCCEEDED results are measured. Classes whose stage FAILED or was
// SKIPPED are listed in Summary.Excluded with the reason and never take
// part in an interaction.
package quant

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"infersubc/pkg/mask"
	"infersubc/pkg/stage"
)

// ClassStats summarises one object class.
type ClassStats struct {
	Class     string
	Count     int
	TotalArea int
	MeanArea  float64
	StdArea   float64
	Objects   []ObjectStats
}

// Interaction describes how two classes relate spatially.
type Interaction struct {
	A, B string

	// Overlap is the number of voxels labelled in both classes
	Overlap int

	// Fraction is Overlap / min(|A|, |B|), zero if either class is empty
	Fraction float64

	// MeanNearest is the mean distance from each A centroid to the nearest
	// B centroid, zero if either class has no objects
	MeanNearest float64
}

// Exclusion records why a class was left out of quantification.
type Exclusion struct {
	Class  string
	Status stage.Status
	Reason string
}

// Summary is the outcome of quantifying one run.
type Summary struct {
	Classes      map[string]*ClassStats
	Interactions []Interaction
	Excluded     map[string]Exclusion
}

// ClassNames returns the measured classes in sorted order.
func (s *Summary) ClassNames() []string {
	names := make([]string, 0, len(s.Classes))
	for name := range s.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Interaction looks up the pair (a, b) in either order.
func (s *Summary) Interaction(a, b string) (Interaction, bool) {
	for _, in := range s.Interactions {
		if (in.A == a && in.B == b) || (in.A == b && in.B == a) {
			return in, true
		}
	}
	return Interaction{}, false
}

// Engine computes summaries.
type Engine struct {
	classes []string
	spacing [3]float64
	logger  zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClasses sets the classes whose pairs are measured for interactions.
// The default is the six organelles.
func WithClasses(names ...string) Option {
	return func(e *Engine) {
		e.classes = append([]string(nil), names...)
	}
}

// WithSpacing sets the physical voxel size used for centroid distances.
func WithSpacing(z, y, x float64) Option {
	return func(e *Engine) {
		e.spacing = [3]float64{z, y, x}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		classes: stage.Organelles(),
		spacing: [3]float64{1, 1, 1},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute measures every SUCCEEDED result and every interacting pair of
// classes that both SUCCEEDED. It never modifies results.
func (e *Engine) Compute(results map[string]*stage.Result) *Summary {
	sum := &Summary{
		Classes:  make(map[string]*ClassStats),
		Excluded: make(map[string]Exclusion),
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := results[name]
		if res == nil || res.Status != stage.Succeeded || res.Labels == nil {
			ex := Exclusion{Class: name, Status: stage.Pending}
			if res != nil {
				ex.Status, ex.Reason = res.Status, res.Reason()
			}
			sum.Excluded[name] = ex
			continue
		}
		sum.Classes[name] = measureClass(name, res.Labels)
	}

	for _, name := range e.classes {
		if _, ok := results[name]; !ok {
			sum.Excluded[name] = Exclusion{Class: name, Status: stage.Pending, Reason: "no result"}
		}
	}

	for i, a := range e.classes {
		for _, b := range e.classes[i+1:] {
			ca, okA := sum.Classes[a]
			cb, okB := sum.Classes[b]
			if !okA || !okB {
				continue
			}
			sum.Interactions = append(sum.Interactions, e.interact(a, results[a].Labels, ca, b, results[b].Labels, cb))
		}
	}

	e.logger.Debug().
		Int("classes", len(sum.Classes)).
		Int("excluded", len(sum.Excluded)).
		Int("interactions", len(sum.Interactions)).
		Msg("quantification complete")
	return sum
}

func measureClass(name string, l *mask.Labels) *ClassStats {
	objs := MeasureObjects(l)
	cs := &ClassStats{Class: name, Count: len(objs), Objects: objs}
	if len(objs) == 0 {
		return cs
	}
	areas := make([]float64, len(objs))
	for i, o := range objs {
		cs.TotalArea += o.Area
		areas[i] = float64(o.Area)
	}
	cs.MeanArea, cs.StdArea = stat.MeanStdDev(areas, nil)
	if math.IsNaN(cs.StdArea) {
		cs.StdArea = 0
	}
	return cs
}

func (e *Engine) interact(a string, la *mask.Labels, ca *ClassStats, b string, lb *mask.Labels, cb *ClassStats) Interaction {
	in := Interaction{A: a, B: b}

	oa, ob := la.Objects(), lb.Objects()
	both, err := mask.Intersect(oa, ob)
	if err != nil {
		e.logger.Warn().Err(err).Str("a", a).Str("b", b).Msg("classes cannot be compared")
		return in
	}
	in.Overlap = both.Count()
	if smaller := min(oa.Count(), ob.Count()); smaller > 0 {
		in.Fraction = float64(in.Overlap) / float64(smaller)
	}
	in.MeanNearest = e.meanNearest(ca.Objects, cb.Objects)
	return in
}

// meanNearest averages, over the objects of a, the distance to the nearest
// object centroid of b.
func (e *Engine) meanNearest(a, b []ObjectStats) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	pts := make(centroids, len(b))
	for i, o := range b {
		pts[i] = e.scale(o)
	}
	tree := kdtree.New(pts, true)

	var total float64
	for _, o := range a {
		_, d := tree.Nearest(e.scale(o))
		total += math.Sqrt(d)
	}
	return total / float64(len(a))
}

func (e *Engine) scale(o ObjectStats) centroid {
	return centroid{
		Z: o.Centroid.Z * e.spacing[0],
		Y: o.Centroid.Y * e.spacing[1],
		X: o.Centroid.X * e.spacing[2],
	}
}
