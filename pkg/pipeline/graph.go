// Package pipeline orders segmentation stages by their declared
// dependencies and executes them with failure containment.
//
// A Graph is built once from registered stages. Build rejects unknown
// dependencies and cycles before anything runs. Run then executes stages
// level by level: a stage whose upstream is absent, failed, skipped or
// empty is SKIPPED, a stage that errors, panics or times out is FAILED,
// and independent branches always run to completion.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"infersubc/pkg/kernels"
	"infersubc/pkg/params"
	"infersubc/pkg/stage"
)

// Graph holds registered stages and, once built, their execution order.
type Graph struct {
	stages     map[string]stage.Stage
	registered []string

	order  []string
	levels [][]string
	built  bool

	workers int
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithWorkers bounds how many stages of one dependency level run at once.
// Values below 1 mean sequential execution.
func WithWorkers(n int) Option {
	return func(g *Graph) {
		if n < 1 {
			n = 1
		}
		g.workers = n
	}
}

// WithStageTimeout sets the time limit applied to every stage. Zero
// disables the limit.
func WithStageTimeout(d time.Duration) Option {
	return func(g *Graph) {
		g.timeout = d
	}
}

// WithLogger sets the logger stage transitions are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Graph) {
		g.logger = l
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		stages:  make(map[string]stage.Stage),
		workers: 1,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Default registers and builds the nine built-in stages with kernels from
// reg.
func Default(reg kernels.Registry, opts ...Option) (*Graph, error) {
	stages, err := stage.Defaults(reg)
	if err != nil {
		return nil, err
	}
	g := NewGraph(opts...)
	for _, s := range stages {
		if err := g.Register(s); err != nil {
			return nil, err
		}
	}
	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

// Register adds a stage. Registering invalidates any previous Build.
func (g *Graph) Register(s stage.Stage) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("cannot register an unnamed stage")
	}
	if _, ok := g.stages[s.Name()]; ok {
		return &DuplicateStageError{Stage: s.Name()}
	}
	g.stages[s.Name()] = s
	g.registered = append(g.registered, s.Name())
	g.built = false
	return nil
}

// Build validates the dependency graph and computes the execution order.
// Ties between independent stages are broken by registration order, so the
// same registrations always yield the same order.
func (g *Graph) Build() error {
	g.built = false
	g.order, g.levels = nil, nil

	for _, name := range g.registered {
		for _, dep := range g.stages[name].Requires() {
			if _, ok := g.stages[dep]; !ok {
				return &UnknownDependencyError{Stage: name, Dependency: dep}
			}
		}
	}

	indegree := make(map[string]int, len(g.registered))
	dependents := make(map[string][]string, len(g.registered))
	for _, name := range g.registered {
		deps := uniq(g.stages[name].Requires())
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var frontier []string
	for _, name := range g.registered {
		if indegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}

	rank := g.rank()
	var order []string
	var levels [][]string
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		order = append(order, frontier...)

		var next []string
		for _, name := range frontier {
			for _, d := range dependents[name] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return rank[next[i]] < rank[next[j]] })
		frontier = next
	}

	if len(order) != len(g.registered) {
		return &CyclicDependencyError{Cycle: g.findCycle(indegree)}
	}

	g.order, g.levels, g.built = order, levels, true
	return nil
}

// findCycle walks unresolved dependencies from the first unresolved stage.
// Every unresolved stage has an unresolved dependency, so the walk must
// revisit a stage; the revisited suffix is the cycle.
func (g *Graph) findCycle(indegree map[string]int) []string {
	var start string
	for _, name := range g.registered {
		if indegree[name] > 0 {
			start = name
			break
		}
	}

	seen := make(map[string]int)
	var path []string
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			cycle := append([]string(nil), path[at:]...)
			return append(cycle, cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range g.stages[cur].Requires() {
			if indegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = next
	}
}

func (g *Graph) rank() map[string]int {
	r := make(map[string]int, len(g.registered))
	for i, name := range g.registered {
		r[name] = i
	}
	return r
}

// Order returns the execution order computed by Build.
func (g *Graph) Order() ([]string, error) {
	if !g.built {
		return nil, ErrNotBuilt
	}
	return append([]string(nil), g.order...), nil
}

// Levels groups the execution order by dependency depth. Stages within a
// level do not depend on each other.
func (g *Graph) Levels() ([][]string, error) {
	if !g.built {
		return nil, ErrNotBuilt
	}
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out, nil
}

// Stages returns the registered stages in registration order.
func (g *Graph) Stages() []stage.Stage {
	out := make([]stage.Stage, len(g.registered))
	for i, name := range g.registered {
		out[i] = g.stages[name]
	}
	return out
}

// Stage looks a registered stage up by name.
func (g *Graph) Stage(name string) (stage.Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// ResolveParams validates raw per-stage options against each registered
// stage's schema. Stages absent from raw get their defaults. Every problem
// of every stage is reported.
func (g *Graph) ResolveParams(raw map[string]map[string]any) (map[string]params.Params, error) {
	var errs []error

	var unknown []string
	for name := range raw {
		if _, ok := g.stages[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("parameters given for unknown stage %s", name))
	}

	out := make(map[string]params.Params, len(g.registered))
	for _, name := range g.registered {
		p, err := g.stages[name].Schema().New(raw[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = p
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func uniq(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
