package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"infersubc/pkg/channels"
	"infersubc/pkg/kernels"
	"infersubc/pkg/params"
	"infersubc/pkg/stage"
)

// Run executes every registered stage against set.
//
// Structural problems (graph not built, invalid params, an inconsistent
// channel set) are returned before any stage runs. Otherwise Run always
// returns a complete Report: stage failures are recorded in it, never
// returned. Cancelling ctx stops new stages from starting; a stage that is
// already running completes.
func (g *Graph) Run(ctx context.Context, set *channels.Set, ps map[string]params.Params) (*Report, error) {
	if !g.built {
		return nil, ErrNotBuilt
	}
	if set == nil {
		return nil, channels.ErrEmptySet
	}
	if err := set.ValidateShape(); err != nil {
		return nil, err
	}
	resolved, err := g.checkParams(ps)
	if err != nil {
		return nil, err
	}

	r := &runner{
		graph:   g,
		set:     set,
		params:  resolved,
		results: make(map[string]*stage.Result, len(g.order)),
		report: &Report{
			RunID:   uuid.New(),
			Order:   append([]string(nil), g.order...),
			Started: time.Now().UTC(),
		},
	}
	r.log = g.logger.With().Str("run", r.report.RunID.String()).Logger()

	r.log.Info().
		Int("stages", len(g.order)).
		Int("levels", len(g.levels)).
		Int("workers", g.workers).
		Str("shape", set.Shape().String()).
		Msg("pipeline run started")

	for _, level := range g.levels {
		r.runLevel(ctx, level)
	}

	r.report.Results = r.results
	r.report.Duration = time.Since(r.report.Started)

	counts := r.report.Counts()
	r.log.Info().
		Int("succeeded", counts[stage.Succeeded]).
		Int("failed", counts[stage.Failed]).
		Int("skipped", counts[stage.Skipped]).
		Dur("duration", r.report.Duration).
		Msg("pipeline run finished")

	return r.report, nil
}

// checkParams fills defaults for stages without params and rejects params
// validated for a different stage or given for an unknown one.
func (g *Graph) checkParams(ps map[string]params.Params) (map[string]params.Params, error) {
	var errs []error

	var unknown []string
	for name := range ps {
		if _, ok := g.stages[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("parameters given for unknown stage %s", name))
	}

	out := make(map[string]params.Params, len(g.order))
	for _, name := range g.order {
		p := ps[name]
		if p.IsZero() {
			defaults, err := g.stages[name].Schema().Defaults()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			p = defaults
		} else if p.Stage() != name {
			errs = append(errs, fmt.Errorf("parameters for stage %s were validated for stage %s", name, p.Stage()))
			continue
		}
		out[name] = p
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// runner carries the state of one Run. Only the orchestrating goroutine
// writes results and transitions.
type runner struct {
	graph   *Graph
	set     *channels.Set
	params  map[string]params.Params
	results map[string]*stage.Result
	report  *Report
	log     zerolog.Logger
}

func (r *runner) transition(name string, from, to stage.Status, at time.Time) {
	r.report.Transitions = append(r.report.Transitions, Transition{
		Stage: name,
		From:  from,
		To:    to,
		At:    at,
	})
}

func (r *runner) finish(res *stage.Result, from stage.Status) {
	r.results[res.Stage] = res
	r.transition(res.Stage, from, res.Status, time.Now().UTC())

	var ev *zerolog.Event
	switch res.Status {
	case stage.Failed:
		ev = r.log.Error().Err(res.Err)
	case stage.Skipped:
		ev = r.log.Warn().Str("reason", res.Reason())
	default:
		ev = r.log.Info().Int("objects", res.Labels.Count()).Str("kernel", res.Provenance.Kernel)
	}
	ev.Str("stage", res.Stage).
		Str("status", res.Status.String()).
		Dur("duration", res.Duration).
		Msg("stage finished")
}

// upstream collects the finished results a stage declared.
func (r *runner) upstream(s stage.Stage) stage.Upstream {
	up := make(stage.Upstream)
	for _, dep := range s.Requires() {
		if res, ok := r.results[dep]; ok {
			up[dep] = res
		}
	}
	return up
}

func (r *runner) runLevel(ctx context.Context, level []string) {
	type slot struct {
		name    string
		started time.Time
		res     *stage.Result
	}

	var eg errgroup.Group
	eg.SetLimit(r.graph.workers)

	slots := make([]*slot, 0, len(level))
	for _, name := range level {
		s := r.graph.stages[name]
		p := r.params[name]

		if err := ctx.Err(); err != nil {
			r.finish(stage.NewSkipped(name, p, &CanceledError{Stage: name, Err: err}), stage.Pending)
			continue
		}

		up := r.upstream(s)
		if err := stage.CheckUpstream(name, s.Requires(), up); err != nil {
			r.finish(stage.NewSkipped(name, p, err), stage.Pending)
			continue
		}

		// Go blocks while the worker limit is reached, so the cancellation
		// check above is repeated once a worker frees up.
		sl := &slot{name: name}
		slots = append(slots, sl)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				sl.res = stage.NewSkipped(name, p, &CanceledError{Stage: name, Err: err})
				return nil
			}
			sl.started = time.Now().UTC()
			sl.res = r.execute(ctx, s, up, p)
			return nil
		})
	}
	_ = eg.Wait()

	for _, sl := range slots {
		from := stage.Pending
		if !sl.started.IsZero() {
			r.transition(sl.name, stage.Pending, stage.Running, sl.started)
			from = stage.Running
		}
		r.finish(sl.res, from)
	}
}

type outcome struct {
	res *stage.Result
	err error
}

// execute runs one stage under the per-stage time limit and converts every
// failure mode into a FAILED or SKIPPED result. The stage context is
// detached from ctx's cancellation: a started stage runs to completion.
func (r *runner) execute(ctx context.Context, s stage.Stage, up stage.Upstream, p params.Params) *stage.Result {
	name := s.Name()
	started := time.Now().UTC()

	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()

	r.log.Debug().Str("stage", name).Str("params", p.Key()).Msg("stage started")

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{err: &stage.KernelExecutionError{
					Stage:  name,
					Kernel: kernelName(s),
					Err:    fmt.Errorf("panic: %v", v),
				}}
			}
		}()
		res, err := s.Run(stageCtx, r.set, up, p)
		done <- outcome{res: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-stageCtx.Done():
		o = outcome{err: stageCtx.Err()}
	}

	expired := r.graph.timeout > 0 && errors.Is(stageCtx.Err(), context.DeadlineExceeded)
	res := r.classify(name, p, o, expired)
	if res.Status != stage.Succeeded {
		res.Started = started
		res.Duration = time.Since(started)
	}
	return res
}

func (r *runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.graph.timeout > 0 {
		return context.WithTimeout(detached, r.graph.timeout)
	}
	return context.WithCancel(detached)
}

// classify turns a stage outcome into a terminal result. Only a stage whose
// own deadline passed fails with a TimeoutError; a DeadlineExceeded coming
// from inside the kernel is an ordinary failure.
func (r *runner) classify(name string, p params.Params, o outcome, expired bool) *stage.Result {
	if o.err != nil {
		var missing *stage.MissingDependencyError
		if errors.As(o.err, &missing) {
			return stage.NewSkipped(name, p, o.err)
		}
		if expired {
			return stage.NewFailed(name, p, &TimeoutError{Stage: name, Timeout: r.graph.timeout})
		}
		return stage.NewFailed(name, p, o.err)
	}
	if o.res == nil {
		return stage.NewFailed(name, p, fmt.Errorf("stage %s returned no result", name))
	}
	if o.res.Stage != name || o.res.Status != stage.Succeeded || o.res.Labels == nil {
		return stage.NewFailed(name, p, fmt.Errorf("stage %s returned an invalid result", name))
	}
	return o.res
}

func kernelName(s stage.Stage) string {
	if k, ok := s.(interface{ Kernel() kernels.Kernel }); ok && k.Kernel() != nil {
		return k.Kernel().Name()
	}
	return ""
}
