// Package inference runs the complete organelle inference workflow for one
// cell: it loads the channels, executes the stage pipeline, quantifies the
// organelle masks and records and exports the results.
package inference

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"infersubc/internal/logging"
	"infersubc/pkg/channels"
	"infersubc/pkg/config"
	"infersubc/pkg/kernels"
	"infersubc/pkg/pipeline"
	"infersubc/pkg/quant"
	"infersubc/pkg/stage"
	"infersubc/pkg/store"
	"infersubc/pkg/visualization"
)

// Inferer drives one inference run described by a Config.
//
// The workflow consists of several steps:
// 1. Loading the channel set
// 2. Opening the run database (when configured)
// 3. Building the stage pipeline
// 4. Running every stage
// 5. Quantifying the organelle masks
// 6. Recording the run in the database
// 7. Exporting masks and plots
type Inferer struct {
	// cfg is the run configuration
	cfg *config.Config

	// registry supplies the kernel of each built-in stage
	registry kernels.Registry

	log zerolog.Logger

	// source names the input in the run database
	source string

	report  *pipeline.Report
	summary *quant.Summary

	// outputs lists the files written by the export step
	outputs []string
}

// Option configures an Inferer.
type Option func(*Inferer)

// WithRegistry replaces the reference kernels.
func WithRegistry(reg kernels.Registry) Option {
	return func(i *Inferer) {
		i.registry = reg
	}
}

// WithLogger sets the logger used for progress reporting.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Inferer) {
		i.log = l
	}
}

// NewInferer creates an inferer for cfg. A nil cfg uses DefaultConfig.
func NewInferer(cfg *config.Config, opts ...Option) *Inferer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	i := &Inferer{
		cfg:      cfg,
		registry: kernels.Reference(),
		log:      logging.Component("inference"),
		source:   "in-memory",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Process loads the configured input directory and runs the workflow on it.
func (i *Inferer) Process(ctx context.Context) error {
	if err := i.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	i.log.Info().Str("dir", i.cfg.Input.Dir).Msg("Step 1: Loading channels")
	set, err := channels.LoadDir(i.cfg.Input.Dir, i.cfg.Input.Channels)
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	i.log.Info().
		Strs("channels", set.Names()).
		Str("shape", set.Shape().String()).
		Msg("Loaded channels")

	i.source = i.cfg.Input.Dir
	return i.run(ctx, set)
}

// ProcessSet runs the workflow on an already loaded channel set.
func (i *Inferer) ProcessSet(ctx context.Context, set *channels.Set) error {
	if err := i.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if set == nil {
		return channels.ErrEmptySet
	}
	i.log.Info().Str("shape", set.Shape().String()).Msg("Step 1: Using provided channels")
	return i.run(ctx, set)
}

func (i *Inferer) run(ctx context.Context, set *channels.Set) error {
	i.report, i.summary, i.outputs = nil, nil, nil

	var db *store.Store
	if path := i.cfg.DatabasePath(); path != "" {
		i.log.Info().Str("path", path).Msg("Step 2: Opening run database")
		var err error
		db, err = store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open run database: %w", err)
		}
		defer db.Close()
	} else {
		i.log.Info().Msg("Step 2: Run database disabled")
	}

	i.log.Info().Bool("reuse", i.cfg.Output.Reuse && db != nil).Msg("Step 3: Building stage pipeline")
	g, err := i.buildGraph(db)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	ps, err := g.ResolveParams(i.cfg.Stages)
	if err != nil {
		return fmt.Errorf("failed to resolve stage parameters: %w", err)
	}

	i.log.Info().Int("workers", i.cfg.Processing.Workers).Msg("Step 4: Running stages")
	rep, err := g.Run(ctx, set, ps)
	if err != nil {
		return fmt.Errorf("failed to run pipeline: %w", err)
	}
	i.report = rep

	i.log.Info().Msg("Step 5: Quantifying organelles")
	sp := i.cfg.Processing.Spacing
	engine := quant.NewEngine(
		quant.WithSpacing(sp.Z, sp.Y, sp.X),
		quant.WithLogger(i.log),
	)
	i.summary = engine.Compute(rep.Results)

	if db != nil {
		i.log.Info().Msg("Step 6: Recording run")
		if err := db.SaveRun(ctx, i.source, set.Shape().String(), rep, i.summary); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
	}

	i.log.Info().Str("dir", i.cfg.Output.Dir).Msg("Step 7: Exporting results")
	i.export()

	return nil
}

// buildGraph registers the built-in stages, wrapping each in the mask
// cache when reuse is enabled and a database is open.
func (i *Inferer) buildGraph(db *store.Store) (*pipeline.Graph, error) {
	timeout, err := i.cfg.Timeout()
	if err != nil {
		return nil, err
	}
	stages, err := stage.Defaults(i.registry)
	if err != nil {
		return nil, err
	}

	g := pipeline.NewGraph(
		pipeline.WithWorkers(i.cfg.Processing.Workers),
		pipeline.WithStageTimeout(timeout),
		pipeline.WithLogger(i.log),
	)
	for _, s := range stages {
		if i.cfg.Output.Reuse && db != nil {
			s = withCache(s, db, i.log)
		}
		if err := g.Register(s); err != nil {
			return nil, err
		}
	}
	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

// export writes mask slices and plots. Failures are logged and do not
// fail the run.
func (i *Inferer) export() {
	out := i.cfg.Output.Dir

	if i.cfg.Output.SaveMasks {
		for _, name := range i.report.Succeeded() {
			res, _ := i.report.Result(name)
			paths, err := visualization.SaveLabels(res.Labels, name, filepath.Join(out, "masks", name))
			if err != nil {
				i.log.Warn().Err(err).Str("stage", name).Msg("Failed to save mask")
			}
			i.outputs = append(i.outputs, paths...)
		}
	}

	if !i.cfg.Output.Plot {
		return
	}
	if len(i.summary.ClassNames()) == 0 {
		i.log.Warn().Msg("No measured organelles, skipping plots")
		return
	}
	heat := filepath.Join(out, "plots", "interactions.png")
	if err := visualization.SaveInteractionHeatMap(i.summary, stage.Organelles(), heat); err != nil {
		i.log.Warn().Err(err).Msg("Failed to save interaction heat map")
	} else {
		i.outputs = append(i.outputs, heat)
	}
	counts := filepath.Join(out, "plots", "object_counts.png")
	if err := visualization.SaveObjectCounts(i.summary, counts); err != nil {
		i.log.Warn().Err(err).Msg("Failed to save object counts")
	} else {
		i.outputs = append(i.outputs, counts)
	}
}

// Report returns the pipeline report of the last run, nil before a run.
func (i *Inferer) Report() *pipeline.Report {
	return i.report
}

// Summary returns the quantification of the last run.
func (i *Inferer) Summary() *quant.Summary {
	return i.summary
}

// Outputs lists the files exported by the last run.
func (i *Inferer) Outputs() []string {
	return i.outputs
}
