package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"infersubc/pkg/inference"
	"infersubc/pkg/pipeline"
	"infersubc/pkg/quant"
)

const lockFileName = ".infersubc.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		inputDir  string
		outputDir string
		workers   int
		timeout   string
		reuse     bool
		noMasks   bool
		noPlot    bool
		noDB      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every inference stage on one cell and quantify the organelles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("input") {
				cfg.Input.Dir = inputDir
			}
			if flags.Changed("output") {
				cfg.Output.Dir = outputDir
			}
			if flags.Changed("workers") {
				cfg.Processing.Workers = workers
			}
			if flags.Changed("timeout") {
				cfg.Processing.StageTimeout = timeout
			}
			if flags.Changed("reuse") {
				cfg.Output.Reuse = reuse
			}
			if noMasks {
				cfg.Output.SaveMasks = false
			}
			if noPlot {
				cfg.Output.Plot = false
			}
			if noDB {
				cfg.Output.Database = ""
				cfg.Output.Reuse = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
				return fmt.Errorf("create output directory %q: %w", cfg.Output.Dir, err)
			}
			lock := flock.New(filepath.Join(cfg.Output.Dir, lockFileName))
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another infersubc run is writing to %s", cfg.Output.Dir)
			}
			defer func() { _ = lock.Unlock() }()

			inf := inference.NewInferer(cfg)
			if err := inf.Process(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printReport(out, inf.Report())
			printSummary(out, inf.Summary())
			if n := len(inf.Outputs()); n > 0 {
				fmt.Fprintf(out, "Wrote %s files to %s\n", humanize.Comma(int64(n)), cfg.Output.Dir)
			}
			if len(inf.Report().Succeeded()) == 0 {
				return errors.New("no stage succeeded")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Directory holding one sub-directory of planes per channel")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for masks, plots and the run database")
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Maximum number of stages run at once")
	cmd.Flags().StringVar(&timeout, "timeout", "", "Per-stage time limit (for example 30s); 0 disables it")
	cmd.Flags().BoolVar(&reuse, "reuse", false, "Load masks of identical earlier stage executions from the database")
	cmd.Flags().BoolVar(&noMasks, "no-masks", false, "Do not export mask slices")
	cmd.Flags().BoolVar(&noPlot, "no-plot", false, "Do not draw plots")
	cmd.Flags().BoolVar(&noDB, "no-db", false, "Do not record the run in the database")
	return cmd
}

func printReport(out io.Writer, rep *pipeline.Report) {
	rows := make([][]string, 0, len(rep.Order))
	for _, name := range rep.Order {
		res, ok := rep.Result(name)
		if !ok {
			continue
		}
		objects := "-"
		if res.Labels != nil {
			objects = humanize.Comma(int64(res.Labels.Count()))
		}
		rows = append(rows, []string{
			name,
			res.Status.String(),
			objects,
			res.Duration.Round(time.Millisecond).String(),
			yesNo(res.Provenance.Cached),
			res.Reason(),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{col("Stage"), col("Status"), num("Objects"), num("Duration"), col("Cached"), clip("Reason", 60)},
		rows,
	))

	fmt.Fprintf(out, "Run %s finished in %s: %d succeeded, %d failed, %d skipped\n",
		rep.RunID, rep.Duration.Round(time.Millisecond),
		len(rep.Succeeded()), len(rep.Failed()), len(rep.Skipped()))
}

func printSummary(out io.Writer, sum *quant.Summary) {
	if sum == nil {
		return
	}
	rows := make([][]string, 0, len(sum.Classes))
	for _, name := range sum.ClassNames() {
		cs := sum.Classes[name]
		rows = append(rows, []string{
			name,
			humanize.Comma(int64(cs.Count)),
			humanize.Comma(int64(cs.TotalArea)),
			humanize.CommafWithDigits(cs.MeanArea, 2),
			humanize.CommafWithDigits(cs.StdArea, 2),
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]column{col("Class"), num("Objects"), num("Voxels"), num("Mean size"), num("Std size")},
			rows,
		))
	}

	if len(sum.Interactions) > 0 {
		rows = rows[:0]
		for _, in := range sum.Interactions {
			rows = append(rows, []string{
				in.A + " / " + in.B,
				humanize.Comma(int64(in.Overlap)),
				humanize.FtoaWithDigits(in.Fraction, 3),
				humanize.FtoaWithDigits(in.MeanNearest, 2),
			})
		}
		fmt.Fprintln(out, renderTable(
			interactionColumns,
			rows,
		))
	}

	for _, name := range sortedExclusions(sum) {
		ex := sum.Excluded[name]
		fmt.Fprintf(out, "Excluded %s (%s): %s\n", name, ex.Status, ex.Reason)
	}
}

func sortedExclusions(sum *quant.Summary) []string {
	names := make([]string, 0, len(sum.Excluded))
	for name := range sum.Excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
