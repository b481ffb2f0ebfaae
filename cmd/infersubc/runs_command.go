package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"infersubc/pkg/store"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsDeleteCommand(ctx))
	runsCmd.AddCommand(newRunsPurgeCacheCommand(ctx))

	return runsCmd
}

// withStore opens the configured run database for the duration of fn.
func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	path := cfg.DatabasePath()
	if path == "" {
		return errors.New("run database disabled (output.database is empty)")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no run database at %s: %w", path, err)
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(db *store.Store) error {
				runs, err := db.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID.String(),
						humanize.Time(r.Started),
						r.Input,
						r.Shape,
						r.Duration.Round(time.Millisecond).String(),
						strconv.Itoa(r.Succeeded),
						strconv.Itoa(r.Failed),
						strconv.Itoa(r.Skipped),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{col("Run"), col("Started"), col("Input"), col("Shape"),
						num("Duration"), num("OK"), num("Failed"), num("Skipped")},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the stages and quantification of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			return ctx.withStore(func(db *store.Store) error {
				detail, err := db.LoadRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				printRunDetail(cmd.OutOrStdout(), detail)
				return nil
			})
		},
	}
}

func printRunDetail(out io.Writer, d *store.RunDetail) {
	fmt.Fprintf(out, "Run %s (%s, %s) started %s\n",
		d.Run.ID, d.Run.Input, d.Run.Shape, d.Run.Started.Format(time.RFC3339))

	rows := make([][]string, 0, len(d.Stages))
	for _, s := range d.Stages {
		rows = append(rows, []string{
			s.Stage,
			s.Status.String(),
			s.Kernel,
			humanize.Comma(int64(s.Objects)),
			s.Duration.Round(time.Millisecond).String(),
			yesNo(s.Cached),
			s.Reason,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{col("Stage"), col("Status"), col("Kernel"), num("Objects"), num("Duration"), col("Cached"), clip("Reason", 60)},
		rows,
	))

	if len(d.Interactions) == 0 {
		return
	}
	rows = rows[:0]
	for _, in := range d.Interactions {
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

func newRunsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			return ctx.withStore(func(db *store.Store) error {
				if err := db.DeleteRun(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
				return nil
			})
		},
	}
}

func newRunsPurgeCacheCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "Drop cached stage masks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(db *store.Store) error {
				if err := db.PurgeCache(cmd.Context(), stageName); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Mask cache purged")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "Only drop masks of this stage")
	return cmd
}
