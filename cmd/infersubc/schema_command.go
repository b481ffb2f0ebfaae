package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"infersubc/pkg/params"
	"infersubc/pkg/stage"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "schema [stage...]",
		Short:       "List the options every stage accepts",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas := stage.Schemas()
			names := args
			if len(names) == 0 {
				names = stage.Names()
			}

			var rows [][]string
			for _, name := range names {
				schema, ok := schemas[name]
				if !ok {
					return fmt.Errorf("unknown stage %q (known: %s)", name, strings.Join(stage.Names(), ", "))
				}
				for _, f := range schema.Fields {
					rows = append(rows, []string{
						name + " v" + strconv.Itoa(schema.Version),
						f.Name,
						f.Type.String(),
						formatDefault(f),
						formatBounds(f),
						f.Doc,
					})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]column{col("Stage"), col("Option"), col("Type"), col("Default"), col("Allowed"), col("Description")},
				rows,
			))
			return nil
		},
	}
}

func formatDefault(f params.Field) string {
	if f.Default == nil {
		return "(required)"
	}
	return fmt.Sprint(f.Default)
}

func formatBounds(f params.Field) string {
	if len(f.Enum) > 0 {
		return strings.Join(f.Enum, "|")
	}
	switch {
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("%g..%g", *f.Min, *f.Max)
	case f.Min != nil:
		return fmt.Sprintf(">= %g", *f.Min)
	case f.Max != nil:
		return fmt.Sprintf("<= %g", *f.Max)
	}
	return ""
}
