package main

import (
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one column of a rendered table. Numeric columns are
// right aligned; a positive max cuts longer cells with an ellipsis.
type column struct {
	title   string
	numeric bool
	max     int
}

func col(title string) column         { return column{title: title} }
func num(title string) column         { return column{title: title, numeric: true} }
func clip(title string, n int) column { return column{title: title, max: n} }

var interactionColumns = []column{col("Pair"), num("Overlap"), num("Fraction"), num("Mean nearest")}

func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, 0, len(cols))
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header = append(header, c.title)
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.numeric {
			cfg.Align = text.AlignRight
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i, c := range cols {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			if c.max > 0 {
				cell = truncate(cell, c.max)
			}
			r[i] = cell
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// truncate shortens s to at most n runes, ending a cut string with "...".
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return text.Trim(s, n)
	}
	return text.Trim(s, n-3) + "..."
}
