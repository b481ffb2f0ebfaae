package visualization

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"infersubc/pkg/quant"
)

// fractionGrid lays the pairwise overlap fractions of a summary out as a
// symmetric class-by-class grid for plotter.HeatMap.
type fractionGrid struct {
	classes []string
	values  [][]float64
}

func newFractionGrid(sum *quant.Summary, classes []string) *fractionGrid {
	g := &fractionGrid{classes: classes, values: make([][]float64, len(classes))}
	for i := range classes {
		g.values[i] = make([]float64, len(classes))
	}
	for i, a := range classes {
		if _, ok := sum.Classes[a]; ok {
			g.values[i][i] = 1
		}
		for j := i + 1; j < len(classes); j++ {
			if in, ok := sum.Interaction(a, classes[j]); ok {
				g.values[i][j] = in.Fraction
				g.values[j][i] = in.Fraction
			}
		}
	}
	return g
}

func (g *fractionGrid) Dims() (c, r int)   { return len(g.classes), len(g.classes) }
func (g *fractionGrid) Z(c, r int) float64 { return g.values[r][c] }
func (g *fractionGrid) X(c int) float64    { return float64(c) }
func (g *fractionGrid) Y(r int) float64    { return float64(r) }

// SaveInteractionHeatMap plots the overlap fraction of every pair of
// classes. Pairs with an excluded class are drawn as zero.
func SaveInteractionHeatMap(sum *quant.Summary, classes []string, filename string) error {
	if len(classes) < 2 {
		return fmt.Errorf("need at least two classes for a heat map, got %d", len(classes))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Organelle overlap fraction"

	hm := plotter.NewHeatMap(newFractionGrid(sum, classes), palette.Heat(12, 1))
	hm.Min, hm.Max = 0, 1
	p.Add(hm)
	p.NominalX(classes...)
	p.NominalY(classes...)

	size := vg.Length(len(classes)) * vg.Inch
	if err := p.Save(size+2*vg.Inch, size+vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save heat map: %w", err)
	}
	return nil
}

// SaveObjectCounts draws a bar chart of the object count of each measured
// class.
func SaveObjectCounts(sum *quant.Summary, filename string) error {
	names := sum.ClassNames()
	if len(names) == 0 {
		return fmt.Errorf("no measured classes to plot")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	counts := make(plotter.Values, len(names))
	for i, name := range names {
		counts[i] = float64(sum.Classes[name].Count)
	}

	p := plot.New()
	p.Title.Text = "Objects per class"
	p.Y.Label.Text = "objects"

	bars, err := plotter.NewBarChart(counts, vg.Points(20))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = palette.Heat(3, 1).Colors()[1]
	p.Add(bars)
	p.NominalX(names...)

	if err := p.Save(vg.Length(len(names))*vg.Inch+2*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save bar chart: %w", err)
	}
	return nil
}
