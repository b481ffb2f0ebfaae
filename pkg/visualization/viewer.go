// Package visualization renders stage label masks as colourised PNG slices
// and plots quantification results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/plot/palette"

	"infersubc/pkg/mask"
)

// labelColors is the number of distinct colours objects cycle through.
const labelColors = 12

// Viewer extracts colourised slices from a label mask. Background is
// black; each object label gets a colour from a fixed rainbow palette so
// that neighbouring labels differ.
type Viewer struct {
	labels *mask.Labels
	colors []color.Color
}

// NewViewer creates a viewer for l.
func NewViewer(l *mask.Labels) *Viewer {
	return &Viewer{
		labels: l,
		colors: palette.Rainbow(labelColors, palette.Red, palette.Magenta, 1, 1, 1).Colors(),
	}
}

// Color returns the colour used for label.
func (v *Viewer) Color(label int32) color.Color {
	if label <= 0 {
		return color.Black
	}
	// stride 5 is coprime with 12, so consecutive labels jump across the wheel
	return v.colors[(int(label-1)*5)%len(v.colors)]
}

// ExtractSlice extracts a 2D slice from the label volume along the
// specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	s := v.labels.Shape

	var (
		img  *image.RGBA
		at   func(a, b int) int32
		w, h int
	)
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= s.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, s.X)
		}
		w, h = s.Z, s.Y
		at = func(z, y int) int32 { return v.labels.Data[s.Index(z, y, position)] }
	case "y", "Y":
		// XZ plane
		if position >= s.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, s.Y)
		}
		w, h = s.X, s.Z
		at = func(x, z int) int32 { return v.labels.Data[s.Index(z, position, x)] }
	case "z", "Z":
		// XY plane
		if position >= s.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, s.Z)
		}
		w, h = s.X, s.Y
		at = func(x, y int) int32 { return v.labels.Data[s.Index(position, y, x)] }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	img = image.NewRGBA(image.Rect(0, 0, w, h))
	for b := 0; b < h; b++ {
		for a := 0; a < w; a++ {
			img.Set(a, b, v.Color(at(a, b)))
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the specified
// axis as <prefix>_<axis>_<pos>.png and returns the written paths.
func (v *Viewer) SaveSliceSequence(axis, prefix, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.labels.Shape.X
	case "y", "Y":
		maxPos = v.labels.Shape.Y
	case "z", "Z":
		maxPos = v.labels.Shape.Z
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	paths := make([]string, 0, maxPos)
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.png", prefix, axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}

// SaveLabels writes every z plane of l as <name>_z_<pos>.png under dir.
func SaveLabels(l *mask.Labels, name, dir string) ([]string, error) {
	if l == nil {
		return nil, fmt.Errorf("no labels to save for %s", name)
	}
	return NewViewer(l).SaveSliceSequence("z", name, dir)
}
