package channels

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infersubc/internal/models"
)

func ramp(shape models.Shape, offset float64) []float64 {
	data := make([]float64, shape.Len())
	for i := range data {
		data[i] = offset + float64(i)
	}
	return data
}

func TestNewSetPreservesOrder(t *testing.T) {
	shape := models.Shape2D(2, 3)
	set, err := NewSet(
		Channel{Name: "soma", Shape: shape, Data: ramp(shape, 0)},
		Channel{Name: "nuclei", Shape: shape, Data: ramp(shape, 10)},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"soma", "nuclei"}, set.Names())
	assert.Equal(t, shape, set.Shape())
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("nuclei"))
	assert.NoError(t, set.ValidateShape())
}

func TestNewSetRejectsShapeMismatch(t *testing.T) {
	a := models.Shape2D(2, 3)
	b := models.Shape2D(3, 2)
	_, err := NewSet(
		Channel{Name: "soma", Shape: a, Data: ramp(a, 0)},
		Channel{Name: "nuclei", Shape: b, Data: ramp(b, 0)},
	)

	var mismatch *models.ShapeMismatchError
	require.True(t, errors.As(err, &mismatch), "expected ShapeMismatchError, got %v", err)
	assert.Equal(t, a, mismatch.Want)
	assert.Equal(t, b, mismatch.Got)
}

func TestNewSetRejectsBadInput(t *testing.T) {
	shape := models.Shape2D(2, 2)
	tests := []struct {
		name string
		chs  []Channel
	}{
		{"empty", nil},
		{"unnamed", []Channel{{Shape: shape, Data: ramp(shape, 0)}}},
		{"duplicate", []Channel{
			{Name: "a", Shape: shape, Data: ramp(shape, 0)},
			{Name: "a", Shape: shape, Data: ramp(shape, 0)},
		}},
		{"short data", []Channel{{Name: "a", Shape: shape, Data: []float64{1}}}},
		{"invalid shape", []Channel{{Name: "a", Shape: models.Shape{}, Data: nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSet(tt.chs...)
			assert.Error(t, err)
		})
	}
}

func TestGetMissingChannel(t *testing.T) {
	shape := models.Shape2D(1, 1)
	set, err := NewSet(Channel{Name: "soma", Shape: shape, Data: []float64{1}})
	require.NoError(t, err)

	_, err = set.Get("golgi")
	var notFound *ChannelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "golgi", notFound.Name)
	assert.Equal(t, []string{"soma"}, notFound.Available)
}

func TestAccessorsReturnCopies(t *testing.T) {
	shape := models.Shape2D(1, 2)
	input := []float64{1, 2}
	set, err := NewSet(Channel{Name: "soma", Shape: shape, Data: input})
	require.NoError(t, err)

	input[0] = 99
	data, err := set.Data("soma")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, data)

	data[1] = 42
	again, err := set.Data("soma")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, again)
}

func TestCrop(t *testing.T) {
	shape := models.Shape{Z: 2, Y: 3, X: 3}
	set, err := NewSet(Channel{Name: "soma", Shape: shape, Data: ramp(shape, 0)})
	require.NoError(t, err)

	cropped, err := set.Crop(models.Box{MinZ: 1, MinY: 1, MinX: 1, MaxZ: 2, MaxY: 3, MaxX: 3})
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Z: 1, Y: 2, X: 2}, cropped.Shape())

	data, err := cropped.Data("soma")
	require.NoError(t, err)
	assert.Equal(t, []float64{13, 14, 16, 17}, data)

	_, err = set.Crop(models.Box{MaxZ: 3, MaxY: 1, MaxX: 1})
	assert.Error(t, err)
}

func writePlane(t *testing.T, path string, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadDirOrdersPlanesNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"soma", "nuclei"} {
		chDir := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(chDir, 0o755))
		writePlane(t, filepath.Join(chDir, "plane_10.png"), 255)
		writePlane(t, filepath.Join(chDir, "plane_2.png"), 0)
	}

	set, err := LoadDir(dir, []string{"soma", "nuclei"})
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Z: 2, Y: 3, X: 4}, set.Shape())

	ch, err := set.Get("soma")
	require.NoError(t, err)
	assert.Equal(t, Uint8, ch.DType)
	assert.InDelta(t, 0.0, ch.Data[0], 1e-9)
	assert.InDelta(t, 1.0, ch.Data[shape2Offset(ch.Shape)], 1e-9)
}

func shape2Offset(s models.Shape) int {
	return s.Index(1, 0, 0)
}

func TestLoadDirMissingChannel(t *testing.T) {
	_, err := LoadDir(t.TempDir(), []string{"soma"})
	assert.Error(t, err)
}

func TestFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 255, B: 0, A: 255})

	set, err := FromImage(img, []string{"soma", "nuclei"})
	require.NoError(t, err)

	soma, _ := set.Data("soma")
	nuclei, _ := set.Data("nuclei")
	assert.Equal(t, []float64{1, 0}, soma)
	assert.Equal(t, []float64{0, 1}, nuclei)

	_, err = FromImage(img, nil)
	assert.Error(t, err)
}

func TestExtractNumber(t *testing.T) {
	assert.Equal(t, 12, extractNumber("z12.png"))
	assert.Equal(t, 0, extractNumber("plane.png"))
}

func TestFingerprint(t *testing.T) {
	shape := models.Shape2D(2, 3)
	a, err := NewSet(Channel{Name: "golgi", Shape: shape, Data: ramp(shape, 0)})
	require.NoError(t, err)
	b, err := NewSet(Channel{Name: "golgi", Shape: shape, Data: ramp(shape, 0)})
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	renamed, err := NewSet(Channel{Name: "er", Shape: shape, Data: ramp(shape, 0)})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), renamed.Fingerprint())

	shifted, err := NewSet(Channel{Name: "golgi", Shape: shape, Data: ramp(shape, 1)})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), shifted.Fingerprint())
}
