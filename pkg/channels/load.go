package channels

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"infersubc/internal/models"
)

// LoadDir loads a multichannel image from dir. Each channel lives in its own
// subdirectory named after the channel and holds one image per z-plane.
// Planes are ordered by the number embedded in their filename so that
// "plane_2.png" sorts before "plane_10.png".
func LoadDir(dir string, names []string) (*Set, error) {
	if len(names) == 0 {
		return nil, ErrEmptySet
	}

	chs := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, err := loadChannelDir(filepath.Join(dir, name), name)
		if err != nil {
			return nil, fmt.Errorf("failed to load channel %s: %w", name, err)
		}
		chs = append(chs, ch)
	}
	return NewSet(chs...)
}

func loadChannelDir(dir, name string) (Channel, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return Channel{}, err
	}

	var planes []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
			planes = append(planes, file.Name())
		}
	}
	if len(planes) == 0 {
		return Channel{}, fmt.Errorf("no PNG or JPEG planes found in %s", dir)
	}

	sort.SliceStable(planes, func(i, j int) bool {
		return extractNumber(planes[i]) < extractNumber(planes[j])
	})

	var (
		shape models.Shape
		dtype DType
		data  []float64
	)
	for z, filename := range planes {
		img, err := loadImage(filepath.Join(dir, filename))
		if err != nil {
			return Channel{}, fmt.Errorf("failed to load plane %s: %w", filename, err)
		}

		bounds := img.Bounds()
		if z == 0 {
			shape = models.Shape{Z: len(planes), Y: bounds.Dy(), X: bounds.Dx()}
			dtype = dtypeOf(img)
			data = make([]float64, 0, shape.Len())
		} else if bounds.Dy() != shape.Y || bounds.Dx() != shape.X {
			return Channel{}, &models.ShapeMismatchError{
				Op:   "plane " + filename,
				Want: models.Shape2D(shape.Y, shape.X),
				Got:  models.Shape2D(bounds.Dy(), bounds.Dx()),
			}
		}
		data = append(data, grayToFloat(img)...)
	}

	return Channel{Name: name, DType: dtype, Shape: shape, Data: data}, nil
}

// FromImage splits a single 2D color image into channels, assigning the red,
// green, blue and alpha components to names in that order.
func FromImage(img image.Image, names []string) (*Set, error) {
	if len(names) == 0 || len(names) > 4 {
		return nil, fmt.Errorf("FromImage needs between 1 and 4 channel names, got %d", len(names))
	}

	bounds := img.Bounds()
	shape := models.Shape2D(bounds.Dy(), bounds.Dx())
	planes := make([][]float64, len(names))
	for i := range planes {
		planes[i] = make([]float64, shape.Len())
	}

	for y := 0; y < shape.Y; y++ {
		for x := 0; x < shape.X; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			components := [4]uint32{r, g, b, a}
			for c := range planes {
				planes[c][shape.Index(0, y, x)] = float64(components[c]) / 65535.0
			}
		}
	}

	chs := make([]Channel, len(names))
	for i, name := range names {
		chs[i] = Channel{Name: name, DType: dtypeOf(img), Shape: shape, Data: planes[i]}
	}
	return NewSet(chs...)
}

// extractNumber extracts the digits of a filename as an integer, 0 if none.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// grayToFloat converts an image plane to luminance samples in [0, 1].
func grayToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			result[y*width+x] = float64(g.Y) / 65535.0
		}
	}
	return result
}

func dtypeOf(img image.Image) DType {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return Uint16
	default:
		return Uint8
	}
}
