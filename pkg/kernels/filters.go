package kernels

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
)

// Normalize rescales data in place to [0, 1]. Constant input maps to 0.
func Normalize(data []float64) {
	if len(data) == 0 {
		return
	}
	lo, hi := floats.Min(data), floats.Max(data)
	span := hi - lo
	if span == 0 {
		for i := range data {
			data[i] = 0
		}
		return
	}
	floats.AddConst(-lo, data)
	floats.Scale(1/span, data)
}

// MedianFilter applies a square median filter of the given width to every
// plane independently. Widths below 2 return a copy of data.
func MedianFilter(data []float64, shape models.Shape, width int) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if width < 2 {
		return out
	}

	lo := -(width - 1) / 2
	hi := width / 2
	window := make([]float64, 0, width*width)
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				window = window[:0]
				for dy := lo; dy <= hi; dy++ {
					for dx := lo; dx <= hi; dx++ {
						ny, nx := y+dy, x+dx
						if ny < 0 || ny >= shape.Y || nx < 0 || nx >= shape.X {
							continue
						}
						window = append(window, data[shape.Index(z, ny, nx)])
					}
				}
				out[shape.Index(z, y, x)] = median(window)
			}
		}
	}
	return out
}

// median returns the median of values, reordering them.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

// GaussianSmooth applies a separable in-plane Gaussian blur. Borders are
// handled by renormalising the truncated kernel. Sigma <= 0 returns a copy.
func GaussianSmooth(data []float64, shape models.Shape, sigma float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if sigma <= 0 {
		return out
	}

	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}

	tmp := make([]float64, len(data))
	for z := 0; z < shape.Z; z++ {
		// horizontal pass
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				var sum, weight float64
				for k, w := range kernel {
					nx := x + k - radius
					if nx < 0 || nx >= shape.X {
						continue
					}
					sum += w * out[shape.Index(z, y, nx)]
					weight += w
				}
				tmp[shape.Index(z, y, x)] = sum / weight
			}
		}
		// vertical pass
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				var sum, weight float64
				for k, w := range kernel {
					ny := y + k - radius
					if ny < 0 || ny >= shape.Y {
						continue
					}
					sum += w * tmp[shape.Index(z, ny, x)]
					weight += w
				}
				out[shape.Index(z, y, x)] = sum / weight
			}
		}
	}
	return out
}

// DotFilter marks small bright blobs: voxels whose scale-normalised
// negative Laplacian-of-Gaussian response exceeds cut.
func DotFilter(data []float64, shape models.Shape, sigma, cut float64) *mask.Objects {
	smoothed := GaussianSmooth(data, shape, sigma)
	out := mask.NewObjects(shape)
	at := func(z, y, x int) float64 {
		if y < 0 {
			y = 0
		} else if y >= shape.Y {
			y = shape.Y - 1
		}
		if x < 0 {
			x = 0
		} else if x >= shape.X {
			x = shape.X - 1
		}
		return smoothed[shape.Index(z, y, x)]
	}
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				lap := at(z, y-1, x) + at(z, y+1, x) + at(z, y, x-1) + at(z, y, x+1) - 4*at(z, y, x)
				response := -sigma * sigma * lap
				out.Data[shape.Index(z, y, x)] = response > cut
			}
		}
	}
	return out
}

// Erode shrinks o by the given number of face-connected steps, per plane.
func Erode(o *mask.Objects, iterations int) *mask.Objects {
	return morph(o, iterations, true)
}

// Dilate grows o by the given number of face-connected steps, per plane.
func Dilate(o *mask.Objects, iterations int) *mask.Objects {
	return morph(o, iterations, false)
}

func morph(o *mask.Objects, iterations int, erode bool) *mask.Objects {
	cur := o.Clone()
	shape := o.Shape
	for it := 0; it < iterations; it++ {
		next := mask.NewObjects(shape)
		for z := 0; z < shape.Z; z++ {
			for y := 0; y < shape.Y; y++ {
				for x := 0; x < shape.X; x++ {
					i := shape.Index(z, y, x)
					hit := cur.Data[i]
					for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
						ny, nx := y+d[0], x+d[1]
						inside := ny >= 0 && ny < shape.Y && nx >= 0 && nx < shape.X
						var v bool
						if inside {
							v = cur.Data[shape.Index(z, ny, nx)]
						}
						if erode {
							hit = hit && v
						} else {
							hit = hit || v
						}
					}
					next.Data[i] = hit
				}
			}
		}
		cur = next
	}
	return cur
}

// Skeleton thins o to one-pixel-wide centre lines, plane by plane, with
// the Zhang-Suen two-pass rule. Pixels outside the plane count as
// background.
func Skeleton(o *mask.Objects) *mask.Objects {
	shape := o.Shape
	out := o.Clone()
	at := func(z, y, x int) bool {
		if y < 0 || y >= shape.Y || x < 0 || x >= shape.X {
			return false
		}
		return out.Data[shape.Index(z, y, x)]
	}
	// clockwise from north
	ring := [8][2]int{{-1, 0}, {-1, 1}, {0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}}
	var drop []int
	for z := 0; z < shape.Z; z++ {
		for changed := true; changed; {
			changed = false
			for pass := 0; pass < 2; pass++ {
				drop = drop[:0]
				for y := 0; y < shape.Y; y++ {
					for x := 0; x < shape.X; x++ {
						if !at(z, y, x) {
							continue
						}
						var n [8]bool
						count := 0
						for k, d := range ring {
							n[k] = at(z, y+d[0], x+d[1])
							if n[k] {
								count++
							}
						}
						if count < 2 || count > 6 {
							continue
						}
						transitions := 0
						for k := range n {
							if !n[k] && n[(k+1)%8] {
								transitions++
							}
						}
						if transitions != 1 {
							continue
						}
						north, east, south, west := n[0], n[2], n[4], n[6]
						if pass == 0 && (north && east && south || east && south && west) {
							continue
						}
						if pass == 1 && (north && east && west || north && south && west) {
							continue
						}
						drop = append(drop, shape.Index(z, y, x))
					}
				}
				for _, i := range drop {
					out.Data[i] = false
				}
				changed = changed || len(drop) > 0
			}
		}
	}
	return out
}

// ThinPreservingTopology peels up to thin boundary layers off o, keeping
// every voxel within minThickness of the plane's skeleton so narrow
// structures are not broken apart. thin <= 0 returns an unchanged copy.
func ThinPreservingTopology(o *mask.Objects, minThickness float64, thin int) *mask.Objects {
	if thin <= 0 {
		return o.Clone()
	}
	shape := o.Shape
	skel := Skeleton(o)
	eroded := Erode(o, thin)
	limit := minThickness + 1e-5
	r := int(math.Floor(limit))
	out := o.Clone()
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				i := shape.Index(z, y, x)
				if !o.Data[i] || eroded.Data[i] {
					continue
				}
				near := false
				for dy := -r; dy <= r && !near; dy++ {
					for dx := -r; dx <= r; dx++ {
						ny, nx := y+dy, x+dx
						if ny < 0 || ny >= shape.Y || nx < 0 || nx >= shape.X {
							continue
						}
						if float64(dy*dy+dx*dx) <= limit*limit && skel.Data[shape.Index(z, ny, nx)] {
							near = true
							break
						}
					}
				}
				out.Data[i] = near
			}
		}
	}
	return out
}

// FillHoles sets every background voxel that is not reachable from the
// plane border, plane by plane.
func FillHoles(o *mask.Objects) *mask.Objects {
	shape := o.Shape
	out := o.Clone()
	for z := 0; z < shape.Z; z++ {
		plane := mask.NewObjects(models.Shape2D(shape.Y, shape.X))
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				plane.Data[y*shape.X+x] = !o.Data[shape.Index(z, y, x)]
			}
		}
		background := mask.Label(plane, mask.Face)
		border := make(map[int32]bool)
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				if y == 0 || x == 0 || y == shape.Y-1 || x == shape.X-1 {
					if v := background.Data[y*shape.X+x]; v > 0 {
						border[v] = true
					}
				}
			}
		}
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				if v := background.Data[y*shape.X+x]; v > 0 && !border[v] {
					out.Data[shape.Index(z, y, x)] = true
				}
			}
		}
	}
	return out
}

// SizeFilter removes connected components smaller than minSize voxels.
func SizeFilter(o *mask.Objects, minSize int, conn mask.Connectivity) *mask.Objects {
	labels := mask.Label(o, conn)
	if minSize <= 1 {
		return labels.Objects()
	}
	areas := mask.Areas(labels)
	out := mask.NewObjects(o.Shape)
	for i, v := range labels.Data {
		out.Data[i] = v > 0 && areas[v] >= minSize
	}
	return out
}

// KeepLargest keeps only the largest labelled component, relabelled to 1.
// Ties go to the lower label.
func KeepLargest(l *mask.Labels) *mask.Labels {
	areas := mask.Areas(l)
	best := int32(0)
	for v := 1; v < len(areas); v++ {
		if best == 0 || areas[v] > areas[best] {
			best = int32(v)
		}
	}
	out := mask.NewLabels(l.Shape)
	if best == 0 || areas[best] == 0 {
		return out
	}
	for i, v := range l.Data {
		if v == best {
			out.Data[i] = 1
		}
	}
	return out
}
