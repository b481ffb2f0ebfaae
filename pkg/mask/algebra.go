package mask

import (
	"sort"

	"infersubc/internal/models"
)

// Connectivity selects the neighbourhood used when grouping voxels into
// connected components.
type Connectivity int

const (
	// Face connects voxels sharing a face (4 in 2D, 6 in 3D).
	Face Connectivity = 1
	// Full connects voxels sharing a face, edge or corner (8 in 2D, 26 in 3D).
	Full Connectivity = 2
)

// Intersect returns the voxel-wise AND of a and b.
func Intersect(a, b *Objects) (*Objects, error) {
	if err := checkShapes("intersect", a.Shape, b.Shape); err != nil {
		return nil, err
	}
	out := NewObjects(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] && b.Data[i]
	}
	return out, nil
}

// Subtract returns the voxels set in a but not in b.
func Subtract(a, b *Objects) (*Objects, error) {
	if err := checkShapes("subtract", a.Shape, b.Shape); err != nil {
		return nil, err
	}
	out := NewObjects(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] && !b.Data[i]
	}
	return out, nil
}

// Union returns the voxel-wise OR of a and b.
func Union(a, b *Objects) (*Objects, error) {
	if err := checkShapes("union", a.Shape, b.Shape); err != nil {
		return nil, err
	}
	out := NewObjects(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] || b.Data[i]
	}
	return out, nil
}

// Label assigns a distinct label to every connected component of o.
// Labels are numbered 1..N in scan order of each component's first voxel.
func Label(o *Objects, conn Connectivity) *Labels {
	out := NewLabels(o.Shape)
	offsets := neighbourhood(o.Shape, conn)

	var next int32
	queue := make([]int, 0, 64)
	for start, set := range o.Data {
		if !set || out.Data[start] != 0 {
			continue
		}
		next++
		out.Data[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			z, y, x := o.Shape.Coords(cur)
			for _, d := range offsets {
				nz, ny, nx := z+d[0], y+d[1], x+d[2]
				if !o.Shape.Contains(nz, ny, nx) {
					continue
				}
				n := o.Shape.Index(nz, ny, nx)
				if o.Data[n] && out.Data[n] == 0 {
					out.Data[n] = next
					queue = append(queue, n)
				}
			}
		}
	}
	return out
}

func neighbourhood(shape models.Shape, conn Connectivity) [][3]int {
	var offsets [][3]int
	zr := 1
	if shape.Is2D() {
		zr = 0
	}
	for dz := -zr; dz <= zr; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && dy == 0 && dx == 0 {
					continue
				}
				steps := abs(dz) + abs(dy) + abs(dx)
				if conn == Face && steps > 1 {
					continue
				}
				offsets = append(offsets, [3]int{dz, dy, dx})
			}
		}
	}
	return offsets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Relabel renumbers the labels of l to 1..N, preserving the relative order
// of the original label values.
func Relabel(l *Labels) *Labels {
	present := make(map[int32]struct{})
	for _, v := range l.Data {
		if v > 0 {
			present[v] = struct{}{}
		}
	}
	return renumber(l, present)
}

func renumber(l *Labels, keep map[int32]struct{}) *Labels {
	values := make([]int32, 0, len(keep))
	for v := range keep {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	mapping := make(map[int32]int32, len(values))
	for i, v := range values {
		mapping[v] = int32(i + 1)
	}

	out := NewLabels(l.Shape)
	for i, v := range l.Data {
		if v > 0 {
			out.Data[i] = mapping[v]
		}
	}
	return out
}

// RestrictLabels keeps the labelled components of l that lie mostly inside
// region and drops the rest. A component is kept when strictly more than
// half of its voxels are inside region; kept components are not clipped.
// The result is relabelled to 1..N in ascending order of the original
// labels.
func RestrictLabels(l *Labels, region *Objects) (*Labels, error) {
	if err := checkShapes("restrict labels", l.Shape, region.Shape); err != nil {
		return nil, err
	}

	total := make(map[int32]int)
	inside := make(map[int32]int)
	for i, v := range l.Data {
		if v <= 0 {
			continue
		}
		total[v]++
		if region.Data[i] {
			inside[v]++
		}
	}

	keep := make(map[int32]struct{})
	for v, n := range total {
		if 2*inside[v] > n {
			keep[v] = struct{}{}
		}
	}
	return renumber(l, keep), nil
}

// ClipLabels zeroes every labelled voxel outside region and relabels the
// remaining labels to 1..N. Components are not re-split when clipping
// disconnects them.
func ClipLabels(l *Labels, region *Objects) (*Labels, error) {
	if err := checkShapes("clip labels", l.Shape, region.Shape); err != nil {
		return nil, err
	}
	clipped := NewLabels(l.Shape)
	for i, v := range l.Data {
		if v > 0 && region.Data[i] {
			clipped.Data[i] = v
		}
	}
	return Relabel(clipped), nil
}

// Areas returns the voxel count of every label, indexed by label value.
// Index 0 holds the background count.
func Areas(l *Labels) []int {
	areas := make([]int, int(l.Max())+1)
	for _, v := range l.Data {
		if v >= 0 {
			areas[v]++
		}
	}
	return areas
}
