package quant

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
)

// ObjectStats holds the shape measurements of one labelled object.
type ObjectStats struct {
	Label    int32
	Area     int
	Centroid models.Point
	Box      models.Box

	// Axis lengths of the ellipse (ellipsoid) with the same second
	// central moments, in voxels
	MajorAxis float64
	MinorAxis float64

	// Eccentricity of the two largest axes, in [0, 1]
	Eccentricity float64

	// Orientation is the angle in radians between the x axis and the major
	// axis, projected onto the y-x plane
	Orientation float64
}

// moments accumulates first and second order sums of voxel coordinates.
type moments struct {
	n          int
	sz, sy, sx float64
	zz, yy, xx float64
	zy, zx, yx float64
	box        models.Box
}

func (m *moments) add(z, y, x int) {
	if m.n == 0 {
		m.box = models.Box{MinZ: z, MinY: y, MinX: x, MaxZ: z + 1, MaxY: y + 1, MaxX: x + 1}
	} else {
		m.box.MinZ, m.box.MaxZ = min(m.box.MinZ, z), max(m.box.MaxZ, z+1)
		m.box.MinY, m.box.MaxY = min(m.box.MinY, y), max(m.box.MaxY, y+1)
		m.box.MinX, m.box.MaxX = min(m.box.MinX, x), max(m.box.MaxX, x+1)
	}
	fz, fy, fx := float64(z), float64(y), float64(x)
	m.n++
	m.sz += fz
	m.sy += fy
	m.sx += fx
	m.zz += fz * fz
	m.yy += fy * fy
	m.xx += fx * fx
	m.zy += fz * fy
	m.zx += fz * fx
	m.yx += fy * fx
}

func (m *moments) stats(label int32) ObjectStats {
	n := float64(m.n)
	cz, cy, cx := m.sz/n, m.sy/n, m.sx/n

	// population covariance of the coordinates, in z, y, x order
	cov := mat.NewSymDense(3, []float64{
		m.zz/n - cz*cz, m.zy/n - cz*cy, m.zx/n - cz*cx,
		m.zy/n - cz*cy, m.yy/n - cy*cy, m.yx/n - cy*cx,
		m.zx/n - cz*cx, m.yx/n - cy*cx, m.xx/n - cx*cx,
	})

	st := ObjectStats{
		Label:    label,
		Area:     m.n,
		Centroid: models.Point{Z: cz, Y: cy, X: cx},
		Box:      m.box,
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return st
	}
	values := eig.Values(nil) // ascending
	for i := range values {
		values[i] = math.Max(values[i], 0)
	}
	major, minor := values[2], values[1]
	st.MajorAxis = 4 * math.Sqrt(major)
	st.MinorAxis = 4 * math.Sqrt(minor)
	if major > 0 {
		st.Eccentricity = math.Sqrt(1 - minor/major)
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vy, vx := vecs.At(1, 2), vecs.At(2, 2)
	if vy != 0 || vx != 0 {
		st.Orientation = math.Atan2(vy, vx)
		// axes are undirected
		if st.Orientation > math.Pi/2 {
			st.Orientation -= math.Pi
		} else if st.Orientation <= -math.Pi/2 {
			st.Orientation += math.Pi
		}
	}
	return st
}

// MeasureObjects measures every object of l, ordered by label.
func MeasureObjects(l *mask.Labels) []ObjectStats {
	if l == nil {
		return nil
	}
	top := l.Max()
	if top <= 0 {
		return nil
	}
	acc := make([]moments, top+1)
	for i, v := range l.Data {
		if v <= 0 {
			continue
		}
		z, y, x := l.Shape.Coords(i)
		acc[v].add(z, y, x)
	}

	out := make([]ObjectStats, 0, top)
	for label := int32(1); label <= top; label++ {
		if acc[label].n == 0 {
			continue
		}
		out = append(out, acc[label].stats(label))
	}
	return out
}
