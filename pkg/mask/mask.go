// Package mask implements label and object masks and the algebra used to
// combine upstream masks before they reach a segmentation stage.
//
// Every operation is pure: inputs are never modified and a fresh mask is
// returned. Operations over two masks fail with *models.ShapeMismatchError
// when the spatial shapes disagree.
package mask

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"infersubc/internal/models"
)

// Objects is a boolean mask marking foreground voxels.
type Objects struct {
	Shape models.Shape
	Data  []bool
}

// Labels is an integer mask: 0 is background and 1..N identify objects.
type Labels struct {
	Shape models.Shape
	Data  []int32
}

// NewObjects returns an all-background object mask.
func NewObjects(shape models.Shape) *Objects {
	return &Objects{Shape: shape, Data: make([]bool, shape.Len())}
}

// NewLabels returns an all-background label mask.
func NewLabels(shape models.Shape) *Labels {
	return &Labels{Shape: shape, Data: make([]int32, shape.Len())}
}

// ObjectsFromPoints builds a mask with the given (z, y, x) voxels set.
func ObjectsFromPoints(shape models.Shape, points ...[3]int) *Objects {
	o := NewObjects(shape)
	for _, p := range points {
		if shape.Contains(p[0], p[1], p[2]) {
			o.Data[shape.Index(p[0], p[1], p[2])] = true
		}
	}
	return o
}

// Count returns the number of foreground voxels.
func (o *Objects) Count() int {
	n := 0
	for _, v := range o.Data {
		if v {
			n++
		}
	}
	return n
}

// Empty reports whether no voxel is set.
func (o *Objects) Empty() bool {
	for _, v := range o.Data {
		if v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (o *Objects) Clone() *Objects {
	data := make([]bool, len(o.Data))
	copy(data, o.Data)
	return &Objects{Shape: o.Shape, Data: data}
}

// Equal reports whether both masks have the same shape and voxels.
func (o *Objects) Equal(other *Objects) bool {
	if o.Shape != other.Shape || len(o.Data) != len(other.Data) {
		return false
	}
	for i := range o.Data {
		if o.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// Points returns the (z, y, x) coordinates of foreground voxels in scan order.
func (o *Objects) Points() [][3]int {
	var pts [][3]int
	for i, v := range o.Data {
		if v {
			z, y, x := o.Shape.Coords(i)
			pts = append(pts, [3]int{z, y, x})
		}
	}
	return pts
}

// Objects derives the union of all labelled regions.
func (l *Labels) Objects() *Objects {
	o := NewObjects(l.Shape)
	for i, v := range l.Data {
		o.Data[i] = v > 0
	}
	return o
}

// Count returns the number of distinct labels, which equals the maximum
// label for a contiguous mask.
func (l *Labels) Count() int {
	seen := make(map[int32]struct{})
	for _, v := range l.Data {
		if v > 0 {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// Max returns the largest label value.
func (l *Labels) Max() int32 {
	var m int32
	for _, v := range l.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// Empty reports whether the mask has no labelled voxel.
func (l *Labels) Empty() bool {
	for _, v := range l.Data {
		if v > 0 {
			return false
		}
	}
	return true
}

// Contiguous reports whether labels are exactly 1..N with no gaps.
func (l *Labels) Contiguous() bool {
	return int(l.Max()) == l.Count()
}

// Clone returns a deep copy.
func (l *Labels) Clone() *Labels {
	data := make([]int32, len(l.Data))
	copy(data, l.Data)
	return &Labels{Shape: l.Shape, Data: data}
}

// Equal reports whether both masks have the same shape and labels.
func (l *Labels) Equal(other *Labels) bool {
	if l.Shape != other.Shape || len(l.Data) != len(other.Data) {
		return false
	}
	for i := range l.Data {
		if l.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// Fingerprint returns a content hash of the mask including its shape.
func (l *Labels) Fingerprint() string {
	h := sha256.New()
	var buf [4]byte
	for _, d := range []int{l.Shape.Z, l.Shape.Y, l.Shape.X} {
		binary.LittleEndian.PutUint32(buf[:], uint32(d))
		h.Write(buf[:])
	}
	for _, v := range l.Data {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the data length against the shape and that no label is
// negative.
func (l *Labels) Validate() error {
	if len(l.Data) != l.Shape.Len() {
		return fmt.Errorf("label mask has %d voxels, shape %s needs %d", len(l.Data), l.Shape, l.Shape.Len())
	}
	for i, v := range l.Data {
		if v < 0 {
			return fmt.Errorf("negative label %d at offset %d", v, i)
		}
	}
	return nil
}

func checkShapes(op string, a, b models.Shape) error {
	if a != b {
		return &models.ShapeMismatchError{Op: op, Want: a, Got: b}
	}
	return nil
}
