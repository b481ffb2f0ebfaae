package models

import (
	"fmt"
)

// Shape is the spatial extent of an image volume in (z, y, x) order.
// 2D images are represented with Z == 1.
type Shape struct {
	// Z is the number of planes (1 for 2D images)
	Z int

	// Y is the number of rows in each plane
	Y int

	// X is the number of columns in each plane
	X int
}

// Shape2D returns the shape of a single-plane image.
func Shape2D(y, x int) Shape {
	return Shape{Z: 1, Y: y, X: x}
}

// Len returns the number of voxels covered by the shape.
func (s Shape) Len() int {
	return s.Z * s.Y * s.X
}

// Is2D reports whether the shape describes a single plane.
func (s Shape) Is2D() bool {
	return s.Z == 1
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Z > 0 && s.Y > 0 && s.X > 0
}

// Index converts (z, y, x) coordinates to a row-major offset.
func (s Shape) Index(z, y, x int) int {
	return z*s.Y*s.X + y*s.X + x
}

// Coords converts a row-major offset back to (z, y, x) coordinates.
func (s Shape) Coords(i int) (z, y, x int) {
	plane := s.Y * s.X
	z = i / plane
	rem := i % plane
	return z, rem / s.X, rem % s.X
}

// Contains reports whether the coordinates lie inside the shape.
func (s Shape) Contains(z, y, x int) bool {
	return z >= 0 && z < s.Z && y >= 0 && y < s.Y && x >= 0 && x < s.X
}

func (s Shape) String() string {
	if s.Is2D() {
		return fmt.Sprintf("%dx%d", s.Y, s.X)
	}
	return fmt.Sprintf("%dx%dx%d", s.Z, s.Y, s.X)
}

// Point is a sub-voxel position in (z, y, x) order.
type Point struct {
	Z, Y, X float64
}

// Box is an axis-aligned region. Min is inclusive and Max is exclusive,
// both in (z, y, x) order.
type Box struct {
	MinZ, MinY, MinX int
	MaxZ, MaxY, MaxX int
}

// Shape returns the extent of the box.
func (b Box) Shape() Shape {
	return Shape{Z: b.MaxZ - b.MinZ, Y: b.MaxY - b.MinY, X: b.MaxX - b.MinX}
}

// Within reports whether the box is non-empty and fits inside s.
func (b Box) Within(s Shape) bool {
	if !b.Shape().Valid() {
		return false
	}
	return b.MinZ >= 0 && b.MinY >= 0 && b.MinX >= 0 &&
		b.MaxZ <= s.Z && b.MaxY <= s.Y && b.MaxX <= s.X
}

// ShapeMismatchError reports arrays whose spatial shapes disagree.
type ShapeMismatchError struct {
	// Op names the operation that compared the shapes
	Op string

	// Want is the reference shape
	Want Shape

	// Got is the offending shape
	Got Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}
