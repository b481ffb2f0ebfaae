package mask

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"infersubc/internal/models"
)

// randomObjects generates a reproducible random mask with the given fill
// probability.
func randomObjects(rng *rand.Rand, shape models.Shape, p float64) *Objects {
	o := NewObjects(shape)
	for i := range o.Data {
		o.Data[i] = rng.Float64() < p
	}
	return o
}

// randomLabels generates a label mask with arbitrary, possibly gapped,
// label values.
func randomLabels(rng *rand.Rand, shape models.Shape, maxLabel int32) *Labels {
	l := NewLabels(shape)
	for i := range l.Data {
		if rng.Float64() < 0.4 {
			l.Data[i] = rng.Int31n(maxLabel) + 1
		}
	}
	return l
}

func TestSubtractSelfIsEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		a := randomObjects(rng, models.Shape{Z: 2, Y: 5, X: 7}, rng.Float64())
		got, err := Subtract(a, a)
		if err != nil {
			t.Fatalf("Subtract failed: %v", err)
		}
		if !got.Empty() {
			t.Fatalf("Subtract(a, a) left %d voxels set", got.Count())
		}
	}
}

func TestIntersectCommutativeAndIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	shape := models.Shape2D(6, 6)
	for i := 0; i < 50; i++ {
		a := randomObjects(rng, shape, 0.5)
		b := randomObjects(rng, shape, 0.5)

		ab, err := Intersect(a, b)
		if err != nil {
			t.Fatalf("Intersect failed: %v", err)
		}
		ba, _ := Intersect(b, a)
		if diff := cmp.Diff(ab, ba); diff != "" {
			t.Fatalf("Intersect not commutative (-ab +ba):\n%s", diff)
		}

		aa, _ := Intersect(a, a)
		if !aa.Equal(a) {
			t.Fatalf("Intersect(a, a) != a")
		}
	}
}

func TestOperationsDoNotMutateInputs(t *testing.T) {
	shape := models.Shape2D(2, 2)
	a := ObjectsFromPoints(shape, [3]int{0, 0, 0}, [3]int{0, 1, 1})
	b := ObjectsFromPoints(shape, [3]int{0, 0, 0})
	aBefore, bBefore := a.Clone(), b.Clone()

	Intersect(a, b)
	Subtract(a, b)
	Union(a, b)

	if !a.Equal(aBefore) || !b.Equal(bBefore) {
		t.Fatal("mask algebra mutated its inputs")
	}
}

func TestShapeMismatch(t *testing.T) {
	a := NewObjects(models.Shape2D(2, 2))
	b := NewObjects(models.Shape2D(2, 3))
	l := NewLabels(models.Shape2D(2, 3))

	checks := map[string]error{}
	_, checks["intersect"] = Intersect(a, b)
	_, checks["subtract"] = Subtract(a, b)
	_, checks["union"] = Union(a, b)
	_, checks["restrict"] = RestrictLabels(l, a)
	_, checks["clip"] = ClipLabels(l, a)

	for name, err := range checks {
		var mismatch *models.ShapeMismatchError
		if !errors.As(err, &mismatch) {
			t.Errorf("%s: expected ShapeMismatchError, got %v", name, err)
		}
	}
}

func TestSomaMinusNucleus(t *testing.T) {
	shape := models.Shape2D(2, 2)
	soma := ObjectsFromPoints(shape, [3]int{0, 0, 0}, [3]int{0, 0, 1}, [3]int{0, 1, 0}, [3]int{0, 1, 1})
	nucleus := ObjectsFromPoints(shape, [3]int{0, 0, 0})

	cytosol, err := Subtract(soma, nucleus)
	if err != nil {
		t.Fatalf("Subtract failed: %v", err)
	}
	want := [][3]int{{0, 0, 1}, {0, 1, 0}, {0, 1, 1}}
	if diff := cmp.Diff(want, cytosol.Points()); diff != "" {
		t.Fatalf("cytosol voxels mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelConnectivity(t *testing.T) {
	shape := models.Shape2D(3, 3)
	// Two voxels touching only diagonally.
	o := ObjectsFromPoints(shape, [3]int{0, 0, 0}, [3]int{0, 1, 1}, [3]int{0, 2, 2})

	if got := Label(o, Face).Count(); got != 3 {
		t.Errorf("face connectivity: got %d components, want 3", got)
	}
	if got := Label(o, Full).Count(); got != 1 {
		t.Errorf("full connectivity: got %d components, want 1", got)
	}
}

func TestLabel3D(t *testing.T) {
	shape := models.Shape{Z: 3, Y: 2, X: 2}
	o := ObjectsFromPoints(shape, [3]int{0, 0, 0}, [3]int{1, 0, 0}, [3]int{2, 1, 1})
	l := Label(o, Face)

	want := []int32{1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 2}
	if diff := cmp.Diff(want, l.Data); diff != "" {
		t.Fatalf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestRelabelContiguous(t *testing.T) {
	l := &Labels{Shape: models.Shape2D(1, 5), Data: []int32{0, 7, 3, 7, 42}}
	got := Relabel(l)
	if diff := cmp.Diff([]int32{0, 2, 1, 2, 3}, got.Data); diff != "" {
		t.Fatalf("relabel mismatch (-want +got):\n%s", diff)
	}
	if !got.Contiguous() {
		t.Fatal("relabelled mask is not contiguous")
	}
}

func TestRestrictLabelsAlwaysContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	shape := models.Shape{Z: 2, Y: 8, X: 8}
	for i := 0; i < 100; i++ {
		l := randomLabels(rng, shape, 20)
		region := randomObjects(rng, shape, rng.Float64())

		got, err := RestrictLabels(l, region)
		if err != nil {
			t.Fatalf("RestrictLabels failed: %v", err)
		}
		if !got.Contiguous() {
			t.Fatalf("iteration %d: labels not contiguous (max %d, count %d)", i, got.Max(), got.Count())
		}

		clipped, err := ClipLabels(l, region)
		if err != nil {
			t.Fatalf("ClipLabels failed: %v", err)
		}
		if !clipped.Contiguous() {
			t.Fatalf("iteration %d: clipped labels not contiguous", i)
		}
	}
}

func TestRestrictLabelsMajorityPolicy(t *testing.T) {
	shape := models.Shape2D(1, 8)
	// Label 1 is 3/4 inside, label 2 exactly half inside, label 3 fully outside.
	l := &Labels{Shape: shape, Data: []int32{1, 1, 1, 1, 2, 2, 3, 3}}
	region := &Objects{Shape: shape, Data: []bool{true, true, true, false, true, false, false, false}}

	got, err := RestrictLabels(l, region)
	if err != nil {
		t.Fatalf("RestrictLabels failed: %v", err)
	}
	want := []int32{1, 1, 1, 1, 0, 0, 0, 0}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Fatalf("restrict mismatch (-want +got):\n%s", diff)
	}
}

func TestClipLabels(t *testing.T) {
	shape := models.Shape2D(1, 4)
	l := &Labels{Shape: shape, Data: []int32{1, 1, 2, 2}}
	region := &Objects{Shape: shape, Data: []bool{false, false, true, false}}

	got, err := ClipLabels(l, region)
	if err != nil {
		t.Fatalf("ClipLabels failed: %v", err)
	}
	if diff := cmp.Diff([]int32{0, 0, 1, 0}, got.Data); diff != "" {
		t.Fatalf("clip mismatch (-want +got):\n%s", diff)
	}
}

func TestAreasAndFingerprint(t *testing.T) {
	l := &Labels{Shape: models.Shape2D(1, 4), Data: []int32{0, 1, 2, 2}}
	if diff := cmp.Diff([]int{1, 1, 2}, Areas(l)); diff != "" {
		t.Fatalf("areas mismatch (-want +got):\n%s", diff)
	}
	if l.Fingerprint() != l.Clone().Fingerprint() {
		t.Fatal("fingerprint differs for identical masks")
	}
	other := l.Clone()
	other.Data[0] = 1
	if l.Fingerprint() == other.Fingerprint() {
		t.Fatal("fingerprint did not change with content")
	}
}
