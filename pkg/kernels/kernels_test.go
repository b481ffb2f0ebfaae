package kernels

import (
	"context"
	"math"
	"testing"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
	"infersubc/pkg/params"
)

// bimodal returns a plane with a bright square on a dark background.
func bimodal(shape models.Shape, y0, x0, y1, x1 int) []float64 {
	data := make([]float64, shape.Len())
	for y := 0; y < shape.Y; y++ {
		for x := 0; x < shape.X; x++ {
			v := 0.1
			if y >= y0 && y < y1 && x >= x0 && x < x1 {
				v = 0.9
			}
			data[shape.Index(0, y, x)] = v
		}
	}
	return data
}

func testParams(t *testing.T, overrides map[string]any) params.Params {
	t.Helper()
	schema := params.Schema{Stage: "test", Version: 1, Fields: []params.Field{
		{Name: OptMedianSize, Type: params.Int, Default: 0},
		{Name: OptSmoothingSigma, Type: params.Float, Default: 0.0},
		{Name: OptThresholdMethod, Type: params.Enum, Default: MethodOtsu, Enum: Methods},
		{Name: OptThresholdAdjust, Type: params.Float, Default: 1.0},
		{Name: OptCutoffSize, Type: params.Int, Default: 1000},
		{Name: OptDotSigma, Type: params.Float, Default: 1.0},
		{Name: OptDotCut, Type: params.Float, Default: 0.0},
		{Name: OptMinThickness, Type: params.Float, Default: 1.6},
		{Name: OptThin, Type: params.Int, Default: 0},
		{Name: OptMinObjectSize, Type: params.Int, Default: 1},
		{Name: OptFillHoles, Type: params.Bool, Default: true},
		{Name: OptKeepLargest, Type: params.Bool, Default: false},
		{Name: OptViableSignalMin, Type: params.Float, Default: 0.0},
	}}
	p, err := schema.New(overrides)
	if err != nil {
		t.Fatalf("failed to build params: %v", err)
	}
	return p
}

func TestGlobalThresholdSeparatesModes(t *testing.T) {
	shape := models.Shape2D(10, 10)
	data := bimodal(shape, 2, 2, 6, 6)

	for _, method := range Methods {
		level, err := GlobalThreshold(data, method)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if method == MethodMedian || method == MethodAveTriMed {
			// The dark mode is the majority, so the median sits on it.
			if level < 0.1 || level > 0.9 {
				t.Errorf("%s: level %.3f outside data range", method, level)
			}
			continue
		}
		if level < 0.1 || level >= 0.9 {
			t.Errorf("%s: level %.3f does not separate 0.1 from 0.9", method, level)
		}
	}

	if _, err := GlobalThreshold(data, "kmeans"); err == nil {
		t.Error("expected error for unknown method")
	}
	if _, err := GlobalThreshold(nil, MethodOtsu); err == nil {
		t.Error("expected error for empty sample")
	}
}

func TestNormalize(t *testing.T) {
	data := []float64{2, 4, 6}
	Normalize(data)
	want := []float64{0, 0.5, 1}
	for i := range want {
		if math.Abs(data[i]-want[i]) > 1e-12 {
			t.Fatalf("Normalize = %v, want %v", data, want)
		}
	}

	flat := []float64{3, 3}
	Normalize(flat)
	if flat[0] != 0 || flat[1] != 0 {
		t.Fatalf("constant input should normalise to 0, got %v", flat)
	}
}

func TestMedianFilterRemovesSpeck(t *testing.T) {
	shape := models.Shape2D(5, 5)
	data := make([]float64, shape.Len())
	data[shape.Index(0, 2, 2)] = 1
	out := MedianFilter(data, shape, 3)
	if out[shape.Index(0, 2, 2)] != 0 {
		t.Fatalf("median filter kept isolated speck: %v", out[shape.Index(0, 2, 2)])
	}
	if data[shape.Index(0, 2, 2)] != 1 {
		t.Fatal("median filter modified its input")
	}
}

func TestGaussianSmoothPreservesConstant(t *testing.T) {
	shape := models.Shape{Z: 2, Y: 4, X: 4}
	data := make([]float64, shape.Len())
	for i := range data {
		data[i] = 0.5
	}
	out := GaussianSmooth(data, shape, 1.5)
	for i, v := range out {
		if math.Abs(v-0.5) > 1e-9 {
			t.Fatalf("voxel %d = %v, want 0.5", i, v)
		}
	}
}

func TestFillHoles(t *testing.T) {
	shape := models.Shape2D(5, 5)
	ring := mask.NewObjects(shape)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			ring.Data[shape.Index(0, y, x)] = !(y == 2 && x == 2)
		}
	}
	filled := FillHoles(ring)
	if !filled.Data[shape.Index(0, 2, 2)] {
		t.Fatal("hole was not filled")
	}
	if filled.Data[0] {
		t.Fatal("border background was filled")
	}
}

func TestSizeFilter(t *testing.T) {
	shape := models.Shape2D(1, 6)
	o := &mask.Objects{Shape: shape, Data: []bool{true, false, true, true, true, false}}
	out := SizeFilter(o, 2, mask.Face)
	want := []bool{false, false, true, true, true, false}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("SizeFilter = %v, want %v", out.Data, want)
		}
	}
}

func TestErodeDilate(t *testing.T) {
	shape := models.Shape2D(5, 5)
	square := mask.NewObjects(shape)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			square.Data[shape.Index(0, y, x)] = true
		}
	}
	eroded := Erode(square, 1)
	if eroded.Count() != 1 || !eroded.Data[shape.Index(0, 2, 2)] {
		t.Fatalf("erosion of 3x3 square should leave the centre, got %d voxels", eroded.Count())
	}
	dilated := Dilate(eroded, 1)
	if dilated.Count() != 5 {
		t.Fatalf("dilating a single voxel should give a cross of 5, got %d", dilated.Count())
	}
	single := mask.ObjectsFromPoints(shape, [3]int{0, 0, 0})
	if !Erode(single, 1).Empty() {
		t.Fatal("single voxel should erode away")
	}
}

// bar returns a 3-voxel-thick horizontal bar in a 7x10 plane.
func bar() *mask.Objects {
	shape := models.Shape2D(7, 10)
	o := mask.NewObjects(shape)
	for y := 2; y <= 4; y++ {
		for x := 1; x <= 8; x++ {
			o.Data[shape.Index(0, y, x)] = true
		}
	}
	return o
}

func TestSkeleton(t *testing.T) {
	o := bar()
	skel := Skeleton(o)
	if !skel.Data[o.Shape.Index(0, 3, 4)] {
		t.Fatal("skeleton of a bar should keep its centre line")
	}
	if skel.Count() >= o.Count() {
		t.Fatalf("skeleton kept %d of %d voxels", skel.Count(), o.Count())
	}
	for i, v := range skel.Data {
		if v && !o.Data[i] {
			t.Fatalf("skeleton voxel %d outside the mask", i)
		}
	}

	line := mask.NewObjects(models.Shape2D(3, 6))
	for x := 1; x <= 4; x++ {
		line.Data[line.Shape.Index(0, 1, x)] = true
	}
	if got := Skeleton(line).Count(); got != 4 {
		t.Fatalf("one-voxel line should be its own skeleton, got %d voxels", got)
	}
}

func TestThinPreservingTopology(t *testing.T) {
	o := bar()
	edge, centre := o.Shape.Index(0, 2, 4), o.Shape.Index(0, 3, 4)
	bottom := o.Shape.Index(0, 4, 4)

	kept := ThinPreservingTopology(o, 1.6, 1)
	if !kept.Data[edge] || !kept.Data[bottom] {
		t.Fatal("voxels within min thickness of the skeleton should survive thinning")
	}

	thinned := ThinPreservingTopology(o, 0.5, 1)
	if thinned.Data[edge] || thinned.Data[bottom] {
		t.Fatal("boundary voxels away from the skeleton should be thinned")
	}
	if !thinned.Data[centre] {
		t.Fatal("interior voxels should never be thinned")
	}
	if thinned.Count() >= o.Count() {
		t.Fatalf("thinning kept %d of %d voxels", thinned.Count(), o.Count())
	}

	if got := ThinPreservingTopology(o, 0.5, 0); got.Count() != o.Count() {
		t.Fatalf("thin=0 should leave the mask unchanged, got %d of %d voxels", got.Count(), o.Count())
	}
}

func TestKeepLargest(t *testing.T) {
	l := &mask.Labels{Shape: models.Shape2D(1, 6), Data: []int32{1, 0, 2, 2, 2, 0}}
	out := KeepLargest(l)
	want := []int32{0, 0, 1, 1, 1, 0}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("KeepLargest = %v, want %v", out.Data, want)
		}
	}
	if !KeepLargest(mask.NewLabels(models.Shape2D(1, 2))).Empty() {
		t.Fatal("KeepLargest of empty mask should be empty")
	}
}

func TestSomaKernel(t *testing.T) {
	shape := models.Shape2D(12, 12)
	data := bimodal(shape, 2, 2, 8, 8)
	// second, smaller body
	data[shape.Index(0, 10, 10)] = 0.9
	data[shape.Index(0, 10, 11)] = 0.9

	out, err := Soma().Segment(context.Background(), Input{
		Shape:  shape,
		Data:   data,
		Params: testParams(t, map[string]any{OptKeepLargest: true}),
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if err := out.Validate(shape); err != nil {
		t.Fatalf("invalid output: %v", err)
	}
	if got := out.Labels.Count(); got != 1 {
		t.Fatalf("expected one soma, got %d", got)
	}
	if got := out.Labels.Objects().Count(); got != 36 {
		t.Fatalf("expected 36 soma voxels, got %d", got)
	}
}

func TestOrganelleKernelRespectsRegion(t *testing.T) {
	shape := models.Shape2D(10, 10)
	data := bimodal(shape, 0, 0, 10, 10)
	for i := range data {
		if i%7 == 0 {
			data[i] = 0.95
		} else {
			data[i] = 0.05
		}
	}
	region := mask.NewObjects(shape)
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			region.Data[shape.Index(0, y, x)] = true
		}
	}

	out, err := Organelle("lysosome").Segment(context.Background(), Input{
		Shape:  shape,
		Data:   data,
		Region: region,
		Params: testParams(t, map[string]any{OptDotCut: 0.01}),
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if out.Objects == nil || out.Objects.Empty() {
		t.Fatal("expected organelle voxels inside the region")
	}
	for i, v := range out.Objects.Data {
		if v && !region.Data[i] {
			t.Fatalf("voxel %d set outside region", i)
		}
	}
}

func TestViableSignal(t *testing.T) {
	shape := models.Shape2D(1, 3)
	out, err := ViableSignal().Segment(context.Background(), Input{
		Shape:  shape,
		Data:   []float64{0, 0.2, 0.5},
		Params: testParams(t, map[string]any{OptViableSignalMin: 0.2}),
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	want := []bool{false, true, true}
	for i := range want {
		if out.Objects.Data[i] != want[i] {
			t.Fatalf("ViableSignal = %v, want %v", out.Objects.Data, want)
		}
	}
}

func TestKernelHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Nuclei().Segment(ctx, Input{Shape: models.Shape2D(1, 1), Data: []float64{1}, Params: testParams(t, nil)})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestOutputValidate(t *testing.T) {
	shape := models.Shape2D(2, 2)
	if err := (Output{}).Validate(shape); err == nil {
		t.Error("empty output should be invalid")
	}
	if err := (Output{Objects: mask.NewObjects(models.Shape2D(1, 1))}).Validate(shape); err == nil {
		t.Error("wrong-shaped output should be invalid")
	}
	bad := &mask.Labels{Shape: shape, Data: []int32{0, -1, 0, 0}}
	if err := (Output{Labels: bad}).Validate(shape); err == nil {
		t.Error("negative labels should be invalid")
	}
}

func TestReferenceRegistryCoversStages(t *testing.T) {
	reg := Reference()
	for _, name := range []string{"soma", "nuclei", "cytosol", "lysosome", "mitochondria", "golgi", "peroxisome", "er", "lipid_body"} {
		if reg[name] == nil {
			t.Errorf("no reference kernel for %s", name)
		}
	}
}
