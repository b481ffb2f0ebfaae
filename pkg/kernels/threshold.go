package kernels

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"infersubc/internal/models"
	"infersubc/pkg/mask"
)

// Threshold method names accepted by the threshold_method option.
const (
	MethodOtsu      = "otsu"
	MethodTriangle  = "triangle"
	MethodMedian    = "median"
	MethodMean      = "mean"
	MethodAveTriMed = "ave_tri_med"
)

// Methods lists every supported global threshold method.
var Methods = []string{MethodOtsu, MethodTriangle, MethodMedian, MethodMean, MethodAveTriMed}

const histogramBins = 256

// GlobalThreshold computes a global threshold of values with the named
// method.
func GlobalThreshold(values []float64, method string) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("threshold of empty sample")
	}
	switch method {
	case MethodOtsu:
		return otsu(values), nil
	case MethodTriangle:
		return triangle(values), nil
	case MethodMedian:
		return quantile(values, 0.5), nil
	case MethodMean:
		return stat.Mean(values, nil), nil
	case MethodAveTriMed:
		return (triangle(values) + quantile(values, 0.5)) / 2, nil
	default:
		return 0, fmt.Errorf("unknown threshold method %q", method)
	}
}

func quantile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

type histogram struct {
	counts []float64
	lo     float64
	width  float64
}

func newHistogram(values []float64) histogram {
	lo, hi := floats.Min(values), floats.Max(values)
	h := histogram{counts: make([]float64, histogramBins), lo: lo}
	if hi == lo {
		h.width = 1
		h.counts[0] = float64(len(values))
		return h
	}
	h.width = (hi - lo) / histogramBins
	for _, v := range values {
		bin := int((v - lo) / h.width)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		h.counts[bin]++
	}
	return h
}

// edge returns the upper edge of bin i, so "value > edge(i)" selects bins
// above i.
func (h histogram) edge(i int) float64 {
	return h.lo + float64(i+1)*h.width
}

// otsu maximises the between-class variance of the histogram.
func otsu(values []float64) float64 {
	h := newHistogram(values)
	total := floats.Sum(h.counts)

	var sumAll float64
	for i, c := range h.counts {
		sumAll += float64(i) * c
	}

	var (
		weightB, sumB float64
		best          = -1.0
		bestBin       int
	)
	for i, c := range h.counts {
		weightB += c
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(i) * c
		meanB := sumB / weightB
		meanF := (sumAll - sumB) / weightF
		between := weightB * weightF * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			bestBin = i
		}
	}
	return h.edge(bestBin)
}

// triangle places the threshold at the histogram bin farthest from the line
// joining the histogram peak to the far end of the longer tail.
func triangle(values []float64) float64 {
	h := newHistogram(values)
	peak := floats.MaxIdx(h.counts)

	first, last := 0, len(h.counts)-1
	for first < last && h.counts[first] == 0 {
		first++
	}
	for last > first && h.counts[last] == 0 {
		last--
	}

	end := last
	if peak-first > last-peak {
		end = first
	}
	if end == peak {
		return h.edge(peak)
	}

	x1, y1 := float64(peak), h.counts[peak]
	x2, y2 := float64(end), h.counts[end]
	norm := math.Hypot(y2-y1, x2-x1)

	lo, hi := peak, end
	if lo > hi {
		lo, hi = hi, lo
	}
	bestBin, bestDist := peak, -1.0
	for i := lo; i <= hi; i++ {
		d := math.Abs((y2-y1)*float64(i)-(x2-x1)*h.counts[i]+x2*y1-y2*x1) / norm
		if d > bestDist {
			bestDist = d
			bestBin = i
		}
	}
	return h.edge(bestBin)
}

// ApplyThreshold returns the voxels strictly above level. When region is
// non-nil, voxels outside it are never set.
func ApplyThreshold(data []float64, shape models.Shape, level float64, region *mask.Objects) *mask.Objects {
	out := mask.NewObjects(shape)
	for i, v := range data {
		out.Data[i] = v > level && (region == nil || region.Data[i])
	}
	return out
}

// regionValues returns the samples inside region, or all samples when
// region is nil.
func regionValues(data []float64, region *mask.Objects) []float64 {
	if region == nil {
		return data
	}
	values := make([]float64, 0, len(data))
	for i, v := range data {
		if region.Data[i] {
			values = append(values, v)
		}
	}
	return values
}

// MaskedObjectThreshold is a two-pass threshold: a global pass finds
// candidate objects, then every candidate of at least cutoffSize voxels is
// re-thresholded locally with Otsu scaled by adjust. Smaller candidates are
// kept as found by the global pass.
func MaskedObjectThreshold(data []float64, shape models.Shape, method string, adjust float64, cutoffSize int, region *mask.Objects) (*mask.Objects, error) {
	values := regionValues(data, region)
	if len(values) == 0 {
		return mask.NewObjects(shape), nil
	}
	level, err := GlobalThreshold(values, method)
	if err != nil {
		return nil, err
	}

	candidates := mask.Label(ApplyThreshold(data, shape, level, region), mask.Face)
	areas := mask.Areas(candidates)

	members := make(map[int32][]float64)
	for i, v := range candidates.Data {
		if v > 0 && areas[v] >= cutoffSize {
			members[v] = append(members[v], data[i])
		}
	}
	local := make(map[int32]float64, len(members))
	for v, samples := range members {
		local[v] = otsu(samples) * adjust
	}

	out := mask.NewObjects(shape)
	for i, v := range candidates.Data {
		if v == 0 {
			continue
		}
		if t, ok := local[v]; ok {
			out.Data[i] = data[i] > t
		} else {
			out.Data[i] = true
		}
	}
	return out, nil
}
