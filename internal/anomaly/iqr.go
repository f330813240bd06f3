// Package anomaly classifies trip observations as clean or anomalous.
//
// Two strategies are provided: a rule-based speed filter working on loosely
// typed records, and an interquartile-range detector working on a sequence of
// numeric observations. Both are pure, hold no state beyond their immutable
// settings and may be shared between goroutines.
package anomaly

import (
	"math"
	"sort"
)

// DefaultMultiplier is the conventional Tukey fence multiplier.
const DefaultMultiplier = 1.5

// Fences holds the quartiles and outlier bounds computed for one input.
type Fences struct {
	Q1    float64
	Q3    float64
	IQR   float64
	Lower float64
	Upper float64
}

// Outside reports whether v lies strictly beyond either fence.
func (f Fences) Outside(v float64) bool {
	return v < f.Lower || v > f.Upper
}

func newFences(q1, q3, multiplier float64) Fences {
	iqr := q3 - q1
	return Fences{
		Q1:    q1,
		Q3:    q3,
		IQR:   iqr,
		Lower: q1 - multiplier*iqr,
		Upper: q3 + multiplier*iqr,
	}
}

// IQRDetector flags values outside Q1 - k*IQR and Q3 + k*IQR.
type IQRDetector struct {
	multiplier float64
}

// NewIQRDetector creates a detector with the given fence multiplier
func NewIQRDetector(multiplier float64) *IQRDetector {
	return &IQRDetector{multiplier: multiplier}
}

// Multiplier returns the fence multiplier the detector was built with.
func (d *IQRDetector) Multiplier() float64 {
	return d.multiplier
}

// Name identifies the detector in anomaly audit records.
func (d *IQRDetector) Name() string {
	return string(KindIQR)
}

// Fences computes quartiles and fences for values. The input is not modified.
// Every field is NaN for an empty input, so no value lies outside.
func (d *IQRDetector) Fences(values []float64) Fences {
	sorted := sortedCopy(values)
	return newFences(Quantile(sorted, 0.25), Quantile(sorted, 0.75), d.multiplier)
}

// Detect returns the positions of values inside the fences and of those
// outside them. Positions refer to the original, unsorted input and both
// slices are in ascending order.
func (d *IQRDetector) Detect(values []float64) (clean, outliers []int) {
	clean = []int{}
	outliers = []int{}
	if len(values) == 0 {
		return clean, outliers
	}

	fences := d.Fences(values)
	for i, v := range values {
		if fences.Outside(v) {
			outliers = append(outliers, i)
		} else {
			clean = append(clean, i)
		}
	}
	return clean, outliers
}

// Classify implements Classifier.
func (d *IQRDetector) Classify(values []float64) Partition {
	clean, outliers := d.Detect(values)
	return Partition{Clean: clean, Outliers: outliers}
}

// Quantile estimates the q-th quantile of an ascending slice by linear
// interpolation between the two closest ranks, the same estimator numpy and
// pandas use by default. When the position lands on the last index the last
// element is returned as is. An empty slice yields NaN.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := q * float64(n-1)
	lower := int(math.Floor(pos))
	upper := lower + 1

	if upper >= n {
		return sorted[n-1]
	}

	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
