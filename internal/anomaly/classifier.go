package anomaly

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind selects a classification strategy.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindIQR       Kind = "iqr"
)

// ErrUnknownClassifier is returned by NewClassifier for an unsupported kind.
var ErrUnknownClassifier = errors.New("unknown classifier")

// Partition assigns every input position to exactly one class.
type Partition struct {
	Clean    []int
	Outliers []int
}

// Len returns the number of classified positions.
func (p Partition) Len() int {
	return len(p.Clean) + len(p.Outliers)
}

// Classifier partitions a sequence of numeric observations by position.
type Classifier interface {
	Classify(values []float64) Partition
	Name() string
}

// Settings carries the parameters of every classifier kind.
type Settings struct {
	Multiplier     float64
	SpeedThreshold float64
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Multiplier:     DefaultMultiplier,
		SpeedThreshold: DefaultSpeedThreshold,
	}
}

// ParseKind normalises a configured classifier name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindThreshold, KindIQR:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownClassifier, s)
	}
}

// NewClassifier builds the classifier selected by kind
func NewClassifier(kind Kind, s Settings) (Classifier, error) {
	switch kind {
	case KindThreshold:
		return NewThresholdClassifier(s.SpeedThreshold), nil
	case KindIQR:
		return NewIQRDetector(s.Multiplier), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassifier, kind)
	}
}

// ThresholdClassifier flags observations above a fixed ceiling. It is the
// numeric counterpart of SpeedFilter: a zero duration upstream shows up here
// as an infinite or NaN speed, and both are flagged.
type ThresholdClassifier struct {
	threshold float64
}

// NewThresholdClassifier creates a classifier with the given ceiling
func NewThresholdClassifier(threshold float64) *ThresholdClassifier {
	return &ThresholdClassifier{threshold: threshold}
}

// Name identifies the classifier in anomaly audit records.
func (c *ThresholdClassifier) Name() string {
	return string(KindThreshold)
}

// Classify implements Classifier.
func (c *ThresholdClassifier) Classify(values []float64) Partition {
	p := Partition{Clean: []int{}, Outliers: []int{}}
	for i, v := range values {
		if math.IsNaN(v) || v > c.threshold {
			p.Outliers = append(p.Outliers, i)
		} else {
			p.Clean = append(p.Clean, i)
		}
	}
	return p
}
