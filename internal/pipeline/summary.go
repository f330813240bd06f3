package pipeline

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Summary reports how many rows each stage kept
type Summary struct {
	Original         int            `json:"original"`
	Excluded         int            `json:"excluded"`
	Clean            int            `json:"clean"`
	Anomalies        int            `json:"anomalies"`
	RetentionPct     float64        `json:"retention_pct"`
	ExcludedByReason map[string]int `json:"excluded_by_reason"`
}

// Summarize builds the summary of a result read from original rows
func Summarize(original int, res *Result) Summary {
	s := Summary{
		Original:         original,
		Excluded:         len(res.Excluded),
		Clean:            len(res.Clean),
		Anomalies:        len(res.Anomalies),
		ExcludedByReason: make(map[string]int),
	}
	for _, e := range res.Excluded {
		s.ExcludedByReason[e.Reason]++
	}
	if original > 0 {
		s.RetentionPct = float64(s.Clean) / float64(original) * 100
	}
	return s
}

// Fields returns the summary as log fields
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("original", s.Original),
		zap.Int("excluded", s.Excluded),
		zap.Int("clean", s.Clean),
		zap.Int("anomalies", s.Anomalies),
		zap.Float64("retention_pct", s.RetentionPct),
		zap.Any("excluded_by_reason", s.ExcludedByReason),
	}
}

// WriteTo prints a human readable report
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"Original records:  %d\nExcluded:          %d\nClean:             %d\nAnomalies:         %d\nRetention:         %.2f%%\n",
		s.Original, s.Excluded, s.Clean, s.Anomalies, s.RetentionPct)
	return int64(n), err
}
