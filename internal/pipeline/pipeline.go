// Package pipeline turns raw trip rows into a clean partition and an
// anomaly partition and hands both to a sink.
//
// A run is configured once: the cleaning bounds and the classifier are fixed
// when the Pipeline is built and shared by every Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/anomaly"
	"github.com/smukkama/mobility-server/internal/observability"
	"github.com/smukkama/mobility-server/internal/trip"
)

// SpeedRuleName is recorded as the classifier of anomalies found by the
// rule-based speed filter
const SpeedRuleName = "speed_rule"

// Sink receives the output of a run
type Sink interface {
	WriteTrips(ctx context.Context, trips []trip.Trip) (int64, error)
	WriteAnomalies(ctx context.Context, anomalies []trip.Anomaly) (int64, error)
}

// Pipeline cleans, derives features and classifies trips
type Pipeline struct {
	cleaner    *trip.Cleaner
	classifier anomaly.Classifier
	filter     *anomaly.SpeedFilter
	logger     *zap.Logger
	metrics    *observability.Metrics

	now   func() time.Time
	newID func() string
}

// Options configures a Pipeline
type Options struct {
	Bounds     trip.Bounds
	Classifier anomaly.Classifier
	// SpeedFilter is used by RunCleaned. Defaults to the 150 km/h rule.
	SpeedFilter *anomaly.SpeedFilter
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// New validates the options and builds a Pipeline
func New(opts Options) (*Pipeline, error) {
	if err := opts.Bounds.Validate(); err != nil {
		return nil, err
	}
	if opts.Classifier == nil {
		return nil, errors.New("pipeline requires a classifier")
	}
	if opts.SpeedFilter == nil {
		opts.SpeedFilter = anomaly.NewSpeedFilter(anomaly.DefaultSpeedThreshold)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pipeline{
		cleaner:    trip.NewCleaner(opts.Bounds),
		classifier: opts.Classifier,
		filter:     opts.SpeedFilter,
		logger:     opts.Logger.Named("pipeline"),
		metrics:    opts.Metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Result is the output of one run. Clean and Anomalies partition the rows
// that survived cleaning.
type Result struct {
	RunID      string
	Classifier string
	Clean      []trip.Trip
	Anomalies  []trip.Anomaly
	Excluded   []trip.Exclusion
	Summary    Summary
}

// Run cleans the raw rows, derives features and splits the kept trips by
// speed with the configured classifier.
func (p *Pipeline) Run(ctx context.Context, raw []trip.RawTrip) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := p.newID()
	logger := p.logger.With(zap.String("run_id", runID), zap.String("classifier", p.classifier.Name()))
	logger.Info("pipeline run started", zap.Int("rows", len(raw)))

	start := p.now()
	kept, excluded := p.cleaner.Clean(raw)
	p.observe("clean", start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = p.now()
	speeds := trip.Speeds(kept)
	part := p.classifier.Classify(speeds)
	p.observe("classify", start)

	detectedAt := p.now().UTC()
	res := &Result{
		RunID:      runID,
		Classifier: p.classifier.Name(),
		Clean:      make([]trip.Trip, 0, len(part.Clean)),
		Anomalies:  make([]trip.Anomaly, 0, len(part.Outliers)),
		Excluded:   excluded,
	}
	for _, i := range part.Clean {
		res.Clean = append(res.Clean, kept[i])
	}
	for _, i := range part.Outliers {
		t := kept[i]
		res.Anomalies = append(res.Anomalies, trip.Anomaly{
			TripID:     t.ID,
			Trip:       &t,
			RunID:      runID,
			Classifier: res.Classifier,
			Reason:     fmt.Sprintf("trip_speed_kmh %.2f flagged by %s", t.SpeedKmh, res.Classifier),
			DetectedAt: detectedAt,
		})
	}

	res.Summary = Summarize(len(raw), res)
	p.record(res)
	logger.Info("pipeline run finished", res.Summary.Fields()...)
	return res, nil
}

// RunCleaned applies the rule-based speed filter to records of the cleaned
// file layout. Valid records that cannot be parsed are excluded as
// malformed, and those that parse but cannot be stored as trips are excluded
// with the violated rule. Anomalous records are kept for audit whether or
// not they parse.
func (p *Pipeline) RunCleaned(ctx context.Context, records []trip.Record) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := p.newID()
	logger := p.logger.With(zap.String("run_id", runID), zap.String("classifier", SpeedRuleName))
	logger.Info("pipeline run started", zap.Int("records", len(records)))

	fields := make([]anomaly.Fields, len(records))
	for i, rec := range records {
		fields[i] = anomaly.Fields(rec)
	}

	start := p.now()
	valid, anomalous := p.filter.Partition(fields)
	p.observe("classify", start)

	detectedAt := p.now().UTC()
	res := &Result{
		RunID:      runID,
		Classifier: SpeedRuleName,
		Clean:      make([]trip.Trip, 0, len(valid)),
		Anomalies:  make([]trip.Anomaly, 0, len(anomalous)),
	}

	for _, f := range valid {
		rec := trip.Record(f)
		t, err := trip.ParseRecord(rec)
		if err != nil {
			logger.Debug("skipping malformed record", zap.String("id", rec[trip.ColID]), zap.Error(err))
			res.Excluded = append(res.Excluded, trip.Exclusion{Row: rec.Raw(), Reason: trip.ReasonMalformed})
			continue
		}
		if reason := t.Unstorable(); reason != "" {
			logger.Debug("skipping unstorable record", zap.String("id", t.ID), zap.String("reason", reason))
			res.Excluded = append(res.Excluded, trip.Exclusion{Row: rec.Raw(), Reason: reason})
			continue
		}
		res.Clean = append(res.Clean, t)
	}

	reason := fmt.Sprintf("speed above %.0f km/h, zero duration or unreadable", p.filter.Threshold())
	for _, f := range anomalous {
		rec := trip.Record(f)
		a := trip.Anomaly{
			TripID:     rec[trip.ColID],
			RunID:      runID,
			Classifier: SpeedRuleName,
			Reason:     reason,
			DetectedAt: detectedAt,
		}
		if t, err := trip.ParseRecord(rec); err == nil {
			a.Trip = &t
		} else {
			a.Record = rec
		}
		res.Anomalies = append(res.Anomalies, a)
	}

	res.Summary = Summarize(len(records), res)
	p.record(res)
	logger.Info("pipeline run finished", res.Summary.Fields()...)
	return res, nil
}

// Delivery counts the rows a sink accepted
type Delivery struct {
	Trips     int64
	Anomalies int64
}

// Deliver writes both partitions of a result to the sink, clean trips first
func (p *Pipeline) Deliver(ctx context.Context, res *Result, sink Sink) (*Delivery, error) {
	start := p.now()
	defer p.observe("deliver", start)

	trips, err := sink.WriteTrips(ctx, res.Clean)
	if err != nil {
		return nil, fmt.Errorf("failed to deliver trips for run %s: %w", res.RunID, err)
	}

	anomalies, err := sink.WriteAnomalies(ctx, res.Anomalies)
	if err != nil {
		return &Delivery{Trips: trips}, fmt.Errorf("failed to deliver anomalies for run %s: %w", res.RunID, err)
	}

	p.logger.Info("run delivered",
		zap.String("run_id", res.RunID),
		zap.Int64("trips", trips),
		zap.Int64("anomalies", anomalies))
	return &Delivery{Trips: trips, Anomalies: anomalies}, nil
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.PipelineDuration.WithLabelValues(stage).Observe(p.now().Sub(start).Seconds())
	}
}

func (p *Pipeline) record(res *Result) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordsRead.Add(float64(res.Summary.Original))
	for reason, n := range res.Summary.ExcludedByReason {
		p.metrics.RecordsExcluded.WithLabelValues(reason).Add(float64(n))
	}
	p.metrics.RecordsClassified.WithLabelValues(res.Classifier, "clean").Add(float64(len(res.Clean)))
	p.metrics.RecordsClassified.WithLabelValues(res.Classifier, "anomaly").Add(float64(len(res.Anomalies)))
}
