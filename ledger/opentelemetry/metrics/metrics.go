package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MetricsFactory creates OpenTelemetry instruments on first use and caches
// them by name.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// For histograms: bucket boundaries
	Buckets []float64
}

// DefaultLatencyBuckets are millisecond boundaries for transfer latency.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// NewMetricsFactory creates a new MetricsFactory instance.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &MetricsFactory{
		meter:  meter,
		logger: logger,
	}, nil
}

// NewNopFactory returns a MetricsFactory backed by OpenTelemetry's no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns a builder for it.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter, name: m.Name}, nil
}

// Histogram creates or retrieves a histogram and returns a builder for it.
// Missing buckets default to DefaultLatencyBuckets.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = DefaultLatencyBuckets
	}

	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram, name: m.Name}, nil
}

func (f *MetricsFactory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if counter, exists := f.counters.Load(m.Name); exists {
		if c, ok := counter.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	counter, err := f.meter.Int64Counter(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create counter metric", log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	if actual, loaded := f.counters.LoadOrStore(m.Name, counter); loaded {
		if c, ok := actual.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

// Histograms are keyed by name plus sorted buckets so two bucket layouts
// never share an instrument.
func (f *MetricsFactory) getOrCreateHistogram(m Metric) (metric.Int64Histogram, error) {
	cacheKey := histogramCacheKey(m.Name, m.Buckets)

	if histogram, exists := f.histograms.Load(cacheKey); exists {
		if h, ok := histogram.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", cacheKey)
	}

	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if m.Buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	histogram, err := f.meter.Int64Histogram(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create histogram metric", log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	if actual, loaded := f.histograms.LoadOrStore(cacheKey, histogram); loaded {
		if h, ok := actual.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", cacheKey)
	}

	return histogram, nil
}

func histogramCacheKey(name string, buckets []float64) string {
	if len(buckets) == 0 {
		return name
	}

	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	parts := make([]string, len(sorted))
	for i, b := range sorted {
		parts[i] = strconv.FormatFloat(b, 'g', -1, 64)
	}

	return name + ":" + strings.Join(parts, ",")
}
