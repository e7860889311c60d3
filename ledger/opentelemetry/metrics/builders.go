package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilCounter is returned when a counter builder has no instrument.
	ErrNilCounter = errors.New("counter instrument is nil")
	// ErrNilHistogram is returned when a histogram builder has no instrument.
	ErrNilHistogram = errors.New("histogram instrument is nil")
)

// CounterBuilder records counter increments with a fixed attribute set.
type CounterBuilder struct {
	counter metric.Int64Counter
	name    string
	attrs   []attribute.KeyValue
}

// WithAttributes returns a copy of the builder with attrs appended.
func (c *CounterBuilder) WithAttributes(attrs ...attribute.KeyValue) *CounterBuilder {
	merged := make([]attribute.KeyValue, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)

	return &CounterBuilder{counter: c.counter, name: c.name, attrs: merged}
}

// Add records a counter increment
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}

// HistogramBuilder records histogram samples with a fixed attribute set.
type HistogramBuilder struct {
	histogram metric.Int64Histogram
	name      string
	attrs     []attribute.KeyValue
}

// WithAttributes returns a copy of the builder with attrs appended.
func (h *HistogramBuilder) WithAttributes(attrs ...attribute.KeyValue) *HistogramBuilder {
	merged := make([]attribute.KeyValue, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &HistogramBuilder{histogram: h.histogram, name: h.name, attrs: merged}
}

// Record records a histogram value
func (h *HistogramBuilder) Record(ctx context.Context, value int64) error {
	if h.histogram == nil {
		return ErrNilHistogram
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))

	return nil
}
