package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const subsetMeterName = "github.com/modisviirs/subsetd/internal/subset"

// SubsetMetrics holds instruments for subset queries. A nil *SubsetMetrics records nothing.
type SubsetMetrics struct {
	requestTotal  metric.Int64Counter
	chunks        metric.Int64Histogram
	fetchDuration metric.Float64Histogram
	maskedCells   metric.Int64Counter
}

// NewSubsetMetrics creates the subset instruments on the global meter provider.
func NewSubsetMetrics() (*SubsetMetrics, error) {
	meter := otel.Meter(subsetMeterName)

	requestTotal, err := meter.Int64Counter(
		"subset.requests.total",
		metric.WithDescription("Requests sent to the subset service"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	chunks, err := meter.Int64Histogram(
		"subset.chunks",
		metric.WithDescription("Chunks needed per subset query"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"subset.fetch.duration",
		metric.WithDescription("Duration of complete subset queries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	maskedCells, err := meter.Int64Counter(
		"subset.qa.masked_cells",
		metric.WithDescription("Cells replaced by the fill value during QA filtering"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	return &SubsetMetrics{
		requestTotal:  requestTotal,
		chunks:        chunks,
		fetchDuration: fetchDuration,
		maskedCells:   maskedCells,
	}, nil
}

// RecordRequest counts one request to the service.
func (m *SubsetMetrics) RecordRequest(ctx context.Context, shape string, status int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("subset.shape", shape),
		attribute.Int("http.status_code", status),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFetch records a finished query.
func (m *SubsetMetrics) RecordFetch(ctx context.Context, shape string, chunks int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("subset.shape", shape)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	if shape == "subset" {
		m.chunks.Record(ctx, int64(chunks), metric.WithAttributes(attrs...))
	}
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordMasked counts cells masked in one band.
func (m *SubsetMetrics) RecordMasked(ctx context.Context, band string, cells int) {
	if m == nil {
		return
	}
	m.maskedCells.Add(ctx, int64(cells), metric.WithAttributes(attribute.String("subset.band", band)))
}
