package subset

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/modisviirs/subsetd/internal/telemetry"
)

const tracerName = "github.com/modisviirs/subsetd/internal/subset"

// Accept hints understood by the service.
const (
	AcceptJSON = "application/json"
	AcceptCSV  = "text/csv"
)

// Transport executes one request and returns the raw body and HTTP status code.
type Transport interface {
	Do(ctx context.Context, req Request, accept string) (body []byte, status int, err error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request, accept string) ([]byte, int, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req Request, accept string) ([]byte, int, error) {
	return f(ctx, req, accept)
}

// ServiceConfig holds configuration for the subset service.
type ServiceConfig struct {
	// Transport executes requests against the web service (required).
	Transport Transport

	// Config holds chunk size, fill value and endpoint. Zero fields take the DefaultConfig
	// values.
	Config Config

	// Logger for service operations.
	Logger zerolog.Logger

	// Metrics is optional.
	Metrics *telemetry.SubsetMetrics
}

// Service runs queries end to end: availability, chunking, requests and assembly.
// It keeps no per-query state and is safe for concurrent use.
type Service struct {
	transport Transport
	builder   *RequestBuilder
	chunkSize int
	fill      float64
	logger    zerolog.Logger
	metrics   *telemetry.SubsetMetrics
	tracer    trace.Tracer
}

// NewService creates a new subset service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("subset: transport is required")
	}

	c := cfg.Config
	defaults := DefaultConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = defaults.ChunkSize
	}
	if c.ChunkSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.BaseEndpoint == "" {
		c.BaseEndpoint = defaults.BaseEndpoint
	}
	if c.APIVersion == "" {
		c.APIVersion = defaults.APIVersion
	}

	return &Service{
		transport: cfg.Transport,
		builder:   NewRequestBuilder(c.BaseEndpoint, c.APIVersion),
		chunkSize: c.ChunkSize,
		fill:      fillOrNaN(c.FillValue),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// ChunkSize returns the configured maximum number of dates per subset request.
func (s *Service) ChunkSize() int {
	return s.chunkSize
}

// Endpoint returns the versioned service root requests are sent to.
func (s *Service) Endpoint() string {
	return s.builder.Root()
}

// Fetch runs q and returns the merged dataset. Any failing request aborts the whole query;
// no partial dataset is returned.
func (s *Service) Fetch(ctx context.Context, q Query) (*Dataset, error) {
	start := time.Now()
	shape := ShapeOf(q)

	ctx, span := s.tracer.Start(ctx, "subset.Fetch", trace.WithAttributes(
		attribute.String("subset.shape", shape.String()),
		attribute.String("subset.product", q.Product),
		attribute.String("subset.band", q.Band),
	))
	defer span.End()

	ds, requests, err := s.fetch(ctx, q)
	s.metrics.RecordFetch(ctx, shape.String(), requests, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).
			Str("shape", shape.String()).
			Str("product", q.Product).
			Str("band", q.Band).
			Msg("subset query failed")
		return nil, err
	}

	s.logger.Debug().
		Str("shape", shape.String()).
		Str("product", q.Product).
		Int("requests", requests).
		Int("dates", len(ds.Dates)).
		Int("bands", len(ds.Bands)).
		Dur("duration", time.Since(start)).
		Msg("subset query completed")
	return ds, nil
}

func (s *Service) fetch(ctx context.Context, q Query) (*Dataset, int, error) {
	requests, err := s.Plan(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	payloads, err := s.execute(ctx, requests)
	if err != nil {
		return nil, len(requests), err
	}
	ds, err := Assemble(payloads)
	if err != nil {
		return nil, len(requests), err
	}
	return ds, len(requests), nil
}

// Plan returns the requests Fetch would execute for q. For the subset shape it first resolves
// the available dates, which costs one request.
func (s *Service) Plan(ctx context.Context, q Query) ([]Request, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ShapeOf(q) != ShapeSubset {
		return s.builder.Build(q, nil)
	}

	dates, err := s.ResolveAvailability(ctx, q)
	if err != nil {
		return nil, err
	}
	chunks, err := ChunkDates(dates, s.chunkSize)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("product", q.Product).
		Int("available_dates", len(dates)).
		Int("chunks", len(chunks)).
		Int("chunk_size", s.chunkSize).
		Msg("planned chunked subset")

	return s.builder.Build(q, chunks)
}

// ResolveAvailability returns the ascending observation dates of q's product at q's location,
// restricted to q's date range when one is set.
func (s *Service) ResolveAvailability(ctx context.Context, q Query) ([]AvailableDate, error) {
	if !q.HasLocation() {
		return nil, ErrMissingLocation
	}

	payloads, err := s.execute(ctx, []Request{s.builder.DatesRequest(q)})
	if err != nil {
		return nil, fmt.Errorf("resolve available dates: %w", err)
	}
	dates, err := ParseAvailableDates(payloads[0])
	if err != nil {
		return nil, fmt.Errorf("resolve available dates: %w", err)
	}

	return FilterAvailable(dates, q.StartDate, q.EndDate), nil
}

// ListProducts returns every product offered by the service.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ds, err := s.Fetch(ctx, Query{})
	if err != nil {
		return nil, err
	}
	var products []Product
	if err := listAttribute(ds, "products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ListBands returns the bands of a product.
func (s *Service) ListBands(ctx context.Context, product string) ([]BandInfo, error) {
	if product == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidQuery)
	}
	ds, err := s.Fetch(ctx, Query{Product: product})
	if err != nil {
		return nil, err
	}
	var bands []BandInfo
	if err := listAttribute(ds, "bands", &bands); err != nil {
		return nil, err
	}
	return bands, nil
}

// ListDates returns every observation date of a product at a location.
func (s *Service) ListDates(ctx context.Context, product string, lat, lon float64) ([]AvailableDate, error) {
	if product == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidQuery)
	}
	return s.ResolveAvailability(ctx, Query{
		Product:   product,
		Band:      AllBands,
		Latitude:  &lat,
		Longitude: &lon,
	})
}

// FetchCSV runs a subset query with the CSV accept hint and returns one raw body per chunk.
func (s *Service) FetchCSV(ctx context.Context, q Query) ([][]byte, error) {
	if ShapeOf(q) != ShapeSubset {
		return nil, fmt.Errorf("%w: CSV is only available for subset queries", ErrInvalidQuery)
	}
	requests, err := s.Plan(ctx, q)
	if err != nil {
		return nil, err
	}

	bodies := make([][]byte, 0, len(requests))
	for i, req := range requests {
		body, err := s.do(ctx, req, AcceptCSV)
		if err != nil {
			return nil, fmt.Errorf("request %d of %d: %w", i+1, len(requests), err)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// FilterQA masks target cells whose quality code is not acceptable, using the configured fill
// value. It returns the number of masked cells.
func (s *Service) FilterQA(ctx context.Context, ds *Dataset, target, quality string, acceptable QualitySet) (int, error) {
	masked, err := NewQAFilter(s.fill).Apply(ds, target, quality, acceptable)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordMasked(ctx, target, masked)
	s.logger.Debug().
		Str("target", target).
		Str("quality", quality).
		Int("masked", masked).
		Msg("qa filter applied")
	return masked, nil
}

// execute runs requests strictly in order and decodes every body.
func (s *Service) execute(ctx context.Context, requests []Request) ([]Payload, error) {
	payloads := make([]Payload, 0, len(requests))
	for i, req := range requests {
		body, err := s.do(ctx, req, AcceptJSON)
		if err != nil {
			return nil, fmt.Errorf("request %d of %d: %w", i+1, len(requests), err)
		}
		p, err := DecodePayload(body)
		if err != nil {
			return nil, fmt.Errorf("request %d of %d: %w", i+1, len(requests), err)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (s *Service) do(ctx context.Context, req Request, accept string) ([]byte, error) {
	attrs := []attribute.KeyValue{attribute.String("subset.shape", req.Shape.String())}
	if req.Chunk != nil {
		attrs = append(attrs,
			attribute.String("subset.chunk.start", req.Chunk.Start.Native),
			attribute.String("subset.chunk.end", req.Chunk.End.Native),
			attribute.Int("subset.chunk.dates", req.Chunk.Count),
		)
	}
	ctx, span := s.tracer.Start(ctx, "subset.request", trace.WithAttributes(attrs...))
	defer span.End()

	s.logger.Debug().
		Str("url", req.URL()).
		Str("accept", accept).
		Msg("sending subset request")

	body, status, err := s.transport.Do(ctx, req, accept)
	if err == nil && status != http.StatusOK {
		err = &ServerError{StatusCode: status, Body: describeErrorBody(body)}
	}
	s.metrics.RecordRequest(ctx, req.Shape.String(), status, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.body.size", len(body)))
	return body, nil
}
