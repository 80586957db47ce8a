package subset

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Shape identifies which kind of request a Query produces.
type Shape int

const (
	// ShapeProducts lists every product offered by the service.
	ShapeProducts Shape = iota
	// ShapeBands lists the bands of one product.
	ShapeBands
	// ShapeDates lists the observation dates of a product at a location.
	ShapeDates
	// ShapeSubset fetches data for a date range, one request per chunk.
	ShapeSubset
)

func (s Shape) String() string {
	switch s {
	case ShapeProducts:
		return "products"
	case ShapeBands:
		return "bands"
	case ShapeDates:
		return "dates"
	case ShapeSubset:
		return "subset"
	default:
		return "unknown"
	}
}

// ShapeOf selects the request shape from the populated Query fields. Precedence: no product,
// then no band, then no complete date range, otherwise a chunked subset.
func ShapeOf(q Query) Shape {
	switch {
	case q.Product == "":
		return ShapeProducts
	case q.Band == "":
		return ShapeBands
	case !q.HasDateRange():
		return ShapeDates
	default:
		return ShapeSubset
	}
}

// Request is one fully formed request against the service.
type Request struct {
	Shape    Shape
	Endpoint string
	Params   url.Values
	// Chunk is set for subset requests only.
	Chunk *Chunk
}

// URL returns the endpoint with its encoded query string.
func (r Request) URL() string {
	if len(r.Params) == 0 {
		return r.Endpoint
	}
	return r.Endpoint + "?" + r.Params.Encode()
}

// RequestBuilder turns queries into request descriptors.
type RequestBuilder struct {
	root string
}

// NewRequestBuilder creates a builder rooted at baseEndpoint/apiVersion/.
func NewRequestBuilder(baseEndpoint, apiVersion string) *RequestBuilder {
	root := strings.TrimSuffix(baseEndpoint, "/") + "/"
	if v := strings.Trim(apiVersion, "/"); v != "" {
		root += v + "/"
	}
	return &RequestBuilder{root: root}
}

// Root returns the versioned endpoint prefix.
func (b *RequestBuilder) Root() string {
	return b.root
}

// Build returns the requests for q in the order they must be executed. Listing shapes always
// yield exactly one request and ignore chunks. The subset shape yields one request per chunk,
// so an empty chunk list yields no requests.
func (b *RequestBuilder) Build(q Query, chunks []Chunk) ([]Request, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	switch ShapeOf(q) {
	case ShapeProducts:
		return []Request{{Shape: ShapeProducts, Endpoint: b.root + "products"}}, nil
	case ShapeBands:
		return []Request{{Shape: ShapeBands, Endpoint: b.productPath(q.Product, "bands")}}, nil
	case ShapeDates:
		return []Request{b.DatesRequest(q)}, nil
	}

	requests := make([]Request, 0, len(chunks))
	for i := range chunks {
		requests = append(requests, b.subsetRequest(q, chunks[i]))
	}
	return requests, nil
}

// DatesRequest returns the date listing request for the product and location of q. The
// subset shape issues it first to learn which dates to chunk.
func (b *RequestBuilder) DatesRequest(q Query) Request {
	params := url.Values{}
	params.Set("latitude", formatCoordinate(q.Latitude))
	params.Set("longitude", formatCoordinate(q.Longitude))
	return Request{
		Shape:    ShapeDates,
		Endpoint: b.productPath(q.Product, "dates"),
		Params:   params,
	}
}

func (b *RequestBuilder) subsetRequest(q Query, c Chunk) Request {
	params := url.Values{}
	params.Set("latitude", formatCoordinate(q.Latitude))
	params.Set("longitude", formatCoordinate(q.Longitude))
	if q.Band != AllBands {
		params.Set("band", q.Band)
	}
	params.Set("startDate", FormatDate(c.Start.Calendar))
	params.Set("endDate", FormatDate(c.End.Calendar))
	params.Set("kmAboveBelow", strconv.Itoa(q.KmAboveBelow))
	params.Set("kmLeftRight", strconv.Itoa(q.KmLeftRight))

	chunk := c
	return Request{
		Shape:    ShapeSubset,
		Endpoint: b.productPath(q.Product, "subset"),
		Params:   params,
		Chunk:    &chunk,
	}
}

func (b *RequestBuilder) productPath(product, leaf string) string {
	return fmt.Sprintf("%s%s/%s", b.root, url.PathEscape(product), leaf)
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
