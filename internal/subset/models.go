// Package subset retrieves point time series from the MODIS/VIIRS subset web service.
//
// The service limits how many observation dates a single subset request may return, so a long
// date range is split into chunks, fetched one chunk at a time and reassembled into a Dataset.
package subset

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Subset errors.
var (
	ErrMissingLocation       = errors.New("latitude and longitude must both be specified")
	ErrIncompleteDateRange   = errors.New("start date and end date must both be specified")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrInvalidChunkSize      = errors.New("chunk size must be at least 1")
	ErrServerUnavailable     = errors.New("server not returning data")
	ErrDecode                = errors.New("malformed response body")
	ErrAssemblyInconsistency = errors.New("record date missing from time axis")
	ErrShapeMismatch         = errors.New("band shapes differ")
	ErrSizeMismatch          = errors.New("array size mismatch")
	ErrBandNotFound          = errors.New("band not found in dataset")
)

// AllBands is the band sentinel that requests every band of a product.
const AllBands = "all"

// ServerError is returned when the service answers with a non-success status.
// It matches ErrServerUnavailable with errors.Is.
type ServerError struct {
	StatusCode int
	// Body is the error body as reported by the service, indented when it was JSON.
	Body string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrServerUnavailable, e.StatusCode, e.Body)
}

// Is reports whether target is ErrServerUnavailable.
func (e *ServerError) Is(target error) bool {
	return target == ErrServerUnavailable
}

// Config holds tunables for the subset service.
type Config struct {
	// ChunkSize is the maximum number of observation dates per subset request.
	// Default: 10
	ChunkSize int

	// FillValue replaces cells that fail QA filtering. Nil means NaN; use Fill to set it.
	// Default: NaN
	FillValue *float64

	// BaseEndpoint is the service root URL.
	// Default: https://modis.ornl.gov/rst/api/
	BaseEndpoint string

	// APIVersion is the path segment following the root URL.
	// Default: v1
	APIVersion string
}

// Fill returns v as a Config.FillValue.
func Fill(v float64) *float64 {
	return &v
}

// fillOrNaN resolves an optional fill value.
func fillOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Defaults for Config.
const (
	DefaultChunkSize    = 10
	DefaultBaseEndpoint = "https://modis.ornl.gov/rst/api/"
	DefaultAPIVersion   = "v1"
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		BaseEndpoint: DefaultBaseEndpoint,
		APIVersion:   DefaultAPIVersion,
	}
}

// Query describes one request against the service. The fields that are set select the
// request shape, see ShapeOf.
type Query struct {
	Product string
	Band    string

	Latitude  *float64
	Longitude *float64

	// StartDate and EndDate bound the subset inclusively; the zero time means unset.
	StartDate time.Time
	EndDate   time.Time

	// KmAboveBelow and KmLeftRight widen the pixel window around the center pixel.
	KmAboveBelow int
	KmLeftRight  int
}

// HasLocation reports whether both coordinates are set.
func (q Query) HasLocation() bool {
	return q.Latitude != nil && q.Longitude != nil
}

// HasDateRange reports whether both dates are set.
func (q Query) HasDateRange() bool {
	return !q.StartDate.IsZero() && !q.EndDate.IsZero()
}

// Validate checks the query invariants for its shape. Listing queries for products and
// bands never need a location; date listings and subsets do.
func (q Query) Validate() error {
	if q.KmAboveBelow < 0 || q.KmLeftRight < 0 {
		return fmt.Errorf("%w: spatial extents must be non-negative", ErrInvalidQuery)
	}

	shape := ShapeOf(q)
	if shape == ShapeProducts || shape == ShapeBands {
		return nil
	}

	if q.StartDate.IsZero() != q.EndDate.IsZero() {
		return ErrIncompleteDateRange
	}
	if !q.HasLocation() {
		return ErrMissingLocation
	}
	if q.HasDateRange() && civilDate(q.EndDate).Before(civilDate(q.StartDate)) {
		return fmt.Errorf("%w: end date %s precedes start date %s",
			ErrInvalidQuery, q.EndDate.Format(calendarLayout), q.StartDate.Format(calendarLayout))
	}
	return nil
}

// AvailableDate is one observation date known to the service for a location.
type AvailableDate struct {
	// Calendar is the observation date at UTC midnight.
	Calendar time.Time
	// Native is the service's own token for the same observation, e.g. A2015001.
	Native string
}

// Chunk is an inclusive range of available dates covered by one subset request.
type Chunk struct {
	Start AvailableDate
	End   AvailableDate
	// Count is the number of available dates inside the range.
	Count int
}

// Contains reports whether t falls inside the chunk bounds.
func (c Chunk) Contains(t time.Time) bool {
	d := civilDate(t)
	return !d.Before(c.Start.Calendar) && !d.After(c.End.Calendar)
}

const calendarLayout = "2006-01-02"

// civilDate drops the time of day so that dates compare by calendar day.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseCalendarDate parses a YYYY-MM-DD date as returned in calendar_date fields.
func ParseCalendarDate(s string) (time.Time, error) {
	t, err := time.Parse(calendarLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse calendar date %q: %w", s, err)
	}
	return t, nil
}
