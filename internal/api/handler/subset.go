package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/modisviirs/subsetd/internal/api/models"
	"github.com/modisviirs/subsetd/internal/api/response"
	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
)

// maxSpatialExtent bounds kmAboveBelow and kmLeftRight; the web service rejects larger windows.
const maxSpatialExtent = 100

// maxQualityCodes bounds a qaOk range; it covers every code of a 16 bit QC field.
const maxQualityCodes = 1 << 16

// SubsetHandler serves product listings and subsets.
type SubsetHandler struct {
	service *subset.Service
}

// NewSubsetHandler creates a SubsetHandler.
func NewSubsetHandler(service *subset.Service) *SubsetHandler {
	return &SubsetHandler{service: service}
}

// ListProducts handles GET /v1/products.
func (h *SubsetHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := models.ProductList{Products: make([]models.Product, 0, len(products))}
	for _, p := range products {
		body.Products = append(body.Products, models.Product{
			Product:          p.Name,
			Description:      p.Description,
			Frequency:        p.Frequency,
			ResolutionMeters: p.ResolutionMeters,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	response.JSON(w, r, http.StatusOK, body)
}

// ListBands handles GET /v1/products/{product}/bands.
func (h *SubsetHandler) ListBands(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")

	bands, err := h.service.ListBands(r.Context(), product)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := models.BandList{Product: product, Bands: make([]models.Band, 0, len(bands))}
	for _, b := range bands {
		body.Bands = append(body.Bands, models.Band{
			Band:        b.Name,
			Description: b.Description,
			Units:       b.Units,
			ScaleFactor: b.ScaleFactor,
			ValidRange:  b.ValidRange,
			FillValue:   b.FillValue,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	response.JSON(w, r, http.StatusOK, body)
}

// ListDates handles GET /v1/products/{product}/dates?latitude=&longitude=.
func (h *SubsetHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")

	var errs []models.FieldError
	location, errs := parseLocation(r, errs)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	dates, err := h.service.ListDates(r.Context(), product, location.Lat, location.Lon)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.DateList{
		Product:  product,
		Location: location,
		Dates:    observationDates(dates),
	})
}

// qaParams is the optional quality filter of a subset request.
type qaParams struct {
	target     string
	quality    string
	acceptable subset.QualitySet
	codes      []float64
}

// GetSubset handles GET /v1/products/{product}/subset.
//
// Query parameters: band (default all), latitude, longitude, startDate and endDate as
// YYYY-MM-DD or native tokens such as A2015001, kmAboveBelow, kmLeftRight, and optionally
// qaBand, qaTarget and qaOk for quality filtering. qaOk is a comma separated list of codes or a
// start:stop[:step] range. format=csv, or an Accept header of text/csv, returns the raw
// upstream CSV instead.
func (h *SubsetHandler) GetSubset(w http.ResponseWriter, r *http.Request) {
	q, qa, errs := parseSubsetQuery(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	if wantsCSV(r) {
		if qa != nil {
			response.BadRequest(w, r, "quality filtering is not available for CSV output", []models.FieldError{
				{Field: "format", Message: "must be json when qaBand is set", Code: "UNSUPPORTED"},
			})
			return
		}
		bodies, err := h.service.FetchCSV(r.Context(), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.CSV(w, r, q.Product+"_"+q.Band+".csv", bodies)
		return
	}

	ds, err := h.fetch(r.Context(), q, qa)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := models.Subset{
		Product:    q.Product,
		Location:   models.Point{Lat: *q.Latitude, Lon: *q.Longitude},
		Attributes: attributes(ds),
		Dates:      datasetDates(ds),
		Bands:      bandValues(ds),
	}

	if qa != nil {
		// No observations in range means no bands to filter.
		masked := 0
		if len(ds.Dates) > 0 {
			masked, err = h.service.FilterQA(r.Context(), ds, qa.target, qa.quality, qa.acceptable)
			if err != nil {
				writeError(w, r, err)
				return
			}
			body.Bands = bandValues(ds)
		}
		body.QA = &models.QASummary{
			Target:     qa.target,
			Quality:    qa.quality,
			Acceptable: qa.codes,
			Masked:     masked,
		}
	}

	response.JSON(w, r, http.StatusOK, body)
}

// fetch runs q and, when the quality band is not covered by q's band, fetches it as well and
// merges it in.
func (h *SubsetHandler) fetch(ctx context.Context, q subset.Query, qa *qaParams) (*subset.Dataset, error) {
	ds, err := h.service.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if qa == nil || q.Band == subset.AllBands || q.Band == qa.quality {
		return ds, nil
	}

	qq := q
	qq.Band = qa.quality
	qds, err := h.service.Fetch(ctx, qq)
	if err != nil {
		return nil, err
	}
	if err := ds.Merge(qds); err != nil {
		return nil, err
	}
	return ds, nil
}

func parseSubsetQuery(r *http.Request) (subset.Query, *qaParams, []models.FieldError) {
	values := r.URL.Query()
	q := subset.Query{
		Product: chi.URLParam(r, "product"),
		Band:    values.Get("band"),
	}
	if q.Band == "" {
		q.Band = subset.AllBands
	}

	var errs []models.FieldError
	location, errs := parseLocation(r, errs)
	q.Latitude, q.Longitude = &location.Lat, &location.Lon

	q.StartDate, errs = parseDateParam(values.Get("startDate"), "startDate", errs)
	q.EndDate, errs = parseDateParam(values.Get("endDate"), "endDate", errs)
	if !q.StartDate.IsZero() && !q.EndDate.IsZero() && q.EndDate.Before(q.StartDate) {
		errs = append(errs, models.FieldError{Field: "endDate", Message: "must not precede startDate", Code: "OUT_OF_RANGE"})
	}

	q.KmAboveBelow, errs = parseExtent(values.Get("kmAboveBelow"), "kmAboveBelow", errs)
	q.KmLeftRight, errs = parseExtent(values.Get("kmLeftRight"), "kmLeftRight", errs)

	qa, errs := parseQA(r, q.Band, errs)
	return q, qa, errs
}

func parseLocation(r *http.Request, errs []models.FieldError) (models.Point, []models.FieldError) {
	var p models.Point
	var ok bool
	p.Lat, ok, errs = parseFloatParam(r.URL.Query().Get("latitude"), "latitude", errs)
	if ok && (p.Lat < -90 || p.Lat > 90) {
		errs = append(errs, models.FieldError{Field: "latitude", Message: "must be between -90 and 90", Code: "OUT_OF_RANGE"})
	}
	p.Lon, ok, errs = parseFloatParam(r.URL.Query().Get("longitude"), "longitude", errs)
	if ok && (p.Lon < -180 || p.Lon > 180) {
		errs = append(errs, models.FieldError{Field: "longitude", Message: "must be between -180 and 180", Code: "OUT_OF_RANGE"})
	}
	return p, errs
}

func parseFloatParam(raw, field string, errs []models.FieldError) (float64, bool, []models.FieldError) {
	if raw == "" {
		return 0, false, append(errs, models.FieldError{Field: field, Message: "is required", Code: "REQUIRED"})
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, append(errs, models.FieldError{Field: field, Message: "must be a number", Code: "INVALID"})
	}
	return v, true, errs
}

// parseDateParam accepts a calendar date or a native date token.
func parseDateParam(raw, field string, errs []models.FieldError) (time.Time, []models.FieldError) {
	if raw == "" {
		return time.Time{}, append(errs, models.FieldError{Field: field, Message: "is required", Code: "REQUIRED"})
	}
	if t, err := subset.ParseCalendarDate(raw); err == nil {
		return t, errs
	}
	if t, err := subset.ParseDateToken(raw); err == nil {
		return t, errs
	}
	return time.Time{}, append(errs, models.FieldError{
		Field: field, Message: "must be YYYY-MM-DD or AYYYYDDD", Code: "INVALID",
	})
}

func parseExtent(raw, field string, errs []models.FieldError) (int, []models.FieldError) {
	if raw == "" {
		return 0, errs
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > maxSpatialExtent {
		return 0, append(errs, models.FieldError{
			Field: field, Message: "must be an integer between 0 and " + strconv.Itoa(maxSpatialExtent), Code: "OUT_OF_RANGE",
		})
	}
	return v, errs
}

func parseQA(r *http.Request, band string, errs []models.FieldError) (*qaParams, []models.FieldError) {
	values := r.URL.Query()
	quality, target, ok := values.Get("qaBand"), values.Get("qaTarget"), values.Get("qaOk")
	if quality == "" && target == "" && ok == "" {
		return nil, errs
	}

	if quality == "" {
		errs = append(errs, models.FieldError{Field: "qaBand", Message: "is required for quality filtering", Code: "REQUIRED"})
	}
	if target == "" {
		if band == subset.AllBands {
			errs = append(errs, models.FieldError{Field: "qaTarget", Message: "is required when band is all", Code: "REQUIRED"})
		}
		target = band
	}
	if quality != "" && target == quality {
		errs = append(errs, models.FieldError{Field: "qaTarget", Message: "must differ from qaBand", Code: "INVALID"})
	}

	set, codes, err := parseQualityCodes(ok)
	if err != nil {
		code := "INVALID"
		if errors.Is(err, errQualityRangeTooLarge) {
			code = "OUT_OF_RANGE"
		}
		errs = append(errs, models.FieldError{Field: "qaOk", Message: err.Error(), Code: code})
	}

	return &qaParams{target: target, quality: quality, acceptable: set, codes: codes}, errs
}

var (
	errQualityCodes         = errors.New("must be a comma separated list of codes or start:stop[:step]")
	errQualityRangeTooLarge = errors.New("range must not exceed " + strconv.Itoa(maxQualityCodes) + " codes")
)

// parseQualityCodes parses "0,2,4" or a half open range "0:257:2" of non-negative codes.
func parseQualityCodes(raw string) (subset.QualitySet, []float64, error) {
	if raw == "" {
		return nil, nil, errors.New("is required for quality filtering")
	}

	if !strings.Contains(raw, ":") {
		parts := strings.Split(raw, ",")
		if len(parts) > maxQualityCodes {
			return nil, nil, errQualityRangeTooLarge
		}
		codes := make([]float64, 0, len(parts))
		for _, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || math.IsNaN(v) {
				return nil, nil, errQualityCodes
			}
			codes = append(codes, v)
		}
		return subset.NewQualitySet(codes...), codes, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, nil, errQualityCodes
	}
	bounds := []int{0, 0, 1}
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, nil, errQualityCodes
		}
		bounds[i] = v
	}
	start, stop, step := bounds[0], bounds[1], bounds[2]
	if step <= 0 || start < 0 || stop <= start {
		return nil, nil, errQualityCodes
	}
	count := (stop-start-1)/step + 1
	if count > maxQualityCodes {
		return nil, nil, errQualityRangeTooLarge
	}

	codes := make([]float64, 0, count)
	for c := start; c < stop; c += step {
		codes = append(codes, float64(c))
	}
	return subset.QualityRange(start, stop, step), codes, nil
}

func wantsCSV(r *http.Request) bool {
	if format := r.URL.Query().Get("format"); format != "" {
		return strings.EqualFold(format, "csv")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

func observationDates(dates []subset.AvailableDate) []models.ObservationDate {
	out := make([]models.ObservationDate, 0, len(dates))
	for _, d := range dates {
		out = append(out, models.ObservationDate{
			CalendarDate: d.Calendar.Format(time.DateOnly),
			NativeDate:   d.Native,
		})
	}
	return out
}

func datasetDates(ds *subset.Dataset) []models.ObservationDate {
	out := make([]models.ObservationDate, 0, len(ds.Dates))
	for i, d := range ds.Dates {
		out = append(out, models.ObservationDate{
			CalendarDate: d.Format(time.DateOnly),
			NativeDate:   ds.NativeDates[i],
		})
	}
	return out
}

func attributes(ds *subset.Dataset) map[string]any {
	out := make(map[string]any, len(ds.Attributes))
	for k, v := range ds.Attributes {
		out[k] = v.Raw()
	}
	return out
}

// bandValues nests every band as [time][row][col]; NaN cells become null.
func bandValues(ds *subset.Dataset) map[string]models.BandValues {
	out := make(map[string]models.BandValues, len(ds.Bands))
	for name, a := range ds.Bands {
		values := make([][][]*float64, a.T)
		for t := range values {
			values[t] = make([][]*float64, a.R)
			for row := range values[t] {
				values[t][row] = make([]*float64, a.C)
				for col := range values[t][row] {
					if v := a.At(t, row, col); !math.IsNaN(v) {
						values[t][row][col] = &v
					}
				}
			}
		}
		out[name] = models.BandValues{Shape: a.Shape(), Values: values}
	}
	return out
}

// writeError maps a service error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "the upstream web service is temporarily unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.ServiceUnavailable(w, r, "the request timed out before the upstream web service answered")
	case errors.Is(err, subset.ErrMissingLocation),
		errors.Is(err, subset.ErrIncompleteDateRange),
		errors.Is(err, subset.ErrInvalidQuery):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, subset.ErrBandNotFound):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, subset.ErrShapeMismatch):
		response.Unprocessable(w, r, err.Error())
	case errors.Is(err, subset.ErrServerUnavailable),
		errors.Is(err, subset.ErrDecode),
		errors.Is(err, subset.ErrAssemblyInconsistency),
		errors.Is(err, subset.ErrSizeMismatch):
		response.BadGateway(w, r, err.Error())
	default:
		log.Error().Err(err).Msg("unhandled subset error")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
