package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modisviirs/subsetd/internal/api"
	"github.com/modisviirs/subsetd/internal/api/models"
	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
	"github.com/modisviirs/subsetd/internal/subset/ornl"
)

// upstreamDates are the observations the fake web service knows for every location.
var upstreamDates = [][2]string{
	{"A2015001", "2015-01-01"},
	{"A2015009", "2015-01-09"},
	{"A2015017", "2015-01-17"},
}

// upstreamValues holds one 1x1 pixel value per date for each band.
var upstreamValues = map[string][]int{
	"Lai_500m":   {5, 7, 9},
	"FparLai_QC": {0, 3, 2},
}

// fakeUpstream serves a small MODIS/VIIRS web service. Product BROKEN always fails.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/")
		q := r.URL.Query()

		if strings.HasPrefix(path, "BROKEN/") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"maintenance"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch path {
		case "products":
			_, _ = w.Write([]byte(`{"products":[{"product":"MOD15A2H","description":"Leaf Area Index","frequency":"8-Day","resolution_meters":500}]}`))
		case "MOD15A2H/bands":
			_, _ = w.Write([]byte(`{"bands":[
				{"band":"Lai_500m","description":"Leaf area index","units":"m^2/m^2","scale_factor":"0.1","fill_value":"249 to 255","valid_range":"0 to 100"},
				{"band":"FparLai_QC","description":"Quality control","units":"class-flag","fill_value":"255","valid_range":"0 to 254"}
			]}`))
		case "MOD15A2H/dates":
			var entries []string
			for _, d := range upstreamDates {
				entries = append(entries, fmt.Sprintf(`{"modis_date":%q,"calendar_date":%q}`, d[0], d[1]))
			}
			_, _ = w.Write([]byte(`{"dates":[` + strings.Join(entries, ",") + `]}`))
		case "MOD15A2H/subset":
			writeSubset(w, r, q.Get("band"), q.Get("startDate"), q.Get("endDate"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeSubset(w http.ResponseWriter, r *http.Request, band, start, end string) {
	bands := []string{"Lai_500m", "FparLai_QC"}
	if band != "" {
		bands = []string{band}
	}

	if strings.Contains(r.Header.Get("Accept"), "text/csv") {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = fmt.Fprintln(w, "modis_date,band,value")
		for i, d := range upstreamDates {
			if d[0] < start || d[0] > end {
				continue
			}
			for _, b := range bands {
				_, _ = fmt.Fprintf(w, "%s,%s,%d\n", d[0], b, upstreamValues[b][i])
			}
		}
		return
	}

	var records []string
	for i, d := range upstreamDates {
		if d[0] < start || d[0] > end {
			continue
		}
		for _, b := range bands {
			records = append(records, fmt.Sprintf(
				`{"modis_date":%q,"calendar_date":%q,"band":%q,"tile":"h10v05","data":[%d]}`,
				d[0], d[1], b, upstreamValues[b][i]))
		}
	}
	_, _ = fmt.Fprintf(w, `{"xllcorner":"-7963478.45","yllcorner":"4307946.60","cellsize":463.3127165279,`+
		`"nrows":1,"ncols":1,"band":%q,"units":"m^2/m^2","subset":[%s]}`, band, strings.Join(records, ","))
}

// newTestRouter wires the router to the fake upstream the way cmd/api does. The circuit opens
// after tripAfter consecutive failures; zero keeps it closed.
func newTestRouter(t *testing.T, upstream string, tripAfter uint32) (http.Handler, *resilience.Registry) {
	t.Helper()

	registry := resilience.NewRegistry()
	cb := resilience.DefaultCircuitBreakerConfig(ornl.ProviderName)
	cb.Timeout = time.Minute
	cb.ReadyToTrip = func(c gobreaker.Counts) bool {
		return tripAfter > 0 && c.ConsecutiveFailures >= tripAfter
	}

	transport := resilience.NewClient(resilience.ClientConfig{
		Name:           ornl.ProviderName,
		Timeout:        5 * time.Second,
		MaxRetries:     0,
		CircuitBreaker: &cb,
		Registry:       registry,
		Logger:         zerolog.Nop(),
	})

	cfg := subset.DefaultConfig()
	cfg.BaseEndpoint = upstream
	cfg.ChunkSize = 2

	service, err := subset.NewService(subset.ServiceConfig{
		Transport: ornl.NewClient(ornl.ClientConfig{HTTPClient: transport, Logger: zerolog.Nop()}),
		Config:    cfg,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	return api.NewRouter(api.RouterConfig{
		Version:   "1.2.3",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    zerolog.Nop(),
		Service:   service,
		Registry:  registry,
		RateLimit: 1000,
	}), registry
}

func do(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func series(values [][][]*float64) []*float64 {
	out := make([]*float64, 0, len(values))
	for _, plane := range values {
		out = append(out, plane[0][0])
	}
	return out
}

func f(v float64) *float64 { return &v }

const subsetPath = "/v1/products/MOD15A2H/subset?latitude=38.7441&longitude=-92.2&startDate=2015-01-01&endDate=2015-01-17"

func TestRouter_HealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	health := decodeBody[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Version)
}

func TestRouter_SystemStatus(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	require.Equal(t, http.StatusOK, do(t, router, "/v1/products").Code)
	rec := do(t, router, "/v1/ops/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[models.SystemStatus](t, rec)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Equal(t, "2026-01-01T00:00:00Z", status.BuildTime)
	assert.Equal(t, 2, status.Config.ChunkSize)
	assert.True(t, strings.HasSuffix(status.Config.Endpoint, "/v1/"))

	require.Len(t, status.Upstreams, 1)
	assert.Equal(t, "ornl", status.Upstreams[0].Name)
	assert.Equal(t, "closed", status.Upstreams[0].CircuitState)
	assert.NotNil(t, status.Upstreams[0].LastSuccessAt)
}

func TestRouter_ListProducts(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody[models.ProductList](t, rec)
	require.Len(t, body.Products, 1)
	assert.Equal(t, "MOD15A2H", body.Products[0].Product)
	assert.Equal(t, "8-Day", body.Products[0].Frequency)
}

func TestRouter_ListBands(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/MOD15A2H/bands")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[models.BandList](t, rec)
	assert.Equal(t, "MOD15A2H", body.Product)
	require.Len(t, body.Bands, 2)
	assert.Equal(t, "Lai_500m", body.Bands[0].Band)
	assert.Equal(t, "m^2/m^2", body.Bands[0].Units)
}

func TestRouter_ListDates(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/MOD15A2H/dates?latitude=38.7441&longitude=-92.2")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[models.DateList](t, rec)
	assert.Equal(t, models.Point{Lat: 38.7441, Lon: -92.2}, body.Location)
	assert.Equal(t, []models.ObservationDate{
		{CalendarDate: "2015-01-01", NativeDate: "A2015001"},
		{CalendarDate: "2015-01-09", NativeDate: "A2015009"},
		{CalendarDate: "2015-01-17", NativeDate: "A2015017"},
	}, body.Dates)
}

func TestRouter_ListDates_InvalidLocation(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/MOD15A2H/dates?latitude=95")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decodeBody[models.Problem](t, rec)
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)

	fields := map[string]string{}
	for _, e := range problem.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, map[string]string{"latitude": "OUT_OF_RANGE", "longitude": "REQUIRED"}, fields)
}

func TestRouter_Subset(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, subsetPath+"&band=Lai_500m")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[models.Subset](t, rec)

	assert.Equal(t, "MOD15A2H", body.Product)
	assert.Equal(t, []models.ObservationDate{
		{CalendarDate: "2015-01-01", NativeDate: "A2015001"},
		{CalendarDate: "2015-01-09", NativeDate: "A2015009"},
		{CalendarDate: "2015-01-17", NativeDate: "A2015017"},
	}, body.Dates)
	assert.Equal(t, "Lai_500m", body.Attributes["band"])
	assert.Equal(t, 463.3127165279, body.Attributes["cellsize"])
	assert.NotContains(t, body.Attributes, subset.RecordsKey)

	require.Contains(t, body.Bands, "Lai_500m")
	lai := body.Bands["Lai_500m"]
	assert.Equal(t, [3]int{3, 1, 1}, lai.Shape)
	assert.Equal(t, []*float64{f(5), f(7), f(9)}, series(lai.Values))
	assert.Nil(t, body.QA)
}

func TestRouter_Subset_NativeDateTokens(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/MOD15A2H/subset?band=Lai_500m&latitude=38.7441&longitude=-92.2&startDate=A2015009&endDate=A2015017")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[models.Subset](t, rec)
	assert.Equal(t, []*float64{f(7), f(9)}, series(body.Bands["Lai_500m"].Values))
}

func TestRouter_Subset_QualityFilter(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, subsetPath+"&band=Lai_500m&qaBand=FparLai_QC&qaOk=0,2")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[models.Subset](t, rec)

	assert.Equal(t, []*float64{f(5), nil, f(9)}, series(body.Bands["Lai_500m"].Values))
	assert.Equal(t, []*float64{f(0), f(3), f(2)}, series(body.Bands["FparLai_QC"].Values))

	require.NotNil(t, body.QA)
	assert.Equal(t, "Lai_500m", body.QA.Target)
	assert.Equal(t, "FparLai_QC", body.QA.Quality)
	assert.Equal(t, []float64{0, 2}, body.QA.Acceptable)
	assert.Equal(t, 1, body.QA.Masked)
}

func TestRouter_Subset_QualityRangeAllBands(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, subsetPath+"&qaTarget=Lai_500m&qaBand=FparLai_QC&qaOk=0:257:2")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[models.Subset](t, rec)

	assert.Equal(t, []*float64{f(5), nil, f(9)}, series(body.Bands["Lai_500m"].Values))
	require.NotNil(t, body.QA)
	assert.Len(t, body.QA.Acceptable, 129)
	assert.Equal(t, 1, body.QA.Masked)
}

func TestRouter_Subset_QualityFilterWithoutObservations(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/MOD15A2H/subset?latitude=38.7441&longitude=-92.2&startDate=2016-01-01&endDate=2016-01-31"+
		"&band=Lai_500m&qaBand=FparLai_QC&qaOk=0")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[models.Subset](t, rec)
	assert.Empty(t, body.Dates)
	assert.Empty(t, body.Bands)
	require.NotNil(t, body.QA)
	assert.Equal(t, 0, body.QA.Masked)
}

func TestRouter_Subset_QualityRangeLimit(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	tests := []struct {
		name   string
		qaOk   string
		status int
	}{
		{"every 16 bit code", "0:65536", http.StatusOK},
		{"one code too many", "0:65537", http.StatusBadRequest},
		{"millions of codes", "0:5000000:1", http.StatusBadRequest},
		{"near max int", "0:9223372036854775807:1", http.StatusBadRequest},
		{"negative start", "-5:5", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, subsetPath+"&band=Lai_500m&qaBand=FparLai_QC&qaOk="+tt.qaOk)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusBadRequest {
				return
			}
			problem := decodeBody[models.Problem](t, rec)
			require.Len(t, problem.Errors, 1)
			assert.Equal(t, "qaOk", problem.Errors[0].Field)
		})
	}

	rec := do(t, router, subsetPath+"&band=Lai_500m&qaBand=FparLai_QC&qaOk=0:5000000:1")
	assert.Equal(t, "OUT_OF_RANGE", decodeBody[models.Problem](t, rec).Errors[0].Code)
}

func TestRouter_Subset_CSV(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, subsetPath+"&band=Lai_500m&format=csv")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "modis_date,band,value\nA2015001,Lai_500m,5\nA2015009,Lai_500m,7\nA2015017,Lai_500m,9\n",
		rec.Body.String(), "header written once across both chunks")
}

func TestRouter_Subset_Errors(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	tests := []struct {
		name   string
		target string
		status int
		typ    string
	}{
		{"missing dates", "/v1/products/MOD15A2H/subset?latitude=1&longitude=2", http.StatusBadRequest, models.ProblemTypeValidation},
		{"bad date", "/v1/products/MOD15A2H/subset?latitude=1&longitude=2&startDate=2015-13-01&endDate=2015-12-31", http.StatusBadRequest, models.ProblemTypeValidation},
		{"inverted range", "/v1/products/MOD15A2H/subset?latitude=1&longitude=2&startDate=2015-02-01&endDate=2015-01-01", http.StatusBadRequest, models.ProblemTypeValidation},
		{"negative extent", subsetPath + "&kmAboveBelow=-1", http.StatusBadRequest, models.ProblemTypeValidation},
		{"qa without codes", subsetPath + "&band=Lai_500m&qaBand=FparLai_QC", http.StatusBadRequest, models.ProblemTypeValidation},
		{"qa bad range", subsetPath + "&band=Lai_500m&qaBand=FparLai_QC&qaOk=5:1", http.StatusBadRequest, models.ProblemTypeValidation},
		{"qa target is quality band", subsetPath + "&band=FparLai_QC&qaBand=FparLai_QC&qaOk=0", http.StatusBadRequest, models.ProblemTypeValidation},
		{"qa target missing", subsetPath + "&qaTarget=Npp&qaBand=FparLai_QC&qaOk=0", http.StatusNotFound, models.ProblemTypeNotFound},
		{"csv with qa", subsetPath + "&band=Lai_500m&qaBand=FparLai_QC&qaOk=0&format=csv", http.StatusBadRequest, models.ProblemTypeValidation},
		{"upstream failure", "/v1/products/BROKEN/subset?latitude=1&longitude=2&startDate=2015-01-01&endDate=2015-01-17", http.StatusBadGateway, models.ProblemTypeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.target)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			problem := decodeBody[models.Problem](t, rec)
			assert.Equal(t, tt.typ, problem.Type)
			assert.Equal(t, rec.Header().Get("X-Request-Id"), problem.TraceID)
		})
	}
}

func TestRouter_UpstreamErrorBodyInDetail(t *testing.T) {
	router, _ := newTestRouter(t, fakeUpstream(t).URL, 0)

	rec := do(t, router, "/v1/products/BROKEN/bands")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	problem := decodeBody[models.Problem](t, rec)
	assert.Contains(t, problem.Detail, "maintenance")
	assert.Contains(t, problem.Detail, "500")

	status := decodeBody[models.SystemStatus](t, do(t, router, "/v1/ops/status"))
	require.Len(t, status.Upstreams, 1)
	assert.Equal(t, uint32(1), status.Upstreams[0].ConsecutiveFailures)
	assert.Equal(t, "closed", status.Upstreams[0].CircuitState)
}

func TestRouter_CircuitOpen(t *testing.T) {
	router, registry := newTestRouter(t, fakeUpstream(t).URL, 1)

	rec := do(t, router, "/v1/products/BROKEN/bands")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	health := registry.Health(ornl.ProviderName)
	require.NotNil(t, health)
	assert.True(t, health.IsUnhealthy())

	rec = do(t, router, "/v1/products/MOD15A2H/bands")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.ProblemTypeUnavailable, decodeBody[models.Problem](t, rec).Type)

	rec = do(t, router, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decodeBody[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusFail, ready.Status)
	assert.Equal(t, "open", ready.Details["ornl"])

	status := decodeBody[models.SystemStatus](t, do(t, router, "/v1/ops/status"))
	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.Len(t, status.Upstreams, 1)
	assert.Equal(t, resilience.ErrCircuitOpen.Error(), status.Upstreams[0].LastError)
}

func TestRouter_SubsetRateLimit(t *testing.T) {
	upstream := fakeUpstream(t)
	service, err := subset.NewService(subset.ServiceConfig{
		Transport: ornl.NewClient(ornl.ClientConfig{HTTPClient: http.DefaultClient}),
		Config:    subset.Config{ChunkSize: 2, BaseEndpoint: upstream.URL, APIVersion: "v1"},
	})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{Logger: zerolog.Nop(), Service: service, RateLimit: 1})

	assert.Equal(t, http.StatusOK, do(t, router, subsetPath+"&band=Lai_500m").Code)
	rec := do(t, router, subsetPath+"&band=Lai_500m")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Listings have their own budget.
	assert.Equal(t, http.StatusOK, do(t, router, "/v1/products").Code)
}
