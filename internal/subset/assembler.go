package subset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// RecordsKey is the response key holding observation records. It is never copied into the
// dataset attributes.
const RecordsKey = "subset"

// MaxGridCells bounds nrows*ncols of a response. The widest window the service serves, 100 km
// on every side at 250 m pixels, is 801x801.
const MaxGridCells = 1 << 20

type record struct {
	calendar time.Time
	native   string
	band     string
	data     []any
	rows     *int
	cols     *int
}

// Assemble merges the payloads of one query, in request order, into a Dataset.
//
// Top-level keys other than RecordsKey become attributes; when several payloads carry the same
// key the first one wins. Payloads with records contribute to a time axis deduplicated by
// calendar date, and every record is unpacked into the (time, row, col) array of its band.
func Assemble(payloads []Payload) (*Dataset, error) {
	ds := NewDataset()
	ds.Dates = []time.Time{}
	ds.NativeDates = []string{}

	for _, p := range payloads {
		for key, raw := range p {
			if key == RecordsKey {
				continue
			}
			if _, ok := ds.Attributes[key]; !ok {
				ds.Attributes[key] = ValueOf(raw)
			}
		}
	}

	perPayload := make([][]record, len(payloads))
	hasRecords := false
	for i, p := range payloads {
		raw, ok := p[RecordsKey]
		if !ok {
			continue
		}
		hasRecords = true
		recs, err := parseRecords(raw, p)
		if err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		perPayload[i] = recs
	}
	if !hasRecords {
		return ds, nil
	}

	// Pass 1: time axis.
	seen := make(map[time.Time]struct{})
	for _, recs := range perPayload {
		for _, rec := range recs {
			if _, dup := seen[rec.calendar]; dup {
				continue
			}
			seen[rec.calendar] = struct{}{}
			ds.Dates = append(ds.Dates, rec.calendar)
			ds.NativeDates = append(ds.NativeDates, rec.native)
		}
	}
	sortAxis(ds)

	position := make(map[string]int, len(ds.NativeDates))
	for i, token := range ds.NativeDates {
		position[token] = i
	}

	// Pass 2: fill arrays.
	rows, cols, err := gridSize(ds.Attributes)
	if err != nil {
		return nil, err
	}
	for i, recs := range perPayload {
		if recs == nil {
			continue
		}
		if err := checkPayloadGrid(payloads[i], rows, cols); err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		for _, rec := range recs {
			if err := unpack(ds, rec, position, rows, cols); err != nil {
				return nil, fmt.Errorf("payload %d: %w", i, err)
			}
		}
	}

	return ds, nil
}

// sortAxis restores ascending order when payloads arrived out of chunk order.
func sortAxis(ds *Dataset) {
	if sort.SliceIsSorted(ds.Dates, func(i, j int) bool { return ds.Dates[i].Before(ds.Dates[j]) }) {
		return
	}

	idx := make([]int, len(ds.Dates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return ds.Dates[idx[a]].Before(ds.Dates[idx[b]]) })

	dates := make([]time.Time, len(idx))
	natives := make([]string, len(idx))
	for i, j := range idx {
		dates[i] = ds.Dates[j]
		natives[i] = ds.NativeDates[j]
	}
	ds.Dates, ds.NativeDates = dates, natives
}

func unpack(ds *Dataset, rec record, position map[string]int, rows, cols int) error {
	t, ok := position[rec.native]
	if !ok {
		return fmt.Errorf("%w: %s (%s) in band %s",
			ErrAssemblyInconsistency, rec.native, rec.calendar.Format(calendarLayout), rec.band)
	}
	if (rec.rows != nil && *rec.rows != rows) || (rec.cols != nil && *rec.cols != cols) {
		return fmt.Errorf("%w: record %s of band %s declares a different grid than %dx%d",
			ErrSizeMismatch, rec.native, rec.band, rows, cols)
	}
	if len(rec.data) != rows*cols {
		return fmt.Errorf("%w: record %s of band %s has %d values, want %d (%dx%d)",
			ErrSizeMismatch, rec.native, rec.band, len(rec.data), rows*cols, rows, cols)
	}

	arr, ok := ds.Bands[rec.band]
	if !ok {
		arr = NewArray3(len(ds.Dates), rows, cols)
		ds.Bands[rec.band] = arr
	}

	plane := arr.Plane(t)
	for k, raw := range rec.data {
		v, err := number(raw)
		if err != nil {
			return fmt.Errorf("record %s of band %s, value %d: %w", rec.native, rec.band, k, err)
		}
		plane[k] = v
	}
	return nil
}

func parseRecords(raw any, p Payload) ([]record, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a list", ErrDecode, RecordsKey)
	}

	// Single band responses may carry the band name at the top level only.
	defaultBand, _ := p["band"].(string)

	recs := make([]record, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrDecode, i)
		}

		calendarStr, _ := m["calendar_date"].(string)
		native, _ := m["modis_date"].(string)
		if calendarStr == "" || native == "" {
			return nil, fmt.Errorf("%w: record %d lacks calendar_date or modis_date", ErrDecode, i)
		}
		calendar, err := ParseCalendarDate(calendarStr)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrDecode, i, err)
		}

		band, _ := m["band"].(string)
		if band == "" {
			band = defaultBand
		}
		if band == "" {
			return nil, fmt.Errorf("%w: record %d has no band", ErrDecode, i)
		}

		data, ok := m["data"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: record %d data is not a list", ErrDecode, i)
		}

		rec := record{calendar: calendar, native: native, band: band, data: data}
		if n, ok := optionalInt(m, "nrows"); ok {
			rec.rows = &n
		}
		if n, ok := optionalInt(m, "ncols"); ok {
			rec.cols = &n
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func gridSize(attrs map[string]Value) (int, int, error) {
	rowsV, okR := attrs["nrows"]
	colsV, okC := attrs["ncols"]
	if !okR || !okC {
		return 0, 0, fmt.Errorf("%w: response lacks nrows or ncols", ErrSizeMismatch)
	}
	rows, okR := rowsV.Int()
	cols, okC := colsV.Int()
	if !okR || !okC || rows < 1 || cols < 1 {
		return 0, 0, fmt.Errorf("%w: invalid grid nrows=%v ncols=%v", ErrSizeMismatch, rowsV.Raw(), colsV.Raw())
	}
	if rows > MaxGridCells/cols {
		return 0, 0, fmt.Errorf("%w: grid %dx%d exceeds %d cells", ErrSizeMismatch, rows, cols, MaxGridCells)
	}
	return rows, cols, nil
}

// checkPayloadGrid rejects chunks that report a grid different from the merged one.
func checkPayloadGrid(p Payload, rows, cols int) error {
	if n, ok := optionalInt(p, "nrows"); ok && n != rows {
		return fmt.Errorf("%w: nrows %d differs from %d", ErrSizeMismatch, n, rows)
	}
	if n, ok := optionalInt(p, "ncols"); ok && n != cols {
		return fmt.Errorf("%w: ncols %d differs from %d", ErrSizeMismatch, n, cols)
	}
	return nil
}

func optionalInt(m map[string]any, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	return ValueOf(raw).Int()
}

// number converts a decoded data value. JSON null becomes NaN.
func number(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return f, nil
	case nil:
		return math.NaN(), nil
	default:
		return 0, fmt.Errorf("%w: non-numeric value %v", ErrDecode, raw)
	}
}
