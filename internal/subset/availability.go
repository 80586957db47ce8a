package subset

import (
	"encoding/json"
	"fmt"
)

// DatesKey is the response key of the date listing.
const DatesKey = "dates"

// Product describes one product offered by the service.
type Product struct {
	Name             string `json:"product"`
	Description      string `json:"description"`
	Frequency        string `json:"frequency"`
	ResolutionMeters any    `json:"resolution_meters"`
}

// BandInfo describes one band of a product.
type BandInfo struct {
	Name        string `json:"band"`
	Description string `json:"description"`
	Units       string `json:"units"`
	ScaleFactor any    `json:"scale_factor"`
	ValidRange  any    `json:"valid_range"`
	FillValue   any    `json:"fill_value"`
}

type dateEntry struct {
	Native   string `json:"modis_date"`
	Calendar string `json:"calendar_date"`
}

// ParseAvailableDates reads the date listing of a payload in service order.
func ParseAvailableDates(p Payload) ([]AvailableDate, error) {
	raw, ok := p[DatesKey]
	if !ok {
		return nil, fmt.Errorf("%w: response lacks %q", ErrDecode, DatesKey)
	}

	var entries []dateEntry
	if err := remarshal(raw, &entries); err != nil {
		return nil, err
	}

	dates := make([]AvailableDate, 0, len(entries))
	for i, e := range entries {
		if e.Native == "" {
			return nil, fmt.Errorf("%w: date %d lacks modis_date", ErrDecode, i)
		}
		cal, err := ParseCalendarDate(e.Calendar)
		if err != nil {
			return nil, fmt.Errorf("%w: date %d: %v", ErrDecode, i, err)
		}
		dates = append(dates, AvailableDate{Calendar: cal, Native: e.Native})
	}
	return dates, nil
}

// listAttribute decodes a listing attribute such as "products" or "bands" into out.
func listAttribute(ds *Dataset, key string, out any) error {
	v, ok := ds.Attribute(key)
	if !ok {
		return fmt.Errorf("%w: response lacks %q", ErrDecode, key)
	}
	return remarshal(v.Raw(), out)
}

// remarshal converts a generic decoded JSON value into a typed one.
func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
