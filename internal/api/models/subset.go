package models

// Product is one entry of the product listing.
type Product struct {
	Product          string `json:"product"`
	Description      string `json:"description"`
	Frequency        string `json:"frequency,omitempty"`
	ResolutionMeters any    `json:"resolutionMeters,omitempty"`
}

// ProductList is the body of GET /v1/products.
type ProductList struct {
	Products []Product `json:"products"`
}

// Band describes one band of a product.
type Band struct {
	Band        string `json:"band"`
	Description string `json:"description,omitempty"`
	Units       string `json:"units,omitempty"`
	ScaleFactor any    `json:"scaleFactor,omitempty"`
	ValidRange  any    `json:"validRange,omitempty"`
	FillValue   any    `json:"fillValue,omitempty"`
}

// BandList is the body of GET /v1/products/{product}/bands.
type BandList struct {
	Product string `json:"product"`
	Bands   []Band `json:"bands"`
}

// ObservationDate pairs a calendar date with the service's native date token.
type ObservationDate struct {
	CalendarDate string `json:"calendarDate"`
	NativeDate   string `json:"nativeDate"`
}

// DateList is the body of GET /v1/products/{product}/dates.
type DateList struct {
	Product  string            `json:"product"`
	Location Point             `json:"location"`
	Dates    []ObservationDate `json:"dates"`
}

// BandValues holds one band as nested [time][row][col] values. Fill cells are null.
type BandValues struct {
	Shape  [3]int         `json:"shape"`
	Values [][][]*float64 `json:"values"`
}

// QASummary reports the quality filter applied to a subset.
type QASummary struct {
	Target     string    `json:"target"`
	Quality    string    `json:"quality"`
	Acceptable []float64 `json:"acceptable"`
	Masked     int       `json:"masked"`
}

// Subset is the body of GET /v1/products/{product}/subset.
type Subset struct {
	Product    string                `json:"product"`
	Location   Point                 `json:"location"`
	Attributes map[string]any        `json:"attributes"`
	Dates      []ObservationDate     `json:"dates"`
	Bands      map[string]BandValues `json:"bands"`
	QA         *QASummary            `json:"qa,omitempty"`
}
