package subset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind tags the type held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindNested
)

// Value is one attribute reported by the service. Scalars are held typed; lists and objects
// are kept as decoded JSON in Nested.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	// Nested holds []any or map[string]any for KindNested.
	Nested any
}

// ValueOf tags a decoded JSON value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case string:
		return Value{Kind: KindString, Str: t}
	case float64:
		return Value{Kind: KindNumber, Num: t}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{Kind: KindString, Str: t.String()}
		}
		return Value{Kind: KindNumber, Num: f}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	default:
		return Value{Kind: KindNested, Nested: t}
	}
}

// Int returns the value as an integer when it is a whole number, or a string holding one.
func (v Value) Int() (int, bool) {
	switch v.Kind {
	case KindNumber:
		if v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > 1<<53 {
			return 0, false
		}
		return int(v.Num), true
	case KindString:
		n, err := strconv.Atoi(v.Str)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Raw returns the untagged value.
func (v Value) Raw() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindNested:
		return v.Nested
	default:
		return nil
	}
}

// MarshalJSON writes the untagged value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

// Array3 is a dense (time, row, col) array stored row-major.
type Array3 struct {
	T, R, C int
	Data    []float64
}

// NewArray3 allocates a zero filled array.
func NewArray3(t, r, c int) *Array3 {
	return &Array3{T: t, R: r, C: c, Data: make([]float64, t*r*c)}
}

// Shape returns (time, rows, cols).
func (a *Array3) Shape() [3]int {
	return [3]int{a.T, a.R, a.C}
}

func (a *Array3) index(t, r, c int) int {
	return (t*a.R+r)*a.C + c
}

// At returns the cell at (t, r, c).
func (a *Array3) At(t, r, c int) float64 {
	return a.Data[a.index(t, r, c)]
}

// Set stores v at (t, r, c).
func (a *Array3) Set(t, r, c int, v float64) {
	a.Data[a.index(t, r, c)] = v
}

// Plane returns the row-major (row, col) slice for time index t. It aliases the array.
func (a *Array3) Plane(t int) []float64 {
	n := a.R * a.C
	return a.Data[t*n : (t+1)*n]
}

// Dataset is the merged result of one query.
type Dataset struct {
	// Attributes holds every top-level key of the responses other than the record list.
	Attributes map[string]Value

	// Dates is the time axis; NativeDates holds the service token for each entry.
	Dates       []time.Time
	NativeDates []string

	// Bands maps a band name to its (len(Dates), nrows, ncols) array.
	Bands map[string]*Array3
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Attributes: make(map[string]Value),
		Bands:      make(map[string]*Array3),
	}
}

// Attribute looks up an attribute by key.
func (d *Dataset) Attribute(key string) (Value, bool) {
	v, ok := d.Attributes[key]
	return v, ok
}

// Band returns the array for a band.
func (d *Dataset) Band(name string) (*Array3, error) {
	a, ok := d.Bands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBandNotFound, name)
	}
	return a, nil
}

// BandSeries returns the time series of one pixel of a band.
func (d *Dataset) BandSeries(name string, row, col int) ([]float64, error) {
	a, err := d.Band(name)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= a.R || col < 0 || col >= a.C {
		return nil, fmt.Errorf("%w: pixel (%d, %d) outside %dx%d grid", ErrSizeMismatch, row, col, a.R, a.C)
	}

	series := make([]float64, a.T)
	for t := range series {
		series[t] = a.At(t, row, col)
	}
	return series, nil
}

// Merge copies the bands and attributes of other that d lacks. Both datasets must share the
// same time axis, otherwise ErrShapeMismatch is returned and d is unchanged. Bands present in
// both are kept from d.
func (d *Dataset) Merge(other *Dataset) error {
	if len(d.NativeDates) != len(other.NativeDates) {
		return fmt.Errorf("%w: time axes have %d and %d dates",
			ErrShapeMismatch, len(d.NativeDates), len(other.NativeDates))
	}
	for i, token := range d.NativeDates {
		if other.NativeDates[i] != token {
			return fmt.Errorf("%w: time axes differ at %d: %s and %s",
				ErrShapeMismatch, i, token, other.NativeDates[i])
		}
	}

	for name, a := range other.Bands {
		if _, ok := d.Bands[name]; !ok {
			d.Bands[name] = a
		}
	}
	for key, v := range other.Attributes {
		if _, ok := d.Attributes[key]; !ok {
			d.Attributes[key] = v
		}
	}
	return nil
}
