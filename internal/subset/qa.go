package subset

import (
	"fmt"
	"math"
)

// QualitySet holds the quality codes that pass QA filtering.
type QualitySet map[float64]struct{}

// NewQualitySet builds a set from explicit codes.
func NewQualitySet(codes ...float64) QualitySet {
	s := make(QualitySet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// QualityRange builds the set start, start+step, ... up to but excluding stop.
// QualityRange(0, 257, 2) accepts every even code of an 8 bit QC field.
func QualityRange(start, stop, step int) QualitySet {
	s := make(QualitySet)
	if step <= 0 {
		return s
	}
	for c := start; c < stop; c += step {
		s[float64(c)] = struct{}{}
	}
	return s
}

// Contains reports whether code passes.
func (s QualitySet) Contains(code float64) bool {
	_, ok := s[code]
	return ok
}

// QAFilter masks data cells whose quality code is not acceptable.
type QAFilter struct {
	Fill float64
}

// NewQAFilter returns a filter that writes fill into rejected cells.
func NewQAFilter(fill float64) QAFilter {
	return QAFilter{Fill: fill}
}

// DefaultQAFilter fills rejected cells with NaN.
func DefaultQAFilter() QAFilter {
	return QAFilter{Fill: math.NaN()}
}

// Apply rewrites, in place, every cell of the target band whose co-located cell in the quality
// band is not in acceptable. The quality band is never modified. When the two bands differ in
// shape nothing is changed and ErrShapeMismatch is returned. Apply returns the number of cells
// it masked.
func (f QAFilter) Apply(ds *Dataset, target, quality string, acceptable QualitySet) (int, error) {
	if target == quality {
		return 0, fmt.Errorf("%w: band %s cannot filter itself", ErrInvalidQuery, target)
	}
	data, err := ds.Band(target)
	if err != nil {
		return 0, err
	}
	qa, err := ds.Band(quality)
	if err != nil {
		return 0, err
	}

	if data.Shape() != qa.Shape() || len(data.Data) != len(qa.Data) {
		return 0, fmt.Errorf("%w: %s is %v, %s is %v",
			ErrShapeMismatch, target, data.Shape(), quality, qa.Shape())
	}

	masked := 0
	for i, code := range qa.Data {
		if !acceptable.Contains(code) {
			data.Data[i] = f.Fill
			masked++
		}
	}
	return masked, nil
}

// FilterQA applies a NaN filling QAFilter to the dataset.
func (d *Dataset) FilterQA(target, quality string, acceptable QualitySet) error {
	_, err := DefaultQAFilter().Apply(d, target, quality, acceptable)
	return err
}
