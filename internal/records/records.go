// File: internal/records/records.go
//
// Package records defines the input records the pipeline works through and
// the normalization rules applied when loading them. Records are immutable
// once loaded.
package records

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ground-check outcome codes, a closed enumeration. Labels are the exact
// option texts of the target form.
const (
	CodeNotFound  = 0 // Tidak Ditemukan
	CodeFound     = 1 // Ditemukan
	CodeClosed    = 3 // Tutup
	CodeDuplicate = 4 // Ganda
)

// CodeLabels maps valid outcome codes to their form labels.
var CodeLabels = map[int]string{
	CodeNotFound:  "Tidak Ditemukan",
	CodeFound:     "Ditemukan",
	CodeClosed:    "Tutup",
	CodeDuplicate: "Ganda",
}

// Record is one unit of work: a business to locate and mark on the surface.
type Record struct {
	// IDSBR is the registry key used for exact lookups.
	IDSBR string
	// Name and Address are free text used for fuzzy matching.
	Name    string
	Address string
	// Latitude/Longitude are pre-validated strings, empty when absent or out
	// of range.
	Latitude  string
	Longitude string
	// Code is the outcome to submit; nil when missing or invalid.
	Code *int
}

// CodeString renders the outcome code for ledgers and form values.
func (r Record) CodeString() string {
	if r.Code == nil {
		return ""
	}
	return strconv.Itoa(*r.Code)
}

// Source yields an ordered record sequence. The pipeline only needs indexed
// access and a stable total.
type Source interface {
	Len() int
	At(i int) Record
}

// SliceSource adapts an in-memory slice to Source.
type SliceSource []Record

func (s SliceSource) Len() int        { return len(s) }
func (s SliceSource) At(i int) Record { return s[i] }

// Window is a 1-based inclusive range over a record sequence.
type Window struct {
	Start int
	End   int
}

// Clamp validates the window against total and resolves open ends. Start or
// End <= 0 means "unset" and defaults to the full range. A start past the
// total or a start beyond the end yields an error: there is nothing to do
// and silently doing nothing hides operator mistakes.
func (w Window) Clamp(total int) (Window, error) {
	if w.Start <= 0 {
		w.Start = 1
	}
	if w.End <= 0 || w.End > total {
		w.End = total
	}
	if w.Start > w.End {
		return w, fmt.Errorf("start row %d is greater than end row %d", w.Start, w.End)
	}
	if w.Start > total {
		return w, fmt.Errorf("start row %d exceeds total rows %d", w.Start, total)
	}
	return w, nil
}

// NormalizeText trims a raw cell value.
func NormalizeText(value string) string {
	return strings.TrimSpace(value)
}

// NormalizeLatLon validates a coordinate string against the given range and
// returns a clean decimal representation, or "" when the value is absent,
// unparsable or out of range. Integral values lose their fraction so "12.0"
// round-trips as "12", matching what the form expects.
func NormalizeLatLon(value string, minValue, maxValue float64) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(number) {
		return ""
	}
	if number < minValue || number > maxValue {
		return ""
	}
	if number == math.Trunc(number) {
		return strconv.FormatInt(int64(number), 10)
	}
	return strconv.FormatFloat(number, 'f', -1, 64)
}

// NormalizeCode parses an outcome code and validates it against the closed
// enumeration. Invalid or empty input yields nil.
func NormalizeCode(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	// Spreadsheet exports often render integers as floats ("1.0").
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || number != math.Trunc(number) {
		return nil
	}
	code := int(number)
	if _, ok := CodeLabels[code]; !ok {
		return nil
	}
	return &code
}
