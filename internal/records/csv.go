// File: internal/records/csv.go
package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column aliases seen across directory exports. Header matching is
// case-insensitive and tolerates suffixes after a space or colon.
var (
	aliasID      = []string{"idsbr"}
	aliasName    = []string{"nama_usaha", "nama usaha", "namausaha", "nama"}
	aliasAddress = []string{"alamat", "alamat usaha", "alamat_usaha"}
	aliasLat     = []string{"latitude", "lat"}
	aliasLon     = []string{"longitude", "long", "lon"}
	aliasCode    = []string{"hasil_gc", "hasil gc", "hasilgc", "ag", "keberadaanusaha_gc"}
)

// normalizeHeader lowercases and collapses a header cell.
func normalizeHeader(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(value))), " ")
}

// headerMatches reports whether header is name, or name followed by a space
// or colon qualifier ("latitude (deg)" matches "latitude").
func headerMatches(header, name string) bool {
	if header == "" {
		return false
	}
	name = strings.ToLower(name)
	return header == name ||
		strings.HasPrefix(header, name+" ") ||
		strings.HasPrefix(header, name+":")
}

// findColumn returns the index of the first header matching any alias, or -1.
func findColumn(headers []string, aliases []string) int {
	for _, alias := range aliases {
		for i, header := range headers {
			if headerMatches(header, alias) {
				return i
			}
		}
	}
	return -1
}

// LoadCSV reads an input file into records. Rows with no id, name and
// address are dropped; coordinates and outcome codes are range-validated
// during load so the pipeline never sees raw cell junk.
func LoadCSV(path string) (SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (SliceSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input header: %w", err)
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = normalizeHeader(h)
	}

	colID := findColumn(headers, aliasID)
	colName := findColumn(headers, aliasName)
	colAddress := findColumn(headers, aliasAddress)
	colLat := findColumn(headers, aliasLat)
	colLon := findColumn(headers, aliasLon)
	colCode := findColumn(headers, aliasCode)
	// The registry export puts the ground-check column at position 33 when
	// it carries a non-standard header.
	if colCode < 0 && len(headers) >= 33 {
		colCode = 32
	}

	cell := func(row []string, col int) string {
		if col < 0 || col >= len(row) {
			return ""
		}
		return row[col]
	}

	var rows SliceSource
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input row: %w", err)
		}
		rec := Record{
			IDSBR:     NormalizeText(cell(row, colID)),
			Name:      NormalizeText(cell(row, colName)),
			Address:   NormalizeText(cell(row, colAddress)),
			Latitude:  NormalizeLatLon(cell(row, colLat), -90, 90),
			Longitude: NormalizeLatLon(cell(row, colLon), -180, 180),
			Code:      NormalizeCode(cell(row, colCode)),
		}
		if rec.IDSBR == "" && rec.Name == "" && rec.Address == "" {
			continue
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
