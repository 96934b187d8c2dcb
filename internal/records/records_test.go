// File: internal/records/records_test.go
package records

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLatLon(t *testing.T) {
	tests := []struct {
		name string
		in   string
		min  float64
		max  float64
		want string
	}{
		{"empty", "", -90, 90, ""},
		{"valid latitude", "-6.2", -90, 90, "-6.2"},
		{"integral loses fraction", "12.0", -90, 90, "12"},
		{"out of range high", "91", -90, 90, ""},
		{"out of range low", "-181", -180, 180, ""},
		{"garbage", "abc", -90, 90, ""},
		{"whitespace", "  106.8  ", -180, 180, "106.8"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeLatLon(tc.in, tc.min, tc.max))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	valid := NormalizeCode("1")
	require.NotNil(t, valid)
	assert.Equal(t, CodeFound, *valid)

	floaty := NormalizeCode("3.0")
	require.NotNil(t, floaty)
	assert.Equal(t, CodeClosed, *floaty)

	assert.Nil(t, NormalizeCode(""))
	assert.Nil(t, NormalizeCode("2"), "2 is not in the closed enumeration")
	assert.Nil(t, NormalizeCode("x"))
	assert.Nil(t, NormalizeCode("1.5"))
}

func TestWindowClamp(t *testing.T) {
	w, err := Window{}.Clamp(10)
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 1, End: 10}, w)

	w, err = Window{Start: 3, End: 7}.Clamp(10)
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 3, End: 7}, w)

	w, err = Window{Start: 3, End: 99}.Clamp(10)
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 3, End: 10}, w, "end clamps to total")

	_, err = Window{Start: 8, End: 2}.Clamp(10)
	assert.Error(t, err)

	_, err = Window{Start: 11}.Clamp(10)
	assert.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"no,idsbr,Nama Usaha,Alamat,latitude,longitude,hasil_gc",
		"1,1234567,Toko Maju,Jl. Sudirman 12,-6.2,106.8,1",
		"2,2345678,Toko Baru,,91,200,0",
		"3,,,,,,",
		"4,3456789,Warung Kecil,Jl. Anggrek,,,9",
	}, "\n")

	rows, err := parseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3, "the all-empty row is dropped")

	first := rows.At(0)
	assert.Equal(t, "1234567", first.IDSBR)
	assert.Equal(t, "Toko Maju", first.Name)
	assert.Equal(t, "Jl. Sudirman 12", first.Address)
	assert.Equal(t, "-6.2", first.Latitude)
	assert.Equal(t, "106.8", first.Longitude)
	require.NotNil(t, first.Code)
	assert.Equal(t, CodeFound, *first.Code)

	second := rows.At(1)
	assert.Empty(t, second.Latitude, "out-of-range latitude is blanked")
	assert.Empty(t, second.Longitude, "out-of-range longitude is blanked")
	require.NotNil(t, second.Code)
	assert.Equal(t, CodeNotFound, *second.Code)

	third := rows.At(2)
	assert.Nil(t, third.Code, "code outside the enumeration is dropped")
	assert.Equal(t, "", third.CodeString())
}

func TestParseCSVHeaderAliases(t *testing.T) {
	input := strings.Join([]string{
		"IDSBR,nama,alamat usaha,LAT,LON,keberadaanusaha_gc",
		"111,Kios A,Jl. Mawar,0.5,101.4,4",
	}, "\n")

	rows, err := parseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rec := rows.At(0)
	assert.Equal(t, "111", rec.IDSBR)
	assert.Equal(t, "Kios A", rec.Name)
	assert.Equal(t, "Jl. Mawar", rec.Address)
	require.NotNil(t, rec.Code)
	assert.Equal(t, CodeDuplicate, *rec.Code)
	assert.Equal(t, "4", rec.CodeString())
}

func TestParseCSVEmpty(t *testing.T) {
	rows, err := parseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, rows.Len())
}
