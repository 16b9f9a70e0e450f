package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "date,World,United States\n" +
	"2019-12-31,0,0\n" +
	"2020-01-01,20,10\n" +
	"2020-01-02,40,15\n"

func TestLoad_Sample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "total_cases.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	ds, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, ds.Name())
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"World", "United States"}, ds.Regions())
	assert.Equal(t, []string{"2019-12-31", "2020-01-01", "2020-01-02"}, ds.Dates())

	tests := []struct {
		region string
		index  int
		want   []float64
	}{
		{"World", 1, []float64{0, 20, 40}},
		{"United States", 2, []float64{0, 10, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.region, func(t *testing.T) {
			r, ok := ds.Region(tt.region)
			require.True(t, ok)
			assert.Equal(t, tt.region, r.Name())
			assert.Equal(t, tt.index, r.Index())
			require.Equal(t, len(tt.want), r.Len())
			for i, date := range ds.Dates() {
				got, ok := r.AmountAt(date)
				require.True(t, ok, date)
				assert.InDelta(t, tt.want[i], got, 1e-9, date)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "doesn't exist"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestRead_NoRegions(t *testing.T) {
	for name, body := range map[string]string{
		"empty":       "",
		"date only":   "Date\n2020-01-01\n",
		"blank lines": "\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(body), "test")
			assert.ErrorIs(t, err, ErrNoRegions)
		})
	}
}

func TestRead_EmptyCellsAreAbsentAmounts(t *testing.T) {
	ds, err := Read(strings.NewReader("Date,CAN,USA\n2020-01-01,5,10\n2020-01-02,,20\n"), "wide")
	require.NoError(t, err)

	can, ok := ds.Region("CAN")
	require.True(t, ok)

	v, ok := can.AmountAt("2020-01-01")
	assert.True(t, ok)
	assert.InDelta(t, 5.0, v, 0)

	_, ok = can.AmountAt("2020-01-02")
	assert.False(t, ok)
	assert.True(t, can.Has("2020-01-02"))
	assert.Equal(t, 2, can.Len())

	_, ok = can.AmountAt("1999-01-01")
	assert.False(t, ok)
	assert.False(t, can.Has("1999-01-01"))
}

func TestRead_ShortRowsLeaveTrailingRegionsUnset(t *testing.T) {
	ds, err := Read(strings.NewReader("Date,A,B\n2020-01-01,1\n"), "short")
	require.NoError(t, err)

	b, _ := ds.Region("B")
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Dates())
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"too many fields", "Date,A\n2020-01-01,1,2\n", "header has 2"},
		{"non-numeric", "Date,A\n2020-01-01,lots\n", `region "A" on 2020-01-01`},
		{"duplicate region", "Date,A,A\n", `duplicate region "A"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.body), "bad")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRead_QuotedRegions(t *testing.T) {
	ds, err := Read(strings.NewReader("\ufeffDate,\"Korea, South\"\n2020-01-01,3.5\n"), "quoted")
	require.NoError(t, err)
	assert.Equal(t, []string{"Korea, South"}, ds.Regions())

	r, ok := ds.Region("Korea, South")
	require.True(t, ok)
	v, ok := r.AmountAt("2020-01-01")
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 0)
}
