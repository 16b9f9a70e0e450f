package domain

import (
	"fmt"
	"slices"
	"time"
)

// HeaderDate is the first header cell of every wide table.
const HeaderDate = "Date"

// DuplicatePolicy decides which observation fills a cell when the source has
// more than one row for the same (date, region).
type DuplicatePolicy string

const (
	// DuplicatesFirst keeps the first observation in file order.
	DuplicatesFirst DuplicatePolicy = "first"
	// DuplicatesLast lets later observations overwrite earlier ones.
	DuplicatesLast DuplicatePolicy = "last"
)

// ParseDuplicatePolicy validates a policy name. The empty string means first.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicatesFirst:
		return DuplicatesFirst, nil
	case DuplicatesLast:
		return DuplicatesLast, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// KeySets returns the distinct dates and regions of obs, each sorted ascending.
func KeySets(obs []Observation) (dates, regions []string) {
	seenDates := make(map[string]struct{})
	seenRegions := make(map[string]struct{})
	for _, o := range obs {
		if _, ok := seenDates[o.Date]; !ok {
			seenDates[o.Date] = struct{}{}
			dates = append(dates, o.Date)
		}
		if _, ok := seenRegions[o.Region]; !ok {
			seenRegions[o.Region] = struct{}{}
			regions = append(regions, o.Region)
		}
	}
	slices.Sort(dates)
	slices.Sort(regions)
	return dates, regions
}

type cellKey struct {
	date   string
	region string
}

// Index maps (date, region) to the value of one measurement column.
type Index struct {
	cells map[cellKey]string
}

// NewIndex builds the lookup for column in a single pass over obs.
func NewIndex(obs []Observation, column int, policy DuplicatePolicy) *Index {
	cells := make(map[cellKey]string, len(obs))
	for _, o := range obs {
		k := cellKey{date: o.Date, region: o.Region}
		if _, exists := cells[k]; exists && policy != DuplicatesLast {
			continue
		}
		cells[k] = o.Value(column)
	}
	return &Index{cells: cells}
}

// Lookup returns the indexed value and whether any observation matched.
func (ix *Index) Lookup(date, region string) (string, bool) {
	v, ok := ix.cells[cellKey{date: date, region: region}]
	return v, ok
}

// Len returns the number of distinct (date, region) pairs indexed.
func (ix *Index) Len() int {
	return len(ix.cells)
}

// Matrix is the dense Date × Region rendition of one metric.
type Matrix struct {
	Metric      Metric
	Dates       []string
	Regions     []string
	Cells       [][]string // Cells[i][j] belongs to Dates[i], Regions[j]
	Omitted     int        // observations whose row ends before Metric.Column
	GeneratedAt time.Time
}

// Reaching splits obs into the observations that carry column and the ones
// whose row is too short for it, keeping file order. When every observation
// reaches column, kept is obs itself.
func Reaching(obs []Observation, column int) (kept, short []Observation) {
	i := slices.IndexFunc(obs, func(o Observation) bool { return !o.Reaches(column) })
	if i < 0 {
		return obs, nil
	}
	kept = append(make([]Observation, 0, len(obs)), obs[:i]...)
	for _, o := range obs[i:] {
		if o.Reaches(column) {
			kept = append(kept, o)
		} else {
			short = append(short, o)
		}
	}
	return kept, short
}

// Pivot reshapes obs into a Matrix for metric. Observations too short to
// carry the metric column are left out of this matrix only, so the regions
// and dates of one metric never depend on which other metrics are produced.
// Missing pairs become "".
func Pivot(obs []Observation, metric Metric, policy DuplicatePolicy) Matrix {
	obs, short := Reaching(obs, metric.Column)
	dates, regions := KeySets(obs)
	ix := NewIndex(obs, metric.Column, policy)

	cells := make([][]string, len(dates))
	for i, date := range dates {
		row := make([]string, len(regions))
		for j, region := range regions {
			if v, ok := ix.Lookup(date, region); ok {
				row[j] = v
			}
		}
		cells[i] = row
	}

	return Matrix{
		Metric:      metric,
		Dates:       dates,
		Regions:     regions,
		Cells:       cells,
		Omitted:     len(short),
		GeneratedAt: clock.Now(),
	}
}

// Header returns the header record: "Date" followed by the regions.
func (m Matrix) Header() []string {
	header := make([]string, 0, len(m.Regions)+1)
	header = append(header, HeaderDate)
	return append(header, m.Regions...)
}

// Row returns data record i: the date followed by one cell per region.
func (m Matrix) Row(i int) []string {
	row := make([]string, 0, len(m.Regions)+1)
	row = append(row, m.Dates[i])
	return append(row, m.Cells[i]...)
}

// Records returns the header and every data row, ready for a CSV writer.
func (m Matrix) Records() [][]string {
	records := make([][]string, 0, len(m.Dates)+1)
	records = append(records, m.Header())
	for i := range m.Dates {
		records = append(records, m.Row(i))
	}
	return records
}

// CellStats counts non-empty and empty cells.
func (m Matrix) CellStats() (filled, empty int) {
	for _, row := range m.Cells {
		for _, c := range row {
			if c == "" {
				empty++
			} else {
				filled++
			}
		}
	}
	return filled, empty
}
