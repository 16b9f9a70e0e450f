// Package dataset reads wide-format tables back into per-region series.
//
// A wide table has "Date" (or any label) in its first header cell followed by
// one region per column. Each data row starts with a date; an empty cell
// means the region reported nothing that day.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/owid-pivot/internal/domain"
)

// ErrNoRegions is returned when a header names no region columns.
var ErrNoRegions = errors.New("header contains no regions")

// RegionData is the series of one region column.
type RegionData struct {
	name    string
	index   int
	dates   []string
	amounts map[string]float64
	present map[string]bool
}

func newRegionData(name string, index int) *RegionData {
	return &RegionData{
		name:    name,
		index:   index,
		amounts: make(map[string]float64),
		present: make(map[string]bool),
	}
}

// Name returns the region name taken from the header.
func (r *RegionData) Name() string { return r.name }

// Index returns the region's column position; the first region is 1.
func (r *RegionData) Index() int { return r.index }

// Len returns the number of dates that carry a cell for this region,
// empty cells included.
func (r *RegionData) Len() int { return len(r.dates) }

// Dates returns the region's dates in file order.
func (r *RegionData) Dates() []string { return slices.Clone(r.dates) }

// AmountAt returns the value at date. ok is false when the cell is empty or
// the date is absent.
func (r *RegionData) AmountAt(date string) (amount float64, ok bool) {
	amount, ok = r.amounts[date]
	return amount, ok
}

// Has reports whether the table had a row for date, empty or not.
func (r *RegionData) Has(date string) bool { return r.present[date] }

func (r *RegionData) set(date, cell string) error {
	if r.present[date] {
		return nil
	}
	r.present[date] = true
	r.dates = append(r.dates, date)
	if cell == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return fmt.Errorf("region %q on %s: %w", r.name, date, err)
	}
	r.amounts[date] = v
	return nil
}

// Dataset is a wide table indexed by region.
type Dataset struct {
	name    string
	regions []string
	dates   []string
	byName  map[string]*RegionData
}

// Load reads the wide CSV at path. A missing or unreadable file yields an
// error wrapping domain.ErrSourceUnavailable.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer f.Close()

	return Read(f, path)
}

// Read parses a wide CSV stream. name labels the dataset, typically its path.
func Read(src io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", name, ErrNoRegions)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoRegions)
	}

	ds := &Dataset{
		name:    name,
		regions: slices.Clone(header[1:]),
		byName:  make(map[string]*RegionData, len(header)-1),
	}
	for i, region := range ds.regions {
		if _, dup := ds.byName[region]; dup {
			return nil, fmt.Errorf("%s: duplicate region %q in header", name, region)
		}
		ds.byName[region] = newRegionData(region, i+1)
	}

	seen := make(map[string]bool)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(record) > len(header) {
			return nil, fmt.Errorf("%s line %d: %d fields, header has %d", name, line, len(record), len(header))
		}

		date := record[0]
		if !seen[date] {
			seen[date] = true
			ds.dates = append(ds.dates, date)
		}
		for i, cell := range record[1:] {
			if err := ds.byName[ds.regions[i]].set(date, cell); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", name, line, err)
			}
		}
	}

	return ds, nil
}

// Name returns the label the dataset was loaded under.
func (d *Dataset) Name() string { return d.name }

// Len returns the number of regions.
func (d *Dataset) Len() int { return len(d.regions) }

// Regions returns the region names in header order.
func (d *Dataset) Regions() []string { return slices.Clone(d.regions) }

// Dates returns the distinct row dates in file order.
func (d *Dataset) Dates() []string { return slices.Clone(d.dates) }

// Region looks up a region's series by name.
func (d *Dataset) Region(name string) (*RegionData, bool) {
	r, ok := d.byName[name]
	return r, ok
}
