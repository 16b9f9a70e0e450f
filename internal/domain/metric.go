package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMetric is returned when a metric name is not in the catalog.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric names one measurement column of the long-format source and the file
// its wide rendition is written to by default.
type Metric struct {
	Name   string
	Column int
	File   string
}

var catalog = []Metric{
	{Name: "cumulative_total", Column: 6, File: "cumulative_total_tests.csv"},
	{Name: "daily_change", Column: 7, File: "daily_change_in_total_tests.csv"},
	{Name: "cumulative_total_per_thousand", Column: 8, File: "cumulative_total_tests_per_thousand.csv"},
	{Name: "daily_change_per_thousand", Column: 9, File: "daily_change_in_total_tests_per_thousand.csv"},
	{Name: "rolling_3day_daily_change", Column: 10, File: "3_day_rolling_mean_daily_change.csv"},
	{Name: "rolling_3day_daily_change_per_thousand", Column: 11, File: "3_day_rolling_mean_daily_change_per_thousand.csv"},
	{Name: "rolling_7day_daily_change", Column: 12, File: "7_day_rolling_mean_daily_change.csv"},
	{Name: "rolling_7day_daily_change_per_thousand", Column: 13, File: "7_day_rolling_mean_daily_change_per_thousand.csv"},
}

// Metrics returns a copy of the metric catalog in column order.
func Metrics() []Metric {
	out := make([]Metric, len(catalog))
	copy(out, catalog)
	return out
}

// LookupMetric finds a catalog metric by name (case-insensitive).
func LookupMetric(name string) (Metric, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range catalog {
		if m.Name == name {
			return m, nil
		}
	}
	return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// MetricForColumn returns the catalog metric stored at column, if any.
func MetricForColumn(column int) (Metric, bool) {
	for _, m := range catalog {
		if m.Column == column {
			return m, true
		}
	}
	return Metric{}, false
}

// Job is one requested output: which metric to pivot and where to put it.
type Job struct {
	Metric Metric
	Path   string
}
