// Package domain models Our World In Data (OWID) COVID-19 testing observations
// and the long-to-wide pivot applied to them.
//
// # Data Source
//
// The source is the OWID "covid-testing-all-observations" CSV, published at
// https://github.com/owid/covid-19-data/tree/master/public/data/testing. Each
// row is one observation of one entity (country or reporting unit) on one day:
//
//	Entity,ISO code,Date,Source URL,Source label,Notes,Cumulative total,
//	Daily change in cumulative total,Cumulative total per thousand,
//	Daily change in cumulative total per thousand,
//	3-day rolling mean daily change,3-day rolling mean daily change per thousand,
//	7-day rolling mean daily change,7-day rolling mean daily change per thousand
//
// Only three positions matter for a pivot: the region (column 0), the date
// (column 2) and one measurement column (6 through 13, see [Metrics]).
//
// # Conventions
//
// Dates are "YYYY-MM-DD", so lexical order is chronological order. Rows whose
// date field does not parse in that layout ("2020-1-1", a stray header, an
// empty cell) are not observations and are dropped before any key set is
// derived. Measurement values are carried as the raw source text; the pivot
// never reformats numbers, so "1234.0" stays "1234.0".
//
// # Wide Format
//
// A [Matrix] has one row per distinct date and one column per distinct
// region, both sorted ascending:
//
//	Date,CAN,USA
//	2020-01-01,5,10
//	2020-01-02,,20
//
// A (date, region) pair with no observation is an empty cell, never omitted.
// When the source holds duplicate (date, region) observations, the first in
// file order wins unless [DuplicatesLast] is selected.
package domain
