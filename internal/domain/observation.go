package domain

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the only date format accepted in the source date column.
const DateLayout = "2006-01-02"

// Default column positions in the OWID testing CSV.
const (
	DefaultRegionColumn = 0
	DefaultDateColumn   = 2
)

var (
	// ErrSourceUnavailable is returned when an input file is missing or unreadable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidDate marks a row whose date field is not a YYYY-MM-DD date.
	ErrInvalidDate = errors.New("invalid date")
)

// MalformedRowError reports a row with fewer fields than the configured
// columns require.
type MalformedRowError struct {
	Line   int
	Fields int
	Want   int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at line %d: has %d fields, need at least %d", e.Line, e.Fields, e.Want)
}

// SkipReason labels why a source row did not become an Observation.
type SkipReason string

const (
	SkipInvalidDate SkipReason = "invalid_date"
	SkipMalformed   SkipReason = "malformed"
)

// Columns locates the key fields and every measurement column a run reads.
type Columns struct {
	Region int
	Date   int
	Values []int
}

// DefaultColumns returns the OWID region/date positions with the given value columns.
func DefaultColumns(values ...int) Columns {
	return Columns{Region: DefaultRegionColumn, Date: DefaultDateColumn, Values: values}
}

// Width is the minimum number of fields a row needs for every configured column.
func (c Columns) Width() int {
	highest := max(c.Region, c.Date)
	for _, v := range c.Values {
		highest = max(highest, v)
	}
	return highest + 1
}

// Observation is one long-format row: a region's measurements on a date.
type Observation struct {
	Region string
	Date   string
	Fields []string
	Line   int
}

// Value returns the raw text at column, or "" when the row does not reach it.
func (o Observation) Value(column int) string {
	if column < 0 || column >= len(o.Fields) {
		return ""
	}
	return o.Fields[column]
}

// Reaches reports whether the source row has a field at column.
func (o Observation) Reaches(column int) bool {
	return column >= 0 && column < len(o.Fields)
}

// ParseRecord converts one CSV record into an Observation. It returns a
// *MalformedRowError for short rows and an error wrapping ErrInvalidDate when
// the date field is not a YYYY-MM-DD date.
func ParseRecord(record []string, line int, cols Columns) (Observation, error) {
	if want := cols.Width(); len(record) < want {
		return Observation{}, &MalformedRowError{Line: line, Fields: len(record), Want: want}
	}

	date := record[cols.Date]
	if !ValidDate(date) {
		return Observation{}, fmt.Errorf("line %d: %w: %q", line, ErrInvalidDate, date)
	}

	fields := make([]string, len(record))
	copy(fields, record)

	return Observation{
		Region: record[cols.Region],
		Date:   date,
		Fields: fields,
		Line:   line,
	}, nil
}

// ValidDate reports whether s is a calendar date in YYYY-MM-DD form.
// "2020-1-1" and "2020-02-30" are both rejected.
func ValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// Scan is the result of reading a long-format source once.
type Scan struct {
	Observations []Observation
	Skipped      map[SkipReason]int
}

// Skip records one dropped row.
func (s *Scan) Skip(reason SkipReason) {
	if s.Skipped == nil {
		s.Skipped = make(map[SkipReason]int)
	}
	s.Skipped[reason]++
}

// TotalSkipped returns the number of rows dropped for any reason.
func (s Scan) TotalSkipped() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}
