package xlsx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	defaultSheet = "Sheet1"
	maxSheetName = 31
)

// Writer persists wide-format matrices as Excel workbooks with one sheet
// named after the metric. It implements pipeline.Loader.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates an XLSX writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// Format names the output format for metrics and logs.
func (w *Writer) Format() string { return "xlsx" }

// Load writes m to job.Path, replacing any previous workbook atomically.
func (w *Writer) Load(ctx context.Context, job domain.Job, m domain.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := Build(m)
	if err != nil {
		return fmt.Errorf("build workbook %s: %w", job.Path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			w.logger.Warn("close workbook failed", "path", job.Path, "error", err)
		}
	}()

	err = csvfile.WriteFileAtomic(job.Path, func(dst io.Writer) error {
		return f.Write(dst)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", job.Path, err)
	}
	w.logger.Debug("xlsx written", "path", job.Path, "sheet", SheetName(m.Metric.Name))
	return nil
}

// Build lays m out on a fresh workbook: header in row 1, one row per date.
// Numeric cells are stored as numbers and missing cells are left blank.
func Build(m domain.Matrix) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := SheetName(m.Metric.Name)
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, err
	}

	header := make([]any, 0, len(m.Regions)+1)
	for _, h := range m.Header() {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i := range m.Dates {
		row := make([]any, 0, len(m.Regions)+1)
		row = append(row, m.Dates[i])
		for _, c := range m.Cells[i] {
			row = append(row, cellValue(c))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close() //nolint:errcheck // already failing
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f, nil
}

// SheetName makes a metric name safe for use as an Excel sheet title.
func SheetName(metric string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, metric)
	if name == "" {
		return defaultSheet
	}
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	return name
}

// cellValue stores finite numbers as numeric cells and everything else,
// including "NaN" and "Inf", as text.
func cellValue(s string) any {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return s
}
