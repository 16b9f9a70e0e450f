package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/owid-pivot/internal/domain"
)

const (
	utf8BOM = "\ufeff"

	// ctxCheckEvery bounds how many rows are read between cancellation checks.
	ctxCheckEvery = 4096
)

// Options controls how a long-format source is interpreted.
type Options struct {
	// HasHeader skips the first record unconditionally.
	HasHeader bool
	// Strict aborts on a malformed row instead of skipping it.
	Strict bool
}

// Reader loads observations from a long-format CSV file.
// It implements pipeline.Extractor.
type Reader struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// NewReader creates a Reader for the file at path.
func NewReader(path string, opts Options, logger *slog.Logger) *Reader {
	return &Reader{path: path, opts: opts, logger: logger}
}

// Extract opens the source and reads every observation. A missing or
// unreadable file yields an error wrapping domain.ErrSourceUnavailable.
func (r *Reader) Extract(ctx context.Context, cols domain.Columns) (domain.Scan, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return domain.Scan{}, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer f.Close()

	scan, err := ReadObservations(ctx, f, cols, r.opts, r.logger.With("path", r.path))
	if err != nil {
		return domain.Scan{}, err
	}
	return scan, nil
}

// ReadObservations parses a long-format CSV stream. Rows with an invalid date
// are dropped; malformed rows are dropped with a warning, or abort the read
// with a *domain.MalformedRowError when opts.Strict is set.
func ReadObservations(ctx context.Context, src io.Reader, cols domain.Columns, opts Options, logger *slog.Logger) (domain.Scan, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var scan domain.Scan
	first := true

	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return domain.Scan{}, err
			}
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			malformed := &domain.MalformedRowError{Line: parseErr.StartLine, Want: cols.Width()}
			if opts.Strict {
				return domain.Scan{}, fmt.Errorf("%w: %w", malformed, err)
			}
			logger.Warn("unparseable row, skipping", "line", parseErr.StartLine, "error", err)
			scan.Skip(domain.SkipMalformed)
			first = false
			continue
		}
		if err != nil {
			return domain.Scan{}, fmt.Errorf("read csv: %w", err)
		}

		if first {
			first = false
			if len(record) > 0 {
				record[0] = strings.TrimPrefix(record[0], utf8BOM)
			}
			if opts.HasHeader {
				continue
			}
		}

		line, _ := cr.FieldPos(0)
		o, err := domain.ParseRecord(record, line, cols)
		if err != nil {
			var malformed *domain.MalformedRowError
			switch {
			case errors.As(err, &malformed):
				if opts.Strict {
					return domain.Scan{}, err
				}
				logger.Warn("malformed row, skipping", "line", line, "fields", malformed.Fields, "want", malformed.Want)
				scan.Skip(domain.SkipMalformed)
			case errors.Is(err, domain.ErrInvalidDate):
				logger.Debug("invalid date, skipping", "line", line, "error", err)
				scan.Skip(domain.SkipInvalidDate)
			default:
				return domain.Scan{}, err
			}
			continue
		}
		scan.Observations = append(scan.Observations, o)
	}

	return scan, nil
}
