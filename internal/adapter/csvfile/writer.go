package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/owid-pivot/internal/domain"
)

// Writer persists wide-format matrices as CSV files.
// It implements pipeline.Loader.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a CSV file writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// Format names the output format for metrics and logs.
func (w *Writer) Format() string { return "csv" }

// Load writes m to job.Path. The file is replaced atomically: readers see
// either the previous contents or the complete new table.
func (w *Writer) Load(ctx context.Context, job domain.Job, m domain.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := WriteFileAtomic(job.Path, func(f io.Writer) error {
		return WriteMatrix(f, m)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", job.Path, err)
	}
	w.logger.Debug("csv written", "path", job.Path, "rows", len(m.Dates), "regions", len(m.Regions))
	return nil
}

// WriteMatrix encodes the header and all rows of m as comma-separated values.
// Fields containing a comma, quote, or newline are quoted.
func WriteMatrix(dst io.Writer, m domain.Matrix) error {
	cw := csv.NewWriter(dst)
	if err := cw.Write(m.Header()); err != nil {
		return err
	}
	for i := range m.Dates {
		if err := cw.Write(m.Row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFileAtomic writes to a temporary file beside path and renames it into
// place once write succeeds. Parent directories are created as needed.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()           //nolint:errcheck // already failing
			os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
