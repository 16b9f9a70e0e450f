// Command validate checks wide-format outputs against the long-format source
// they were produced from. For every metric it verifies the header regions,
// the date column, each cell value, and that re-running the pivot reproduces
// the file byte for byte.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -input testdata/covid-testing-all-observations.csv \
//	  -dir out \
//	  -metrics cumulative_total,daily_change
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	"github.com/couchcryptid/owid-pivot/internal/dataset"
	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/couchcryptid/owid-pivot/internal/observability"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	input      string
	dir        string
	metrics    []string
	duplicates domain.DuplicatePolicy
	hasHeader  bool
}

func main() {
	input := flag.String("input", "", "long-format source CSV")
	dir := flag.String("dir", ".", "directory containing the wide outputs")
	metrics := flag.String("metrics", "", "comma-separated metrics to check (default: every output present in -dir)")
	duplicates := flag.String("duplicates", "first", "duplicate policy the outputs were produced with")
	noHeader := flag.Bool("no-header", false, "the source has no header line")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}
	policy, err := domain.ParseDuplicatePolicy(*duplicates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	var names []string
	for _, m := range strings.Split(*metrics, ",") {
		if m = strings.TrimSpace(m); m != "" {
			names = append(names, m)
		}
	}

	os.Exit(run(os.Stdout, options{
		input:      *input,
		dir:        *dir,
		metrics:    names,
		duplicates: policy,
		hasHeader:  !*noHeader,
	}))
}

func run(w io.Writer, opts options) int {
	fmt.Fprintln(w, "=== Wide Output Integrity Validation ===")
	fmt.Fprintln(w)

	metrics, err := selectMetrics(opts)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	if len(metrics) == 0 {
		fmt.Fprintf(w, "FATAL: no wide outputs found in %s\n", opts.dir)
		return 1
	}

	src := csvfile.NewReader(opts.input, csvfile.Options{HasHeader: opts.hasHeader}, observability.DiscardLogger())
	scan, err := src.Extract(context.Background(), domain.DefaultColumns())
	if err != nil {
		fmt.Fprintf(w, "FATAL: load source: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "Source: %d observations, %d rows skipped\n\n", len(scan.Observations), scan.TotalSkipped())

	var phases []*phase
	for _, m := range metrics {
		path := filepath.Join(opts.dir, m.File)
		ds, err := dataset.Load(path)
		if err != nil {
			p := &phase{name: m.Name + ": load"}
			p.errorf("%v", err)
			phases = append(phases, p)
			continue
		}
		// A row too short for this metric's column is not part of its table.
		obs, short := domain.Reaching(scan.Observations, m.Column)
		if len(short) > 0 {
			fmt.Fprintf(w, "%s: %d rows end before column %d\n", m.Name, len(short), m.Column)
		}
		phases = append(phases,
			validateHeader(m, ds, obs),
			validateDates(m, ds, obs),
			validateCells(m, ds, obs, opts.duplicates),
			validateReproducible(m, path, scan.Observations, opts.duplicates),
		)
	}

	return report(w, phases)
}

func report(w io.Writer, phases []*phase) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-58s %s\n", p.name, status)
	}

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// selectMetrics resolves -metrics, or finds every catalog output present in dir.
func selectMetrics(opts options) ([]domain.Metric, error) {
	if len(opts.metrics) > 0 {
		out := make([]domain.Metric, 0, len(opts.metrics))
		for _, name := range opts.metrics {
			m, err := domain.LookupMetric(name)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	}

	var out []domain.Metric
	for _, m := range domain.Metrics() {
		if _, err := os.Stat(filepath.Join(opts.dir, m.File)); err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// ── Phase: header ──
// Regions must be the distinct source regions, sorted, without repeats.

func validateHeader(m domain.Metric, ds *dataset.Dataset, obs []domain.Observation) *phase {
	p := &phase{name: m.Name + ": header regions"}
	_, want := domain.KeySets(obs)
	got := ds.Regions()

	if !slices.IsSorted(got) {
		p.errorf("regions are not in ascending order")
	}
	if len(got) != len(want) {
		p.errorf("header has %d regions, source has %d", len(got), len(want))
	}
	for _, r := range want {
		if _, ok := ds.Region(r); !ok {
			p.errorf("source region %q missing from header", r)
		}
	}
	for _, r := range got {
		if _, found := slices.BinarySearch(want, r); !found {
			p.errorf("header region %q does not occur in source", r)
		}
	}
	return p
}

// ── Phase: date column ──
// One row per distinct valid source date, strictly ascending.

func validateDates(m domain.Metric, ds *dataset.Dataset, obs []domain.Observation) *phase {
	p := &phase{name: m.Name + ": date column"}
	want, _ := domain.KeySets(obs)
	got := ds.Dates()

	for i, d := range got {
		if !domain.ValidDate(d) {
			p.errorf("row %d: %q is not a YYYY-MM-DD date", i+2, d)
		}
		if i > 0 && got[i-1] >= d {
			p.errorf("row %d: %s does not follow %s", i+2, d, got[i-1])
		}
	}
	if !slices.Equal(got, want) {
		p.errorf("date column has %d dates, source has %d distinct valid dates", len(got), len(want))
	}
	return p
}

// ── Phase: cell values ──
// Each cell equals the winning source observation; pairs without one are empty.

func validateCells(m domain.Metric, ds *dataset.Dataset, obs []domain.Observation, policy domain.DuplicatePolicy) *phase {
	p := &phase{name: m.Name + ": cell values (" + string(policy) + " wins)"}

	expected := make(map[[2]string]string)
	for _, o := range obs {
		k := [2]string{o.Date, o.Region}
		if _, seen := expected[k]; seen && policy == domain.DuplicatesFirst {
			continue
		}
		expected[k] = o.Value(m.Column)
	}

	dates := ds.Dates()
	for _, region := range ds.Regions() {
		rd, _ := ds.Region(region)
		if rd.Len() != len(dates) {
			p.errorf("region %q has %d cells, table has %d rows", region, rd.Len(), len(dates))
		}
		for _, date := range dates {
			want, hasObs := expected[[2]string{date, region}]
			got, hasValue := rd.AmountAt(date)

			switch {
			case !hasObs || want == "":
				if hasValue {
					p.errorf("%s/%s: expected empty cell, got %g", date, region, got)
				}
			case !hasValue:
				p.errorf("%s/%s: expected %s, cell is empty", date, region, want)
			default:
				v, err := strconv.ParseFloat(want, 64)
				if err != nil {
					p.errorf("%s/%s: source value %q is not numeric", date, region, want)
					continue
				}
				if !floatEq(v, got) {
					p.errorf("%s/%s: expected %s, got %g", date, region, want, got)
				}
			}
		}
	}
	return p
}

// ── Phase: reproducibility ──
// Pivoting the source again must give the same bytes as the file on disk.

func validateReproducible(m domain.Metric, path string, obs []domain.Observation, policy domain.DuplicatePolicy) *phase {
	p := &phase{name: m.Name + ": reproducible output"}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read %s: %v", path, err)
		return p
	}

	var buf bytes.Buffer
	if err := csvfile.WriteMatrix(&buf, domain.Pivot(obs, m, policy)); err != nil {
		p.errorf("re-pivot: %v", err)
		return p
	}
	if !bytes.Equal(onDisk, buf.Bytes()) {
		p.errorf("%s differs from a fresh pivot (%d bytes on disk, %d expected)", path, len(onDisk), buf.Len())
	}
	return p
}

// ── Helpers ──

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9*math.Max(1, math.Abs(a))
}
