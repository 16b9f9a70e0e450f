// Command genmock writes a deterministic synthetic OWID long-format testing
// CSV. The fixture exercises the converter's edge cases: regions with gaps,
// duplicate (date, region) observations, and rows with unparseable dates.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out testdata/covid-testing-all-observations.csv \
//	  -regions 8 -days 60 -gap-rate 0.15 -duplicates 3 -invalid 2
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	"github.com/couchcryptid/owid-pivot/internal/domain"
)

// header is the OWID testing dataset header, in source column order.
var header = []string{
	"Entity", "ISO code", "Date", "Source URL", "Source label", "Notes",
	"Cumulative total", "Daily change in cumulative total",
	"Cumulative total per thousand", "Daily change in cumulative total per thousand",
	"3-day rolling mean daily change", "3-day rolling mean daily change per thousand",
	"7-day rolling mean daily change", "7-day rolling mean daily change per thousand",
}

type region struct {
	entity     string
	iso        string
	population float64 // thousands
}

var regions = []region{
	{"Argentina - tests performed", "ARG", 45196},
	{"Australia - tests performed", "AUS", 25500},
	{"Canada - tests performed", "CAN", 37742},
	{"Germany - tests performed", "DEU", 83784},
	{"India - samples tested", "IND", 1380004},
	{"Italy - tests performed", "ITA", 60462},
	{"Japan - people tested", "JPN", 126476},
	{"Kenya - samples tested", "KEN", 53771},
	{"Mexico - people tested", "MEX", 128933},
	{"South Korea - tests performed", "KOR", 51269},
	{"United Kingdom - tests performed", "GBR", 67886},
	{"United States - inconsistent units (COVID Tracking Project)", "USA", 331003},
}

// options controls fixture shape.
type options struct {
	regions    int
	days       int
	start      time.Time
	seed       uint64
	gapRate    float64
	duplicates int
	invalid    int
}

// stats summarizes what generate emitted.
type stats struct {
	rows       int
	gaps       int
	duplicates int
	invalid    int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the long-format CSV fixture")
	n := flag.Int("regions", 6, "number of regions (max 12)")
	days := flag.Int("days", 30, "number of consecutive days")
	start := flag.String("start", "2020-03-01", "first date, YYYY-MM-DD")
	seed := flag.Uint64("seed", 1, "random seed")
	gapRate := flag.Float64("gap-rate", 0.1, "probability that a region skips a day")
	dups := flag.Int("duplicates", 2, "number of duplicate (date, region) rows to append")
	invalid := flag.Int("invalid", 1, "number of rows with a non YYYY-MM-DD date")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	startDate, err := time.Parse(domain.DateLayout, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	opts := options{
		regions:    *n,
		days:       *days,
		start:      startDate,
		seed:       *seed,
		gapRate:    *gapRate,
		duplicates: *dups,
		invalid:    *invalid,
	}
	if err := opts.validate(); err != nil {
		return err
	}

	var st stats
	err = csvfile.WriteFileAtomic(*out, func(w io.Writer) error {
		var genErr error
		st, genErr = generate(w, opts)
		return genErr
	})
	if err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}

	log.Printf("wrote %s: %d rows (%d gaps, %d duplicates, %d invalid dates)",
		*out, st.rows, st.gaps, st.duplicates, st.invalid)
	return nil
}

func (o options) validate() error {
	switch {
	case o.regions < 1 || o.regions > len(regions):
		return fmt.Errorf("-regions must be between 1 and %d", len(regions))
	case o.days < 1:
		return fmt.Errorf("-days must be positive")
	case o.gapRate < 0 || o.gapRate >= 1:
		return fmt.Errorf("-gap-rate must be in [0, 1)")
	case o.duplicates < 0 || o.invalid < 0:
		return fmt.Errorf("-duplicates and -invalid must not be negative")
	}
	return nil
}

// generate writes the header and all observation rows to w. Rows are grouped
// by region and ordered by date within a region, as in the upstream file.
func generate(w io.Writer, o options) (stats, error) {
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	cw := csv.NewWriter(w)
	var st stats

	if err := cw.Write(header); err != nil {
		return st, err
	}

	var emitted [][]string
	for _, r := range regions[:o.regions] {
		var cumulative float64
		var window []float64
		base := 50 + rng.Float64()*r.population/20

		for d := range o.days {
			daily := math.Round(base * (1 + float64(d)/10) * (0.8 + rng.Float64()*0.4))
			cumulative += daily
			window = append(window, daily)

			// Gaps skip the row but not the tests: the next cumulative
			// value still includes them.
			if d > 0 && rng.Float64() < o.gapRate {
				st.gaps++
				continue
			}

			row := observationRow(r, o.start.AddDate(0, 0, d).Format(domain.DateLayout), cumulative, window)
			if err := cw.Write(row); err != nil {
				return st, err
			}
			emitted = append(emitted, row)
			st.rows++
		}
	}

	// Duplicates repeat an existing (date, region) with a different total so
	// first-wins and last-wins produce different tables.
	for i := 0; i < o.duplicates && len(emitted) > 0; i++ {
		dup := append([]string(nil), emitted[rng.IntN(len(emitted))]...)
		dup[5] = "duplicate"
		dup[6] = strconv.Itoa(999000 + i)
		if err := cw.Write(dup); err != nil {
			return st, err
		}
		st.duplicates++
		st.rows++
	}

	for i := range o.invalid {
		r := regions[i%o.regions]
		d := o.start.AddDate(0, 0, i)
		row := observationRow(r, d.Format("2006/01/02"), 1, []float64{1})
		if err := cw.Write(row); err != nil {
			return st, err
		}
		st.invalid++
		st.rows++
	}

	cw.Flush()
	return st, cw.Error()
}

func observationRow(r region, date string, cumulative float64, window []float64) []string {
	daily := window[len(window)-1]
	perK := func(v float64) string { return formatFloat(math.Round(v/r.population*1000) / 1000) }
	mean3, mean7 := rollingMean(window, 3), rollingMean(window, 7)

	return []string{
		r.entity,
		r.iso,
		date,
		"https://example.org/" + r.iso,
		"Synthetic " + r.iso + " health ministry",
		"",
		formatFloat(cumulative),
		formatFloat(daily),
		perK(cumulative),
		perK(daily),
		formatFloat(mean3),
		perK(mean3),
		formatFloat(mean7),
		perK(mean7),
	}
}

// rollingMean averages the trailing n values; it is empty until n are available.
func rollingMean(window []float64, n int) float64 {
	if len(window) < n {
		return math.NaN()
	}
	var sum float64
	for _, v := range window[len(window)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
