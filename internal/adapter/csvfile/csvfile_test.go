package csvfile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/couchcryptid/owid-pivot/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owidHeader = "Entity,ISO code,Date,Source URL,Source label,Notes,Cumulative total,Daily change in cumulative total,Cumulative total per thousand,Daily change in cumulative total per thousand,3-day rolling mean daily change,3-day rolling mean daily change per thousand,7-day rolling mean daily change,7-day rolling mean daily change per thousand\n"

// workedExample is the three-observation source used throughout the package docs.
const workedExample = owidHeader +
	"USA,USA,2020-01-01,,,,10,,,,,,,\n" +
	"CAN,CAN,2020-01-01,,,,5,,,,,,,\n" +
	"USA,USA,2020-01-02,,,,20,,,,,,,\n"

var cumulativeTotal = domain.Metric{Name: "cumulative_total", Column: 6, File: "cumulative_total_tests.csv"}

func writeSource(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "covid-testing-all-observations.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func read(t *testing.T, body string, opts Options) (domain.Scan, error) {
	t.Helper()
	return ReadObservations(context.Background(), strings.NewReader(body), domain.DefaultColumns(6), opts, observability.DiscardLogger())
}

func TestReader_WorkedExampleEndToEnd(t *testing.T) {
	path := writeSource(t, workedExample)
	r := NewReader(path, Options{HasHeader: true}, observability.DiscardLogger())

	scan, err := r.Extract(context.Background(), domain.DefaultColumns(6))
	require.NoError(t, err)
	require.Len(t, scan.Observations, 3)
	assert.Zero(t, scan.TotalSkipped())

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(&buf, domain.Pivot(scan.Observations, cumulativeTotal, domain.DuplicatesFirst)))
	assert.Equal(t, "Date,CAN,USA\n2020-01-01,5,10\n2020-01-02,,20\n", buf.String())
}

func TestReader_MissingSource(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "nope.csv"), Options{HasHeader: true}, observability.DiscardLogger())
	_, err := r.Extract(context.Background(), domain.DefaultColumns(6))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadObservations_InvalidDateExcluded(t *testing.T) {
	body := owidHeader +
		"USA,USA,2020-01-01,,,,10,,,,,,,\n" +
		"USA,USA,2020-1-1,,,,99,,,,,,,\n" +
		"MEX,MEX,2020-1-2,,,,7,,,,,,,\n"

	scan, err := read(t, body, Options{HasHeader: true})
	require.NoError(t, err)

	dates, regions := domain.KeySets(scan.Observations)
	assert.Equal(t, []string{"2020-01-01"}, dates)
	assert.Equal(t, []string{"USA"}, regions)
	assert.Equal(t, 2, scan.Skipped[domain.SkipInvalidDate])
}

func TestReadObservations_MalformedRow(t *testing.T) {
	body := owidHeader +
		"USA,USA,2020-01-01,,,,10,,,,,,,\n" +
		"CAN,CAN,2020-01-01\n" +
		"CAN,CAN,2020-01-02,,,,5,,,,,,,\n"

	t.Run("skipped and counted", func(t *testing.T) {
		scan, err := read(t, body, Options{HasHeader: true})
		require.NoError(t, err)
		assert.Len(t, scan.Observations, 2)
		assert.Equal(t, 1, scan.Skipped[domain.SkipMalformed])
	})

	t.Run("strict aborts", func(t *testing.T) {
		_, err := read(t, body, Options{HasHeader: true, Strict: true})
		var malformed *domain.MalformedRowError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, 3, malformed.Line)
		assert.Equal(t, 3, malformed.Fields)
	})
}

func TestReadObservations_BadQuoting(t *testing.T) {
	body := owidHeader +
		"USA,USA,2020-01-01,,,,10,,,,,,,\n" +
		"\"CAN\"x,CAN,2020-01-02,,,,5,,,,,,,\n" +
		"MEX,MEX,2020-01-02,,,,3,,,,,,,\n"

	scan, err := read(t, body, Options{HasHeader: true})
	require.NoError(t, err)
	assert.Len(t, scan.Observations, 2)
	assert.Equal(t, 1, scan.Skipped[domain.SkipMalformed])

	_, err = read(t, body, Options{HasHeader: true, Strict: true})
	var malformed *domain.MalformedRowError
	assert.ErrorAs(t, err, &malformed)
}

func TestReadObservations_HeaderHandling(t *testing.T) {
	t.Run("header skipped unconditionally", func(t *testing.T) {
		body := "USA,USA,2020-01-01,,,,10,,,,,,,\nCAN,CAN,2020-01-01,,,,5,,,,,,,\n"
		scan, err := read(t, body, Options{HasHeader: true})
		require.NoError(t, err)
		require.Len(t, scan.Observations, 1)
		assert.Equal(t, "CAN", scan.Observations[0].Region)
	})

	t.Run("no header keeps first row", func(t *testing.T) {
		body := "USA,USA,2020-01-01,,,,10,,,,,,,\n"
		scan, err := read(t, body, Options{})
		require.NoError(t, err)
		require.Len(t, scan.Observations, 1)
		assert.Equal(t, 1, scan.Observations[0].Line)
	})

	t.Run("header without skip is filtered by date", func(t *testing.T) {
		scan, err := read(t, workedExample, Options{})
		require.NoError(t, err)
		assert.Len(t, scan.Observations, 3)
		assert.Equal(t, 1, scan.Skipped[domain.SkipInvalidDate])
	})

	t.Run("byte order mark stripped", func(t *testing.T) {
		body := "\ufeffUSA,USA,2020-01-01,,,,10,,,,,,,\n"
		scan, err := read(t, body, Options{})
		require.NoError(t, err)
		require.Len(t, scan.Observations, 1)
		assert.Equal(t, "USA", scan.Observations[0].Region)
	})
}

func TestReadObservations_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadObservations(ctx, strings.NewReader(workedExample), domain.DefaultColumns(6), Options{HasHeader: true}, observability.DiscardLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteMatrix_QuotesFields(t *testing.T) {
	m := domain.Matrix{
		Dates:   []string{"2020-01-01"},
		Regions: []string{"Korea, South", `The "Island"`},
		Cells:   [][]string{{"1", ""}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(&buf, m))
	assert.Equal(t, "Date,\"Korea, South\",\"The \"\"Island\"\"\"\n2020-01-01,1,\n", buf.String())
}

func TestWriter_Load(t *testing.T) {
	dir := t.TempDir()
	job := domain.Job{Metric: cumulativeTotal, Path: filepath.Join(dir, "nested", "cumulative_total_tests.csv")}

	scan, err := read(t, workedExample, Options{HasHeader: true})
	require.NoError(t, err)
	m := domain.Pivot(scan.Observations, cumulativeTotal, domain.DuplicatesFirst)

	w := NewWriter(observability.DiscardLogger())
	assert.Equal(t, "csv", w.Format())
	require.NoError(t, w.Load(context.Background(), job, m))
	first, err := os.ReadFile(job.Path)
	require.NoError(t, err)

	require.NoError(t, w.Load(context.Background(), job, m))
	second, err := os.ReadFile(job.Path)
	require.NoError(t, err)

	assert.Equal(t, "Date,CAN,USA\n2020-01-01,5,10\n2020-01-02,,20\n", string(first))
	assert.Equal(t, first, second, "rerun must be byte-identical")

	entries, err := os.ReadDir(filepath.Dir(job.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFileAtomic_FailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o600))

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("disk full")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriter_LoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "out.csv")
	err := NewWriter(observability.DiscardLogger()).Load(ctx, domain.Job{Path: path}, domain.Matrix{})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
