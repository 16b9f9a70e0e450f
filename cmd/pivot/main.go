// Command pivot converts the OWID long-format COVID-19 testing CSV into wide
// Date × Region tables, one per metric.
//
// Usage:
//
//	pivot convert [input.csv] [--metrics cumulative_total,daily_change] [--format xlsx]
//	pivot serve
//	pivot metrics
//
// Settings come from the environment (and a .env file when present); flags
// override them.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/owid-pivot/internal/config"
	"github.com/couchcryptid/owid-pivot/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// flagValues holds command-line overrides for environment settings.
type flagValues struct {
	input      string
	outputDir  string
	format     string
	metrics    []string
	jobsFile   string
	strict     bool
	noHeader   bool
	duplicates string
	logLevel   string
	logFormat  string
	httpAddr   string
}

// app is the state shared by every subcommand once configuration is loaded.
type app struct {
	flags      flagValues
	cfg        *config.Config
	logger     *slog.Logger
	newMetrics func() *observability.Metrics
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{newMetrics: observability.NewMetrics})
}

func newRootCmdFor(a *app) *cobra.Command {

	root := &cobra.Command{
		Use:           "pivot",
		Short:         "Pivot OWID long-format testing data into wide Date x Region tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.flags.input = args[0]
			}
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.input, "input", "", "long-format source CSV (PIVOT_INPUT)")
	pf.StringVar(&a.flags.outputDir, "output-dir", "", "directory for wide outputs (PIVOT_OUTPUT_DIR)")
	pf.StringVar(&a.flags.format, "format", "", "output format: csv or xlsx (PIVOT_FORMAT)")
	pf.StringSliceVar(&a.flags.metrics, "metrics", nil, "metrics to pivot (PIVOT_METRICS)")
	pf.StringVar(&a.flags.jobsFile, "jobs", "", "YAML jobs file (PIVOT_JOBS_FILE)")
	pf.BoolVar(&a.flags.strict, "strict", false, "abort on malformed rows (PIVOT_STRICT)")
	pf.BoolVar(&a.flags.noHeader, "no-header", false, "treat the first line as data (PIVOT_HAS_HEADER=false)")
	pf.StringVar(&a.flags.duplicates, "duplicates", "", "duplicate policy: first or last (PIVOT_DUPLICATES)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: json or text (LOG_FORMAT)")

	root.AddCommand(newConvertCmd(a), newServeCmd(a), newMetricsCmd())
	return root
}

// setup loads .env, the environment config, and applies flag overrides.
func (a *app) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := a.applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if a.flags.input != "" {
		cfg.Input = a.flags.input
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = a.flags.outputDir
	}
	if flags.Changed("format") {
		cfg.Format = strings.ToLower(a.flags.format)
	}
	if flags.Changed("metrics") {
		cfg.Metrics = a.flags.metrics
		cfg.Outputs = nil
	}
	if flags.Changed("jobs") {
		if err := cfg.LoadJobsFile(a.flags.jobsFile); err != nil {
			return err
		}
	}
	if flags.Changed("strict") {
		cfg.Strict = a.flags.strict
	}
	if flags.Changed("no-header") {
		cfg.HasHeader = !a.flags.noHeader
	}
	if flags.Changed("duplicates") {
		cfg.Duplicates = a.flags.duplicates
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
	if flags.Lookup("http-addr") != nil && flags.Changed("http-addr") {
		cfg.HTTPAddr = a.flags.httpAddr
	}
	return nil
}
