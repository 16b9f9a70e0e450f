package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	kafkaadapter "github.com/couchcryptid/owid-pivot/internal/adapter/kafka"
	"github.com/couchcryptid/owid-pivot/internal/adapter/xlsx"
	"github.com/couchcryptid/owid-pivot/internal/config"
	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/couchcryptid/owid-pivot/internal/observability"
	"github.com/couchcryptid/owid-pivot/internal/pipeline"
	"github.com/spf13/cobra"
)

func newConvertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "convert [input.csv]",
		Short: "Run one conversion and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := a.newMetrics()
			p, closeFn := a.buildPipeline(metrics)
			defer closeFn()

			jobs, err := a.cfg.Jobs()
			if err != nil {
				return err
			}

			res, err := p.Run(ctx, a.keys(), jobs)
			if err != nil {
				return err
			}
			if a.cfg.MetricsTextfile != "" {
				if err := metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
					a.logger.Error("write metrics textfile", "path", a.cfg.MetricsTextfile, "error", err)
				}
			}

			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

// keys returns the configured region and date column positions.
func (a *app) keys() domain.Columns {
	return a.cfg.Columns(nil)
}

// buildPipeline wires the source reader, the file loader for the configured
// format, and the optional Kafka publisher. The returned func releases
// producer connections.
func (a *app) buildPipeline(metrics *observability.Metrics) (*pipeline.Pipeline, func()) {
	cfg := a.cfg
	reader := csvfile.NewReader(cfg.Input, csvfile.Options{HasHeader: cfg.HasHeader, Strict: cfg.Strict}, a.logger)

	var file pipeline.Loader = csvfile.NewWriter(a.logger)
	if cfg.Format == config.FormatXLSX {
		file = xlsx.NewWriter(a.logger)
	}
	loaders := []pipeline.Loader{file}

	closeFn := func() {}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, a.logger)
		loaders = append(loaders, writer)
		closeFn = func() {
			if err := writer.Close(); err != nil {
				a.logger.Error("kafka writer close error", "error", err)
			}
		}
		a.logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	return pipeline.New(reader, a.pivoter(), loaders, a.logger, metrics), closeFn
}

func (a *app) pivoter() *pipeline.MatrixPivoter {
	p := pipeline.NewPivoter(a.cfg.DuplicatePolicy(), a.logger)
	p.SetStrict(a.cfg.Strict)
	return p
}

func printSummary(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "read %d observations", res.Observations)
	if skipped := skippedTotal(res); skipped > 0 {
		fmt.Fprintf(w, " (%d rows skipped)", skipped)
	}
	fmt.Fprintln(w)
	for _, out := range res.Outputs {
		fmt.Fprintf(w, "  %-40s %d dates x %d regions, %d empty cells",
			out.Job.Path, out.Dates, out.Regions, out.Empty)
		if out.Omitted > 0 {
			fmt.Fprintf(w, ", %d short rows omitted", out.Omitted)
		}
		fmt.Fprintln(w)
	}
}

func skippedTotal(res pipeline.Result) int {
	n := 0
	for _, c := range res.Skipped {
		n += c
	}
	return n
}
