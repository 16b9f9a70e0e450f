package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// RowMessage is the JSON value published for one wide-format row. Empty
// cells are omitted from Values.
type RowMessage struct {
	Metric string            `json:"metric"`
	Date   string            `json:"date"`
	Values map[string]string `json:"values"`
}

// Writer publishes each wide-format row to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the given brokers and topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Format names the output format for metrics and logs.
func (w *Writer) Format() string { return "kafka" }

// Load publishes every row of m in a single WriteMessages call. Rows are
// keyed by metric and date so replays of the same run land on the same
// partition.
func (w *Writer) Load(ctx context.Context, job domain.Job, m domain.Matrix) error {
	msgs, err := rowMessages(m)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s rows: %w", m.Metric.Name, err)
	}
	w.logger.Debug("rows published", "topic", w.writer.Topic, "metric", m.Metric.Name, "rows", len(msgs), "path", job.Path)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func rowMessages(m domain.Matrix) ([]kafkago.Message, error) {
	msgs := make([]kafkago.Message, 0, len(m.Dates))
	for i, date := range m.Dates {
		msg, err := serializeRow(m, i, date)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// serializeRow marshals row i of m into a Kafka message.
func serializeRow(m domain.Matrix, i int, date string) (kafkago.Message, error) {
	values := make(map[string]string, len(m.Regions))
	for j, region := range m.Regions {
		if v := m.Cells[i][j]; v != "" {
			values[region] = v
		}
	}

	data, err := json.Marshal(RowMessage{Metric: m.Metric.Name, Date: date, Values: values})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row %s: %w", date, err)
	}
	return kafkago.Message{
		Key:   []byte(m.Metric.Name + "|" + date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "metric", Value: []byte(m.Metric.Name)},
			{Key: "processed_at", Value: []byte(m.GeneratedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
