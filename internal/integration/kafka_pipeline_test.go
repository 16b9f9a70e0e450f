//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	"github.com/couchcryptid/owid-pivot/internal/adapter/kafka"
	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/couchcryptid/owid-pivot/internal/observability"
	"github.com/couchcryptid/owid-pivot/internal/pipeline"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testTopic = "test-testing-data-wide"

const longSource = "Entity,ISO code,Date,Source URL,Source label,Notes,Cumulative total,Daily change in cumulative total\n" +
	"USA,USA,2020-01-01,,,,10,10\n" +
	"CAN,CAN,2020-01-01,,,,5,5\n" +
	"USA,USA,2020-01-02,,,,20,10\n"

// publishedRow holds a deserialized message read from the wide topic.
type publishedRow struct {
	Row     kafka.RowMessage
	Key     string
	Headers map[string]string
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("owid-pivot-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// readRow reads a single message from the consumer and deserializes it.
func readRow(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedRow {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from wide topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var row kafka.RowMessage
	require.NoError(t, json.Unmarshal(msg.Value, &row), "unmarshal row message")

	return publishedRow{Row: row, Key: string(msg.Key), Headers: headers}
}

// TestPipelinePublishesRows runs the full extract-pivot-load flow with both
// the CSV file loader and the Kafka publisher and checks that each wide row
// reaches the topic.
func TestPipelinePublishesRows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	processedAt := time.Date(2020, time.January, 3, 6, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(processedAt))
	t.Cleanup(func() { domain.SetClock(nil) })

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	dir := t.TempDir()
	src := filepath.Join(dir, "covid-testing-all-observations.csv")
	require.NoError(t, os.WriteFile(src, []byte(longSource), 0o600))

	logger := observability.DiscardLogger()
	reader := csvfile.NewReader(src, csvfile.Options{HasHeader: true}, logger)
	publisher := kafka.NewWriter([]string{broker}, testTopic, logger)
	t.Cleanup(func() { _ = publisher.Close() })

	p := pipeline.New(reader, pipeline.NewPivoter(domain.DuplicatesFirst, logger),
		[]pipeline.Loader{csvfile.NewWriter(logger), publisher}, logger, observability.NewMetricsForTesting())

	metric, err := domain.LookupMetric("cumulative_total")
	require.NoError(t, err)
	job := domain.Job{Metric: metric, Path: filepath.Join(dir, metric.File)}

	_, err = p.Run(ctx, domain.DefaultColumns(), []domain.Job{job})
	require.NoError(t, err)

	got, err := os.ReadFile(job.Path)
	require.NoError(t, err)
	assert.Equal(t, "Date,CAN,USA\n2020-01-01,5,10\n2020-01-02,,20\n", string(got))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		Partition:   0,
		StartOffset: kafkago.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	first := readRow(ctx, t, consumer)
	assert.Equal(t, "cumulative_total|2020-01-01", first.Key)
	assert.Equal(t, kafka.RowMessage{
		Metric: "cumulative_total",
		Date:   "2020-01-01",
		Values: map[string]string{"CAN": "5", "USA": "10"},
	}, first.Row)
	assert.Equal(t, "cumulative_total", first.Headers["metric"])
	assert.Equal(t, processedAt.Format(time.RFC3339), first.Headers["processed_at"])

	second := readRow(ctx, t, consumer)
	assert.Equal(t, "cumulative_total|2020-01-02", second.Key)
	assert.Equal(t, map[string]string{"USA": "20"}, second.Row.Values, "empty cells are omitted")
}

// TestPipelineUnreachableBroker checks that a failed publish fails the run
// after the file output is still written.
func TestPipelineUnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir := t.TempDir()
	src := filepath.Join(dir, "covid-testing-all-observations.csv")
	require.NoError(t, os.WriteFile(src, []byte(longSource), 0o600))

	logger := observability.DiscardLogger()
	publisher := kafka.NewWriter([]string{"127.0.0.1:1"}, testTopic, logger)
	t.Cleanup(func() { _ = publisher.Close() })

	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(csvfile.NewReader(src, csvfile.Options{HasHeader: true}, logger),
		pipeline.NewPivoter(domain.DuplicatesFirst, logger),
		[]pipeline.Loader{csvfile.NewWriter(logger), publisher}, logger, metrics)

	metric, err := domain.LookupMetric("cumulative_total")
	require.NoError(t, err)
	job := domain.Job{Metric: metric, Path: filepath.Join(dir, metric.File)}

	_, err = p.Run(ctx, domain.DefaultColumns(), []domain.Job{job})
	require.Error(t, err)
	assert.FileExists(t, job.Path)
	assert.Error(t, p.CheckReadiness(ctx))
}
