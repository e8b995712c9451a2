package metering

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type captureSink struct {
	mu        sync.Mutex
	published [][]UsageSummary
}

func (c *captureSink) Publish(_ context.Context, summaries []UsageSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, summaries)
	return nil
}

func TestTracker_AggregatesByModelAndOperation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := &captureSink{}
	tracker := NewTracker(db, sink, testLogger())
	ctx := context.Background()

	tracker.RecordUsage(ctx, "gpt-4o-mini", "filter", 150, 0.0001)
	tracker.RecordUsage(ctx, "gpt-4o-mini", "filter", 200, 0.0002)
	tracker.RecordUsage(ctx, "gpt-4o", "analysis", 900, 0.01)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_usage")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_usage")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, tracker.Flush(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, sink.published, 1)
	summaries := sink.published[0]
	require.Len(t, summaries, 2)

	byKey := make(map[string]UsageSummary)
	for _, s := range summaries {
		byKey[s.Model+"/"+s.Operation] = s
	}
	filter := byKey["gpt-4o-mini/filter"]
	assert.Equal(t, 2, filter.Requests)
	assert.Equal(t, 350, filter.Tokens)
	assert.InDelta(t, 0.0003, filter.Cost, 1e-9)
}

func TestTracker_EmptyFlushIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tracker := NewTracker(db, &captureSink{}, testLogger())
	require.NoError(t, tracker.Flush(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type flakyProducer struct {
	mu       sync.Mutex
	fail     bool
	produced [][]byte
}

func (f *flakyProducer) ProduceMessage(_ string, _, value []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.produced = append(f.produced, value)
	return nil
}

func TestKafkaPublisher_RetriesFailedSummaries(t *testing.T) {
	producer := &flakyProducer{fail: true}
	pub := NewKafkaPublisher(producer, "llm-usage", "pulse", testLogger())

	summaries := []UsageSummary{{Model: "gpt-4o", Operation: "analysis", Requests: 1, Tokens: 900, Cost: 0.01}}
	err := pub.Publish(context.Background(), summaries)
	assert.Error(t, err)
	assert.Equal(t, 1, pub.PendingCount())

	producer.mu.Lock()
	producer.fail = false
	producer.mu.Unlock()

	require.NoError(t, pub.Publish(context.Background(), nil))
	assert.Zero(t, pub.PendingCount())
	assert.Len(t, producer.produced, 1)
}
