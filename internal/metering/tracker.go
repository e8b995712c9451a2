package metering

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// UsageSummary is one aggregated usage bucket, keyed by model and operation.
type UsageSummary struct {
	Model       string    `json:"model"`
	Operation   string    `json:"operation"`
	Requests    int       `json:"requests"`
	Tokens      int       `json:"tokens"`
	Cost        float64   `json:"cost"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// SummarySink receives flushed usage summaries.
type SummarySink interface {
	Publish(ctx context.Context, summaries []UsageSummary) error
}

type bucketKey struct {
	model     string
	operation string
}

// Tracker accumulates per-call token usage in memory and flushes aggregated
// buckets to the token_usage table on an interval. Recording never blocks a
// pipeline stage on the database.
type Tracker struct {
	db     *sql.DB
	sink   SummarySink
	logger logrus.FieldLogger
	now    func() time.Time

	mu          sync.Mutex
	periodStart time.Time
	buckets     map[bucketKey]*UsageSummary
}

func NewTracker(db *sql.DB, sink SummarySink, logger logrus.FieldLogger) *Tracker {
	t := &Tracker{
		db:      db,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[bucketKey]*UsageSummary),
	}
	t.periodStart = t.now().UTC()
	return t
}

// RecordUsage adds one call's usage to the current period's bucket.
func (t *Tracker) RecordUsage(_ context.Context, model, operation string, tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := bucketKey{model: model, operation: operation}
	b, ok := t.buckets[key]
	if !ok {
		b = &UsageSummary{Model: model, Operation: operation}
		t.buckets[key] = b
	}
	b.Requests++
	b.Tokens += tokens
	b.Cost += cost
}

// Flush persists the accumulated buckets and hands them to the sink. An
// empty period flushes nothing.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	buckets := t.buckets
	periodStart := t.periodStart
	t.buckets = make(map[bucketKey]*UsageSummary)
	t.periodStart = t.now().UTC()
	t.mu.Unlock()

	if len(buckets) == 0 {
		return nil
	}

	periodEnd := t.now().UTC()
	summaries := make([]UsageSummary, 0, len(buckets))
	for _, b := range buckets {
		b.PeriodStart = periodStart
		b.PeriodEnd = periodEnd
		summaries = append(summaries, *b)
	}

	if err := t.insert(ctx, summaries); err != nil {
		return err
	}
	if t.sink != nil {
		if err := t.sink.Publish(ctx, summaries); err != nil {
			t.logger.WithError(err).Warn("Failed to publish usage summaries")
		}
	}
	return nil
}

func (t *Tracker) insert(ctx context.Context, summaries []UsageSummary) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flush usage: %w", err)
	}
	defer tx.Rollback()

	for _, s := range summaries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO token_usage (model, operation, requests, tokens, cost, period_start, period_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.Model, s.Operation, s.Requests, s.Tokens, s.Cost, s.PeriodStart, s.PeriodEnd)
		if err != nil {
			return fmt.Errorf("insert usage row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flush usage: %w", err)
	}
	return nil
}

// Run flushes on the given interval until the context is cancelled, with a
// final flush on shutdown.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := t.Flush(flushCtx); err != nil {
				t.logger.WithError(err).Error("Final usage flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.WithError(err).Error("Usage flush failed")
			}
		}
	}
}
