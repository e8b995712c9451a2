package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// ErrBaselineNotFound is returned when a channel has no baseline yet.
var ErrBaselineNotFound = errors.New("baseline: not found")

// Store persists channel baselines. Each write fully replaces the channel's
// record; there is no incremental update path.
type Store interface {
	Upsert(ctx context.Context, b models.ChannelBaseline) error
	Get(ctx context.Context, channelID int64) (*models.ChannelBaseline, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	MarkOutdated(ctx context.Context, now time.Time) (int64, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Upsert(ctx context.Context, b models.ChannelBaseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_baselines (
			channel_id, posts_analyzed,
			mean, median, std_dev, p75, p95, max,
			status, calculation_period_days, min_posts_for_baseline,
			last_calculated, next_calculation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (channel_id) DO UPDATE SET
			posts_analyzed = EXCLUDED.posts_analyzed,
			mean = EXCLUDED.mean,
			median = EXCLUDED.median,
			std_dev = EXCLUDED.std_dev,
			p75 = EXCLUDED.p75,
			p95 = EXCLUDED.p95,
			max = EXCLUDED.max,
			status = EXCLUDED.status,
			calculation_period_days = EXCLUDED.calculation_period_days,
			min_posts_for_baseline = EXCLUDED.min_posts_for_baseline,
			last_calculated = EXCLUDED.last_calculated,
			next_calculation = EXCLUDED.next_calculation
	`, b.ChannelID, b.PostsAnalyzed,
		b.Mean, b.Median, b.StdDev, b.P75, b.P95, b.Max,
		b.Status, b.CalculationPeriodDays, b.MinPostsForBaseline,
		b.LastCalculated, b.NextCalculation)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, channelID int64) (*models.ChannelBaseline, error) {
	var b models.ChannelBaseline
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, posts_analyzed,
			mean, median, std_dev, p75, p95, max,
			status, calculation_period_days, min_posts_for_baseline,
			last_calculated, next_calculation
		FROM channel_baselines
		WHERE channel_id = $1
	`, channelID).Scan(
		&b.ChannelID, &b.PostsAnalyzed,
		&b.Mean, &b.Median, &b.StdDev, &b.P75, &b.P95, &b.Max,
		&b.Status, &b.CalculationPeriodDays, &b.MinPostsForBaseline,
		&b.LastCalculated, &b.NextCalculation,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBaselineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return &b, nil
}

// ListDue returns channels whose next_calculation deadline has passed,
// most overdue first.
func (s *SQLStore) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id
		FROM channel_baselines
		WHERE next_calculation <= $1
		ORDER BY next_calculation ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due baselines: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due baseline: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due baselines: %w", err)
	}
	return ids, nil
}

// MarkOutdated flips ready baselines past their deadline to outdated so
// consumers stop trusting stale stats even before the sweep recalculates.
func (s *SQLStore) MarkOutdated(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_baselines
		SET status = $1
		WHERE status = $2 AND next_calculation <= $3
	`, models.BaselineOutdated, models.BaselineReady, now)
	if err != nil {
		return 0, fmt.Errorf("mark outdated baselines: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark outdated baselines: %w", err)
	}
	return n, nil
}
